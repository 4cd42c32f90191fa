// Package http exposes the REST and websocket surface of the service.
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"quizlab-service/internal/app"
	"quizlab-service/internal/auth"
	"quizlab-service/internal/domain"
)

// Handler wires the application services to HTTP routes. Every route except
// /healthz and token issuance requires a bearer token; the token's subject is
// upserted into the user store on each request so identities exist before
// their first explicit action.
type Handler struct {
	labs      *app.LabService
	sessions  *app.SessionService
	answers   *app.AnswerService
	analytics *app.AnalyticsService
	monitor   *MonitorHandler
	users     app.UserStore
	tokens    *auth.Tokens
}

func NewHandler(
	labs *app.LabService,
	sessions *app.SessionService,
	answers *app.AnswerService,
	analytics *app.AnalyticsService,
	monitor *MonitorHandler,
	users app.UserStore,
	tokens *auth.Tokens,
) *Handler {
	return &Handler{
		labs:      labs,
		sessions:  sessions,
		answers:   answers,
		analytics: analytics,
		monitor:   monitor,
		users:     users,
		tokens:    tokens,
	}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /api/auth/token", h.issueToken)

	mux.HandleFunc("POST /api/labs", h.withIdentity(h.createLab))
	mux.HandleFunc("GET /api/labs", h.withIdentity(h.listLabs))
	mux.HandleFunc("GET /api/labs/{labID}", h.withIdentity(h.getLab))
	mux.HandleFunc("PUT /api/labs/{labID}", h.withIdentity(h.updateLab))
	mux.HandleFunc("POST /api/labs/{labID}/publish", h.withIdentity(h.publishLab))
	mux.HandleFunc("POST /api/labs/{labID}/close", h.withIdentity(h.closeLab))
	mux.HandleFunc("POST /api/labs/{labID}/questions", h.withIdentity(h.addQuestion))
	mux.HandleFunc("PUT /api/labs/{labID}/questions/order", h.withIdentity(h.reorderQuestions))
	mux.HandleFunc("PUT /api/options/{optionID}", h.withIdentity(h.updateOption))
	mux.HandleFunc("GET /api/labs/{labID}/generation", h.withIdentity(h.generationStatus))

	mux.HandleFunc("GET /api/labs/{labID}/sessions", h.withIdentity(h.listLabSessions))
	if h.monitor != nil {
		mux.HandleFunc("GET /api/labs/{labID}/monitor", h.withIdentity(h.monitor.Serve))
	}

	mux.HandleFunc("GET /api/labs/{labID}/analytics/summary", h.withIdentity(h.analyticsSummary))
	mux.HandleFunc("GET /api/labs/{labID}/analytics/status-distribution", h.withIdentity(h.analyticsStatuses))
	mux.HandleFunc("GET /api/labs/{labID}/analytics/activity", h.withIdentity(h.analyticsActivity))
	mux.HandleFunc("GET /api/labs/{labID}/analytics/score-histogram", h.withIdentity(h.analyticsHistogram))
	mux.HandleFunc("GET /api/labs/{labID}/analytics/hardest-questions", h.withIdentity(h.analyticsHardest))
	mux.HandleFunc("GET /api/labs/{labID}/analytics/time-per-question", h.withIdentity(h.analyticsTiming))

	mux.HandleFunc("POST /api/codes/resolve", h.withIdentity(h.resolveCode))
	mux.HandleFunc("POST /api/sessions", h.withIdentity(h.startSession))
	mux.HandleFunc("GET /api/sessions/{sessionID}", h.withIdentity(h.sessionBundle))
	mux.HandleFunc("POST /api/sessions/{sessionID}/advance", h.withIdentity(h.advanceSession))
	mux.HandleFunc("POST /api/sessions/{sessionID}/answers", h.withIdentity(h.saveAnswer))
	mux.HandleFunc("POST /api/sessions/{sessionID}/answers/batch", h.withIdentity(h.saveAnswersBatch))
	mux.HandleFunc("POST /api/sessions/{sessionID}/submit", h.withIdentity(h.submitSession))
	mux.HandleFunc("GET /api/sessions/{sessionID}/results", h.withIdentity(h.sessionResults))
}

type identityHandler func(w http.ResponseWriter, r *http.Request, caller domain.Identity)

// withIdentity resolves the bearer token to a user before the route runs.
func (h *Handler) withIdentity(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		if raw == "" || h.tokens == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		claims, err := h.tokens.Parse(raw)
		if err != nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		user, err := h.users.UpsertUserBySubject(r.Context(), domain.User{
			Name:    claims.Name,
			Email:   claims.Email,
			Subject: claims.Subject,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, domain.Identity{UserID: user.ID})
	}
}

type tokenRequest struct {
	Subject string `json:"subject"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

// issueToken mints a development bearer token for the given subject. In front
// of a real identity provider this route is disabled and tokens arrive signed
// by the provider instead.
func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Subject) == "" {
		writeError(w, domain.ErrValidation)
		return
	}
	token, err := h.tokens.Issue(req.Subject, req.Name, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// --- labs ---

func (h *Handler) createLab(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var args app.CreateLabArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	lab, err := h.labs.CreateLab(r.Context(), args, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lab)
}

func (h *Handler) listLabs(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	labs, err := h.labs.ListLabsByCreator(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, labs)
}

func (h *Handler) getLab(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	out, err := h.labs.GetLabWithQuestions(r.Context(), r.PathValue("labID"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) updateLab(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var args app.UpdateLabSettingsArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	lab, err := h.labs.UpdateLabSettings(r.Context(), r.PathValue("labID"), args, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lab)
}

func (h *Handler) publishLab(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	lab, err := h.labs.PublishLab(r.Context(), r.PathValue("labID"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lab)
}

func (h *Handler) closeLab(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	lab, err := h.labs.CloseLab(r.Context(), r.PathValue("labID"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lab)
}

type addQuestionRequest struct {
	Text        string          `json:"questionText"`
	Explanation string          `json:"explanation"`
	Options     []app.NewOption `json:"options"`
}

func (h *Handler) addQuestion(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var req addQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	question, err := h.labs.AddQuestion(r.Context(), r.PathValue("labID"), req.Text, req.Explanation, req.Options, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

type reorderRequest struct {
	OrderedIDs []string `json:"orderedIds"`
}

func (h *Handler) reorderQuestions(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	if err := h.labs.ReorderQuestions(r.Context(), r.PathValue("labID"), req.OrderedIDs, caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateOptionRequest struct {
	Text      string `json:"optionText"`
	IsCorrect bool   `json:"isCorrect"`
}

func (h *Handler) updateOption(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var req updateOptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	option, err := h.labs.UpdateOption(r.Context(), r.PathValue("optionID"), req.Text, req.IsCorrect, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, option)
}

func (h *Handler) generationStatus(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	task, ok, err := h.labs.GenerationStatus(r.Context(), r.PathValue("labID"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- monitoring & analytics ---

func (h *Handler) listLabSessions(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var statuses []domain.SessionStatus
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, domain.SessionStatus(s))
	}
	rows, err := h.monitor.service.ListSessions(r.Context(), r.PathValue("labID"), statuses, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) analyticsSummary(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	summary, err := h.analytics.SummaryByLab(r.Context(), r.PathValue("labID"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) analyticsStatuses(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	dist, err := h.analytics.StatusDistribution(r.Context(), r.PathValue("labID"), queryInt(r, "days"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (h *Handler) analyticsActivity(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	points, err := h.analytics.ActivityTimeseries(r.Context(), r.PathValue("labID"), queryInt(r, "days"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) analyticsHistogram(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	hist, err := h.analytics.ScoreHistogram(r.Context(), r.PathValue("labID"), queryInt(r, "bucketSize"), queryInt(r, "days"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *Handler) analyticsHardest(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	out, err := h.analytics.HardestQuestions(r.Context(), r.PathValue("labID"), queryInt(r, "limit"), queryInt(r, "days"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) analyticsTiming(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	out, err := h.analytics.TimePerQuestion(r.Context(), r.PathValue("labID"), queryInt(r, "limit"), queryInt(r, "days"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- participant flow ---

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) resolveCode(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	preview, err := h.sessions.ResolveAccessCode(r.Context(), req.Code, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	result, err := h.sessions.StartOrResume(r.Context(), req.Code, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) sessionBundle(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	bundle, err := h.sessions.SessionBundle(r.Context(), r.PathValue("sessionID"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

type advanceRequest struct {
	Order int `json:"currentQuestionOrder"`
}

func (h *Handler) advanceSession(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	if err := h.sessions.Advance(r.Context(), r.PathValue("sessionID"), req.Order, caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) saveAnswer(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var req app.AnswerSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	if err := h.answers.SaveAnswer(r.Context(), r.PathValue("sessionID"), req.QuestionID, req.OptionID, caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	Answers []app.AnswerSubmission `json:"answers"`
}

func (h *Handler) saveAnswersBatch(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return
	}
	result, err := h.answers.SaveAnswersBatch(r.Context(), r.PathValue("sessionID"), req.Answers, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) submitSession(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	result, err := h.sessions.Submit(r.Context(), r.PathValue("sessionID"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) sessionResults(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	bundle, err := h.sessions.ResultBundle(r.Context(), r.PathValue("sessionID"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// --- helpers ---

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	if retryAfter, ok := domain.IsRateLimited(err); ok {
		seconds := int(retryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidCode):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrPeriodEnded),
		errors.Is(err, domain.ErrAttemptsExhausted):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBatchTooLarge):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
