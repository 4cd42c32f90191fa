package app

import (
	"context"
	"math"
	"sort"

	"quizlab-service/internal/domain"
)

// SessionBundle is everything a participant needs to render an in-progress
// attempt: the lab header, the session, ordered questions with their ordered
// options (correctness withheld), and the answers recorded so far.
type SessionBundle struct {
	Lab struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		EndTime     int64  `json:"endTime,omitempty"`
		MaxAttempts int    `json:"maxAttempts"`
	} `json:"lab"`
	Session   domain.Session   `json:"session"`
	Questions []BundleQuestion `json:"questions"`
	// Answers maps questionID -> selectedOptionID.
	Answers map[string]string `json:"answers"`
}

// BundleQuestion deliberately omits option correctness and explanations.
type BundleQuestion struct {
	ID      string         `json:"id"`
	Order   int            `json:"questionOrder"`
	Text    string         `json:"questionText"`
	Options []BundleOption `json:"options"`
}

type BundleOption struct {
	ID    string `json:"id"`
	Order int    `json:"optionOrder"`
	Text  string `json:"optionText"`
}

// ResultBundle is the reviewed outcome of an attempt, readable by the
// participant and by the lab owner.
type ResultBundle struct {
	Lab struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"lab"`
	Session domain.Session `json:"session"`
	Metrics ResultMetrics  `json:"metrics"`
	Items   []ResultItem   `json:"items"`
}

type ResultMetrics struct {
	Score          int     `json:"score"`
	CorrectAnswers int     `json:"correctAnswers"`
	TotalQuestions int     `json:"totalQuestions"`
	Accuracy       float64 `json:"accuracy"`
	DurationMs     int64   `json:"durationMs"`
}

type ResultItem struct {
	Question struct {
		ID          string `json:"id"`
		Text        string `json:"questionText"`
		Order       int    `json:"questionOrder"`
		Explanation string `json:"explanation,omitempty"`
	} `json:"question"`
	SelectedOption *domain.Option `json:"selectedOption,omitempty"`
	IsCorrect      bool           `json:"isCorrect"`
}

// SessionBundle assembles the attempt view for its participant.
func (s *SessionService) SessionBundle(ctx context.Context, sessionID string, caller domain.Identity) (SessionBundle, error) {
	if caller.UserID == "" {
		return SessionBundle{}, domain.ErrUnauthorized
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return SessionBundle{}, err
	}
	if session.UserID != caller.UserID {
		return SessionBundle{}, domain.ErrForbidden
	}
	lab, err := s.labs.GetLab(ctx, session.LabID)
	if err != nil {
		return SessionBundle{}, err
	}

	questions, err := s.labs.ListQuestionsByLab(ctx, session.LabID)
	if err != nil {
		return SessionBundle{}, err
	}
	bundle := SessionBundle{
		Session:   session,
		Questions: make([]BundleQuestion, 0, len(questions)),
		Answers:   make(map[string]string),
	}
	bundle.Lab.ID = lab.ID
	bundle.Lab.Name = lab.Name
	bundle.Lab.EndTime = lab.EndTime
	bundle.Lab.MaxAttempts = lab.MaxAttempts

	for _, q := range questions {
		opts, err := s.labs.ListOptionsByQuestion(ctx, q.ID)
		if err != nil {
			return SessionBundle{}, err
		}
		bq := BundleQuestion{ID: q.ID, Order: q.Order, Text: q.Text}
		for _, o := range opts {
			bq.Options = append(bq.Options, BundleOption{ID: o.ID, Order: o.Order, Text: o.Text})
		}
		bundle.Questions = append(bundle.Questions, bq)
	}

	answers, err := s.answers.ListAnswersBySession(ctx, sessionID)
	if err != nil {
		return SessionBundle{}, err
	}
	for _, a := range answers {
		bundle.Answers[a.QuestionID] = a.SelectedOptionID
	}
	return bundle, nil
}

// ResultBundle assembles the per-question review of an attempt. Readable by
// the participant who owns the session or the lab's creator.
func (s *SessionService) ResultBundle(ctx context.Context, sessionID string, caller domain.Identity) (ResultBundle, error) {
	if caller.UserID == "" {
		return ResultBundle{}, domain.ErrUnauthorized
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return ResultBundle{}, err
	}
	lab, err := s.labs.GetLab(ctx, session.LabID)
	if err != nil {
		return ResultBundle{}, err
	}
	if session.UserID != caller.UserID && lab.CreatorID != caller.UserID {
		return ResultBundle{}, domain.ErrForbidden
	}

	questions, err := s.labs.ListQuestionsByLab(ctx, session.LabID)
	if err != nil {
		return ResultBundle{}, err
	}
	answers, err := s.answers.ListAnswersBySession(ctx, sessionID)
	if err != nil {
		return ResultBundle{}, err
	}
	byQuestion := make(map[string]domain.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	var bundle ResultBundle
	bundle.Lab.ID = lab.ID
	bundle.Lab.Name = lab.Name
	bundle.Session = session

	correct := 0
	for _, q := range questions {
		item := ResultItem{}
		item.Question.ID = q.ID
		item.Question.Text = q.Text
		item.Question.Order = q.Order
		item.Question.Explanation = q.Explanation
		if a, ok := byQuestion[q.ID]; ok {
			item.IsCorrect = a.IsCorrect
			opts, err := s.labs.ListOptionsByQuestion(ctx, q.ID)
			if err != nil {
				return ResultBundle{}, err
			}
			for i := range opts {
				if opts[i].ID == a.SelectedOptionID {
					item.SelectedOption = &opts[i]
					break
				}
			}
		}
		if item.IsCorrect {
			correct++
		}
		bundle.Items = append(bundle.Items, item)
	}
	sort.Slice(bundle.Items, func(i, j int) bool {
		return bundle.Items[i].Question.Order < bundle.Items[j].Question.Order
	})

	total := session.TotalQuestions
	if total == 0 {
		total = len(questions)
	}
	score := 0
	accuracy := 0.0
	if total > 0 {
		score = int(math.Round(float64(correct) / float64(total) * 100))
		accuracy = float64(correct) / float64(total)
	}
	endedAt := session.CompletedAt
	if endedAt == 0 {
		endedAt = domain.NowMillis(s.now())
	}
	bundle.Metrics = ResultMetrics{
		Score:          score,
		CorrectAnswers: correct,
		TotalQuestions: total,
		Accuracy:       accuracy,
		DurationMs:     endedAt - session.StartedAt,
	}
	return bundle, nil
}
