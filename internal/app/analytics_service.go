package app

import (
	"context"
	"sort"
	"time"

	"quizlab-service/internal/domain"
)

// AnalyticsService derives owner-facing aggregates by scanning sessions and
// answers. Strictly read-only; identical inputs always yield identical output
// for a given window.
type AnalyticsService struct {
	labs     LabStore
	sessions SessionStore
	answers  AnswerStore
	now      func() time.Time
}

func NewAnalyticsService(labs LabStore, sessions SessionStore, answers AnswerStore) *AnalyticsService {
	return &AnalyticsService{
		labs:     labs,
		sessions: sessions,
		answers:  answers,
		now:      time.Now,
	}
}

// WithClock is test-only for deterministic windows.
func (s *AnalyticsService) WithClock(now func() time.Time) *AnalyticsService {
	s.now = now
	return s
}

const dayMillis = 24 * 60 * 60 * 1000

func windowStart(now int64, windowDays int) int64 {
	days := windowDays
	if days <= 0 {
		days = 7
	}
	return now - int64(days)*dayMillis
}

// touchedInWindow reports whether a session showed any activity in the window:
// it started, completed, or had a heartbeat there.
func touchedInWindow(s domain.Session, start int64) bool {
	return s.StartedAt >= start || s.CompletedAt >= start && s.CompletedAt != 0 || s.LastActivity >= start
}

// Summary are the headline KPIs for a lab across all time.
type Summary struct {
	Total          int     `json:"total"`
	Active         int     `json:"active"`
	Completed      int     `json:"completed"`
	Timeout        int     `json:"timeout"`
	Abandoned      int     `json:"abandoned"`
	CompletionRate float64 `json:"completionRate"`
	AvgScore       float64 `json:"avgScore"`
	AvgAccuracy    float64 `json:"avgAccuracy"`
}

// SummaryByLab computes the headline KPIs for an owned lab.
func (s *AnalyticsService) SummaryByLab(ctx context.Context, labID string, caller domain.Identity) (Summary, error) {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return Summary{}, err
	}
	sessions, err := s.sessions.ListSessionsByLab(ctx, labID)
	if err != nil {
		return Summary{}, err
	}

	var out Summary
	var scoreSum, accSum float64
	for _, sess := range sessions {
		out.Total++
		switch sess.Status {
		case domain.SessionInProgress:
			out.Active++
		case domain.SessionCompleted:
			out.Completed++
		case domain.SessionTimeout:
			out.Timeout++
		case domain.SessionAbandoned:
			out.Abandoned++
		}
		scoreSum += float64(sess.TotalScore)
		total := sess.TotalQuestions
		if total == 0 {
			total = 1
		}
		accSum += float64(sess.CorrectAnswers) / float64(total)
	}
	if out.Total > 0 {
		out.CompletionRate = float64(out.Completed) / float64(out.Total)
		out.AvgScore = scoreSum / float64(out.Total)
		out.AvgAccuracy = accSum / float64(out.Total)
	}
	return out, nil
}

// StatusDistribution counts sessions per status among those touched in the
// window.
func (s *AnalyticsService) StatusDistribution(ctx context.Context, labID string, windowDays int, caller domain.Identity) (map[domain.SessionStatus]int, error) {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListSessionsByLab(ctx, labID)
	if err != nil {
		return nil, err
	}
	start := windowStart(domain.NowMillis(s.now()), windowDays)
	counts := map[domain.SessionStatus]int{
		domain.SessionInProgress: 0,
		domain.SessionCompleted:  0,
		domain.SessionTimeout:    0,
		domain.SessionAbandoned:  0,
	}
	for _, sess := range sessions {
		if touchedInWindow(sess, start) {
			counts[sess.Status]++
		}
	}
	return counts, nil
}

// ActivityPoint is one day of the activity timeseries, keyed by UTC date.
type ActivityPoint struct {
	Date              string `json:"date"`
	SessionsStarted   int    `json:"sessionsStarted"`
	SessionsCompleted int    `json:"sessionsCompleted"`
	ActiveTouches     int    `json:"activeTouches"`
}

// ActivityTimeseries buckets session activity per UTC day over the window,
// zero-filling days with no activity.
func (s *AnalyticsService) ActivityTimeseries(ctx context.Context, labID string, days int, caller domain.Identity) ([]ActivityPoint, error) {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListSessionsByLab(ctx, labID)
	if err != nil {
		return nil, err
	}

	if days <= 0 {
		days = 7
	}
	now := s.now().UTC()
	start := windowStart(domain.NowMillis(now), days)

	points := make([]ActivityPoint, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		day := now.AddDate(0, 0, -(days - 1 - i))
		key := day.Format("2006-01-02")
		points[i] = ActivityPoint{Date: key}
		index[key] = i
	}

	bump := func(ts int64, f func(*ActivityPoint)) {
		if ts == 0 || ts < start {
			return
		}
		key := time.UnixMilli(ts).UTC().Format("2006-01-02")
		if i, ok := index[key]; ok {
			f(&points[i])
		}
	}
	for _, sess := range sessions {
		bump(sess.StartedAt, func(p *ActivityPoint) { p.SessionsStarted++ })
		bump(sess.CompletedAt, func(p *ActivityPoint) { p.SessionsCompleted++ })
		bump(sess.LastActivity, func(p *ActivityPoint) { p.ActiveTouches++ })
	}
	return points, nil
}

// HistogramBucket is one fixed-width score range.
type HistogramBucket struct {
	From  int `json:"from"`
	To    int `json:"to"`
	Count int `json:"count"`
}

// Histogram is the bucketed score distribution of completed sessions.
type Histogram struct {
	BucketSize int               `json:"bucketSize"`
	Buckets    []HistogramBucket `json:"buckets"`
}

// ScoreHistogram buckets completed-session scores over 0-100. A score of 100
// lands in the last bucket rather than spilling into an overflow bucket.
func (s *AnalyticsService) ScoreHistogram(ctx context.Context, labID string, bucketSize, windowDays int, caller domain.Identity) (Histogram, error) {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return Histogram{}, err
	}
	sessions, err := s.sessions.ListSessionsByLab(ctx, labID)
	if err != nil {
		return Histogram{}, err
	}

	if bucketSize <= 0 {
		bucketSize = 10
	}
	out := Histogram{BucketSize: bucketSize}
	for from := 0; from < 100; from += bucketSize {
		to := from + bucketSize
		if to > 100 {
			to = 100
		}
		out.Buckets = append(out.Buckets, HistogramBucket{From: from, To: to})
	}

	start := windowStart(domain.NowMillis(s.now()), windowDays)
	for _, sess := range sessions {
		if sess.Status != domain.SessionCompleted || sess.CompletedAt < start {
			continue
		}
		score := sess.TotalScore
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
		idx := score / bucketSize
		if idx > len(out.Buckets)-1 {
			idx = len(out.Buckets) - 1
		}
		out.Buckets[idx].Count++
	}
	return out, nil
}

// QuestionAccuracy ranks one question by how often it was answered correctly.
type QuestionAccuracy struct {
	QuestionID string  `json:"questionId"`
	Text       string  `json:"questionText"`
	Order      int     `json:"questionOrder"`
	Accuracy   float64 `json:"accuracy"`
	Attempts   int     `json:"attempts"`
	Corrects   int     `json:"corrects"`
}

// HardestQuestions ranks questions by ascending accuracy (hardest first),
// ties broken by question order. Questions with no answers in the window are
// omitted.
func (s *AnalyticsService) HardestQuestions(ctx context.Context, labID string, limit, windowDays int, caller domain.Identity) ([]QuestionAccuracy, error) {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return nil, err
	}
	questions, err := s.labs.ListQuestionsByLab(ctx, labID)
	if err != nil {
		return nil, err
	}
	start := windowStart(domain.NowMillis(s.now()), windowDays)

	var rows []QuestionAccuracy
	for _, q := range questions {
		answers, err := s.answers.ListAnswersByQuestion(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		attempts, corrects := 0, 0
		for _, a := range answers {
			if a.AnsweredAt < start {
				continue
			}
			attempts++
			if a.IsCorrect {
				corrects++
			}
		}
		if attempts == 0 {
			continue
		}
		rows = append(rows, QuestionAccuracy{
			QuestionID: q.ID,
			Text:       q.Text,
			Order:      q.Order,
			Accuracy:   float64(corrects) / float64(attempts),
			Attempts:   attempts,
			Corrects:   corrects,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Accuracy != rows[j].Accuracy {
			return rows[i].Accuracy < rows[j].Accuracy
		}
		return rows[i].Order < rows[j].Order
	})

	if limit <= 0 {
		limit = 5
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// QuestionTiming reports the median time participants spent on a question.
type QuestionTiming struct {
	QuestionID string `json:"questionId"`
	Text       string `json:"questionText"`
	Order      int    `json:"questionOrder"`
	MedianMs   int64  `json:"medianMs"`
	Samples    int    `json:"samples"`
}

// TimePerQuestion derives per-question dwell time from consecutive answer
// timestamps within each session (ordered by question order), the first delta
// measured from session start. Slowest questions sort first, ties broken by
// question order.
func (s *AnalyticsService) TimePerQuestion(ctx context.Context, labID string, limit, windowDays int, caller domain.Identity) ([]QuestionTiming, error) {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return nil, err
	}
	questions, err := s.labs.ListQuestionsByLab(ctx, labID)
	if err != nil {
		return nil, err
	}
	orderOf := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		orderOf[q.ID] = q
	}

	sessions, err := s.sessions.ListSessionsByLab(ctx, labID)
	if err != nil {
		return nil, err
	}
	start := windowStart(domain.NowMillis(s.now()), windowDays)

	durations := make(map[string][]int64)
	for _, sess := range sessions {
		if !touchedInWindow(sess, start) {
			continue
		}
		answers, err := s.answers.ListAnswersBySession(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sort.Slice(answers, func(i, j int) bool {
			oi := orderOf[answers[i].QuestionID].Order
			oj := orderOf[answers[j].QuestionID].Order
			if oi != oj {
				return oi < oj
			}
			return answers[i].AnsweredAt < answers[j].AnsweredAt
		})
		prev := sess.StartedAt
		for _, a := range answers {
			diff := a.AnsweredAt - prev
			if diff < 0 {
				diff = 0
			}
			prev = a.AnsweredAt
			durations[a.QuestionID] = append(durations[a.QuestionID], diff)
		}
	}

	var rows []QuestionTiming
	for questionID, samples := range durations {
		q, ok := orderOf[questionID]
		if !ok {
			continue
		}
		rows = append(rows, QuestionTiming{
			QuestionID: questionID,
			Text:       q.Text,
			Order:      q.Order,
			MedianMs:   median(samples),
			Samples:    len(samples),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].MedianMs != rows[j].MedianMs {
			return rows[i].MedianMs > rows[j].MedianMs
		}
		return rows[i].Order < rows[j].Order
	})

	if limit <= 0 {
		limit = 10
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func median(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
