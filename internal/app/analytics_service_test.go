package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"quizlab-service/internal/app"
	"quizlab-service/internal/domain"
	"quizlab-service/internal/infra/memory"
)

var analyticsNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newAnalytics(t *testing.T) (*memory.Store, *app.AnalyticsService) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	if _, err := store.UpsertUserBySubject(ctx, domain.User{ID: "creator", Subject: "creator"}); err != nil {
		t.Fatalf("seed creator: %v", err)
	}
	lab := domain.Lab{
		ID:         "lab-1",
		CreatorID:  "creator",
		Name:       "Lab",
		Topics:     []string{"t"},
		Difficulty: domain.DifficultyHigh,
		AccessCode: "LAB123",
		Status:     domain.LabPublished,
		CreatedAt:  analyticsNow,
	}
	if err := store.InsertLab(ctx, lab); err != nil {
		t.Fatalf("seed lab: %v", err)
	}
	service := app.NewAnalyticsService(store, store, store).WithClock(func() time.Time { return analyticsNow })
	return store, service
}

func completedSession(id string, score int, completedAt int64) domain.Session {
	return domain.Session{
		ID:             id,
		LabID:          "lab-1",
		UserID:         "u-" + id,
		AttemptNumber:  1,
		Status:         domain.SessionCompleted,
		StartedAt:      completedAt - 60_000,
		CompletedAt:    completedAt,
		LastActivity:   completedAt,
		TotalScore:     score,
		TotalQuestions: 10,
		CorrectAnswers: score / 10,
	}
}

func TestScoreHistogramClampsBoundaries(t *testing.T) {
	ctx := context.Background()
	store, service := newAnalytics(t)

	now := domain.NowMillis(analyticsNow)
	for i, score := range []int{0, 9, 10, 99, 100} {
		sess := completedSession(fmt.Sprintf("s%d", i), score, now-int64(i)*1000)
		if err := store.InsertSession(ctx, sess); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}

	hist, err := service.ScoreHistogram(ctx, "lab-1", 0, 0, creator)
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	if hist.BucketSize != 10 || len(hist.Buckets) != 10 {
		t.Fatalf("unexpected shape: %+v", hist)
	}
	if hist.Buckets[0].Count != 2 {
		t.Fatalf("expected 0 and 9 in first bucket, got %d", hist.Buckets[0].Count)
	}
	if hist.Buckets[1].Count != 1 {
		t.Fatalf("expected 10 in second bucket, got %d", hist.Buckets[1].Count)
	}
	// 99 and 100 both land in the last bucket; 100 must not overflow.
	if hist.Buckets[9].Count != 2 {
		t.Fatalf("expected 99 and 100 in last bucket, got %d", hist.Buckets[9].Count)
	}
}

func TestSummaryByLab(t *testing.T) {
	ctx := context.Background()
	store, service := newAnalytics(t)

	now := domain.NowMillis(analyticsNow)
	if err := store.InsertSession(ctx, completedSession("s1", 80, now)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.InsertSession(ctx, completedSession("s2", 40, now)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	active := domain.Session{
		ID: "s3", LabID: "lab-1", UserID: "u3", Status: domain.SessionInProgress,
		StartedAt: now, LastActivity: now, TotalQuestions: 10,
	}
	if err := store.InsertSession(ctx, active); err != nil {
		t.Fatalf("seed: %v", err)
	}

	summary, err := service.SummaryByLab(ctx, "lab-1", creator)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total != 3 || summary.Completed != 2 || summary.Active != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.CompletionRate < 0.66 || summary.CompletionRate > 0.67 {
		t.Fatalf("unexpected completion rate: %v", summary.CompletionRate)
	}
	if summary.AvgScore != 40 {
		t.Fatalf("unexpected avg score: %v", summary.AvgScore)
	}
}

func TestStatusDistributionWindow(t *testing.T) {
	ctx := context.Background()
	store, service := newAnalytics(t)

	now := domain.NowMillis(analyticsNow)
	if err := store.InsertSession(ctx, completedSession("recent", 50, now)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	old := completedSession("old", 50, now-30*24*60*60*1000)
	if err := store.InsertSession(ctx, old); err != nil {
		t.Fatalf("seed: %v", err)
	}

	counts, err := service.StatusDistribution(ctx, "lab-1", 7, creator)
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	if counts[domain.SessionCompleted] != 1 {
		t.Fatalf("expected the old session outside the window, got %+v", counts)
	}
}

func TestActivityTimeseriesZeroFills(t *testing.T) {
	ctx := context.Background()
	store, service := newAnalytics(t)

	now := domain.NowMillis(analyticsNow)
	if err := store.InsertSession(ctx, completedSession("s1", 50, now)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	points, err := service.ActivityTimeseries(ctx, "lab-1", 3, creator)
	if err != nil {
		t.Fatalf("timeseries: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 days, got %d", len(points))
	}
	if points[0].Date != "2025-06-13" || points[2].Date != "2025-06-15" {
		t.Fatalf("unexpected date range: %s .. %s", points[0].Date, points[2].Date)
	}
	if points[0].SessionsStarted != 0 || points[2].SessionsStarted != 1 || points[2].SessionsCompleted != 1 {
		t.Fatalf("unexpected buckets: %+v", points)
	}
}

func TestHardestQuestionsRanking(t *testing.T) {
	ctx := context.Background()
	store, service := newAnalytics(t)

	now := domain.NowMillis(analyticsNow)
	for i, qid := range []string{"q1", "q2", "q3", "q4"} {
		q := domain.Question{ID: qid, LabID: "lab-1", Text: "Q " + qid, Order: i}
		if err := store.InsertQuestion(ctx, q); err != nil {
			t.Fatalf("seed question: %v", err)
		}
	}

	put := func(session, question string, correct bool) {
		t.Helper()
		err := store.PutAnswer(ctx, domain.Answer{
			SessionID: session, QuestionID: question, SelectedOptionID: "o",
			IsCorrect: correct, AnsweredAt: now,
		})
		if err != nil {
			t.Fatalf("seed answer: %v", err)
		}
	}

	// q1: 2/5 correct, q2: 2/5 correct (tie), q3: 4/5 correct, q4 unanswered.
	for i := 0; i < 5; i++ {
		sid := fmt.Sprintf("s%d", i)
		put(sid, "q1", i < 2)
		put(sid, "q2", i < 2)
		put(sid, "q3", i < 4)
	}

	rows, err := service.HardestQuestions(ctx, "lab-1", 0, 0, creator)
	if err != nil {
		t.Fatalf("hardest: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 ranked questions (q4 omitted), got %d", len(rows))
	}
	// Equal accuracy ties break on question order.
	if rows[0].QuestionID != "q1" || rows[1].QuestionID != "q2" || rows[2].QuestionID != "q3" {
		t.Fatalf("unexpected ranking: %+v", rows)
	}
	if rows[0].Accuracy != 0.4 || rows[0].Attempts != 5 || rows[0].Corrects != 2 {
		t.Fatalf("unexpected accuracy row: %+v", rows[0])
	}
}

func TestTimePerQuestionMedians(t *testing.T) {
	ctx := context.Background()
	store, service := newAnalytics(t)

	now := domain.NowMillis(analyticsNow)
	for i, qid := range []string{"q1", "q2"} {
		q := domain.Question{ID: qid, LabID: "lab-1", Text: "Q " + qid, Order: i}
		if err := store.InsertQuestion(ctx, q); err != nil {
			t.Fatalf("seed question: %v", err)
		}
	}
	start := now - 100_000
	sess := domain.Session{
		ID: "s1", LabID: "lab-1", UserID: "u1", Status: domain.SessionCompleted,
		StartedAt: start, CompletedAt: now, LastActivity: now, TotalQuestions: 2,
	}
	if err := store.InsertSession(ctx, sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	// q1 answered 10s after start, q2 15s after q1.
	answers := []domain.Answer{
		{SessionID: "s1", QuestionID: "q1", SelectedOptionID: "o", AnsweredAt: start + 10_000},
		{SessionID: "s1", QuestionID: "q2", SelectedOptionID: "o", AnsweredAt: start + 25_000},
	}
	for _, a := range answers {
		if err := store.PutAnswer(ctx, a); err != nil {
			t.Fatalf("seed answer: %v", err)
		}
	}

	rows, err := service.TimePerQuestion(ctx, "lab-1", 0, 0, creator)
	if err != nil {
		t.Fatalf("timing: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// Slowest first.
	if rows[0].QuestionID != "q2" || rows[0].MedianMs != 15_000 {
		t.Fatalf("unexpected slowest: %+v", rows[0])
	}
	if rows[1].QuestionID != "q1" || rows[1].MedianMs != 10_000 {
		t.Fatalf("unexpected second: %+v", rows[1])
	}
}
