package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizlab-service/internal/app"
	"quizlab-service/internal/domain"
	"quizlab-service/internal/infra/memory"
)

type fakeStarter struct {
	labIDs []string
}

func (f *fakeStarter) Start(labID string) {
	f.labIDs = append(f.labIDs, labID)
}

type deniedLimiter struct {
	retryAfter time.Duration
}

func (l deniedLimiter) Allow(string) (time.Duration, bool) {
	return l.retryAfter, false
}

func newLabService(t *testing.T) (*memory.Store, *app.LabService, *fakeStarter) {
	t.Helper()
	store := memory.NewStore()
	if _, err := store.UpsertUserBySubject(context.Background(), domain.User{ID: "creator", Subject: "creator"}); err != nil {
		t.Fatalf("seed creator: %v", err)
	}
	starter := &fakeStarter{}
	service := app.NewLabService(store, store).WithGeneration(starter)
	return store, service, starter
}

var creator = domain.Identity{UserID: "creator"}

func TestCreateLabDefaultsAndGeneration(t *testing.T) {
	ctx := context.Background()
	_, service, starter := newLabService(t)

	lab, err := service.CreateLab(ctx, app.CreateLabArgs{
		Name:         "Geometry",
		Topics:       []string{"triangles", "circles"},
		Difficulty:   domain.DifficultyMiddle,
		QuestionSize: 5,
	}, creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lab.Status != domain.LabDraft || lab.MaxAttempts != 1 || lab.CreatedAsRole != domain.RoleTeacher {
		t.Fatalf("unexpected defaults: %+v", lab)
	}
	if len(lab.AccessCode) < 6 || len(lab.AccessCode) > 12 {
		t.Fatalf("access code %q out of range", lab.AccessCode)
	}
	if domain.NormalizeAccessCode(lab.AccessCode) != lab.AccessCode {
		t.Fatalf("access code %q not normalized", lab.AccessCode)
	}
	if len(starter.labIDs) != 1 || starter.labIDs[0] != lab.ID {
		t.Fatalf("expected generation started for %s, got %v", lab.ID, starter.labIDs)
	}
}

func TestCreateLabValidation(t *testing.T) {
	ctx := context.Background()
	_, service, _ := newLabService(t)

	cases := []app.CreateLabArgs{
		{Name: "", Topics: []string{"t"}, Difficulty: domain.DifficultyHigh, QuestionSize: 1},
		{Name: "x", Topics: nil, Difficulty: domain.DifficultyHigh, QuestionSize: 1},
		{Name: "x", Topics: []string{"t"}, Difficulty: "impossible", QuestionSize: 1},
		{Name: "x", Topics: []string{"t"}, Difficulty: domain.DifficultyHigh, QuestionSize: 0},
	}
	for i, args := range cases {
		if _, err := service.CreateLab(ctx, args, creator); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
	if _, err := service.CreateLab(ctx, cases[0], domain.Identity{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	_, service, _ := newLabService(t)

	lab, err := service.CreateLab(ctx, app.CreateLabArgs{
		Name: "L", Topics: []string{"t"}, Difficulty: domain.DifficultyHigh, QuestionSize: 1,
	}, creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Draft cannot close.
	if _, err := service.CloseLab(ctx, lab.ID, creator); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	published, err := service.PublishLab(ctx, lab.ID, creator)
	if err != nil || published.Status != domain.LabPublished {
		t.Fatalf("publish: status=%v err=%v", published.Status, err)
	}
	// Publishing twice is invalid.
	if _, err := service.PublishLab(ctx, lab.ID, creator); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	closed, err := service.CloseLab(ctx, lab.ID, creator)
	if err != nil || closed.Status != domain.LabClosed {
		t.Fatalf("close: status=%v err=%v", closed.Status, err)
	}
}

func TestUpdateLabSettingsKeepsAccessCode(t *testing.T) {
	ctx := context.Background()
	store, service, _ := newLabService(t)

	lab, err := service.CreateLab(ctx, app.CreateLabArgs{
		Name: "L", Topics: []string{"t"}, Difficulty: domain.DifficultyHigh, QuestionSize: 1,
	}, creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := service.UpdateLabSettings(ctx, lab.ID, app.UpdateLabSettingsArgs{
		Name:        "Renamed",
		Topics:      []string{"t2"},
		Difficulty:  domain.DifficultyCollege,
		MaxAttempts: 3,
	}, creator)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.AccessCode != lab.AccessCode {
		t.Fatalf("access code changed: %q -> %q", lab.AccessCode, updated.AccessCode)
	}
	if updated.Name != "Renamed" || updated.MaxAttempts != 3 {
		t.Fatalf("unexpected update: %+v", updated)
	}

	stored, _ := store.GetLab(ctx, lab.ID)
	if stored.AccessCode != lab.AccessCode {
		t.Fatalf("stored access code changed")
	}
}

func TestUpdateLabSettingsRateLimited(t *testing.T) {
	ctx := context.Background()
	_, service, _ := newLabService(t)
	service.WithLimiter(deniedLimiter{retryAfter: 3 * time.Second})

	lab, err := service.CreateLab(ctx, app.CreateLabArgs{
		Name: "L", Topics: []string{"t"}, Difficulty: domain.DifficultyHigh, QuestionSize: 1,
	}, creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = service.UpdateLabSettings(ctx, lab.ID, app.UpdateLabSettingsArgs{
		Name: "X", Topics: []string{"t"}, Difficulty: domain.DifficultyHigh, MaxAttempts: 1,
	}, creator)
	retryAfter, ok := domain.IsRateLimited(err)
	if !ok || retryAfter != 3*time.Second {
		t.Fatalf("expected rate limit with 3s hint, got %v", err)
	}
}

func TestAddAndReorderQuestions(t *testing.T) {
	ctx := context.Background()
	_, service, _ := newLabService(t)

	lab, err := service.CreateLab(ctx, app.CreateLabArgs{
		Name: "L", Topics: []string{"t"}, Difficulty: domain.DifficultyHigh, QuestionSize: 1,
	}, creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		q, err := service.AddQuestion(ctx, lab.ID, "Question", "", []app.NewOption{
			{Text: "right", IsCorrect: true},
			{Text: "wrong"},
		}, creator)
		if err != nil {
			t.Fatalf("add question %d: %v", i, err)
		}
		if q.Order != i {
			t.Fatalf("expected order %d, got %d", i, q.Order)
		}
		ids = append(ids, q.ID)
	}

	reversed := []string{ids[2], ids[1], ids[0]}
	if err := service.ReorderQuestions(ctx, lab.ID, reversed, creator); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	view, err := service.GetLabWithQuestions(ctx, lab.ID, creator)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	for i, q := range view.Questions {
		if q.ID != reversed[i] {
			t.Fatalf("position %d: expected %s, got %s", i, reversed[i], q.ID)
		}
	}

	// Not a permutation: wrong length and unknown ID.
	if err := service.ReorderQuestions(ctx, lab.ID, ids[:2], creator); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for short list, got %v", err)
	}
	if err := service.ReorderQuestions(ctx, lab.ID, []string{ids[0], ids[1], "nope"}, creator); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown id, got %v", err)
	}
}

func TestUpdateOptionRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	store, service, _ := newLabService(t)
	if _, err := store.UpsertUserBySubject(ctx, domain.User{ID: "other", Subject: "other"}); err != nil {
		t.Fatalf("seed other: %v", err)
	}

	lab, err := service.CreateLab(ctx, app.CreateLabArgs{
		Name: "L", Topics: []string{"t"}, Difficulty: domain.DifficultyHigh, QuestionSize: 1,
	}, creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	q, err := service.AddQuestion(ctx, lab.ID, "Question", "", []app.NewOption{{Text: "a", IsCorrect: true}}, creator)
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	options, _ := store.ListOptionsByQuestion(ctx, q.ID)

	if _, err := service.UpdateOption(ctx, options[0].ID, "edited", false, domain.Identity{UserID: "other"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	updated, err := service.UpdateOption(ctx, options[0].ID, "edited", false, creator)
	if err != nil {
		t.Fatalf("update option: %v", err)
	}
	if updated.Text != "edited" || updated.IsCorrect {
		t.Fatalf("unexpected option: %+v", updated)
	}
}

func TestGenerationStatusOwnerOnly(t *testing.T) {
	ctx := context.Background()
	store, service, _ := newLabService(t)
	service.WithGenerationStatus(taskReader{store})
	if _, err := store.UpsertUserBySubject(ctx, domain.User{ID: "other", Subject: "other"}); err != nil {
		t.Fatalf("seed other: %v", err)
	}

	lab, err := service.CreateLab(ctx, app.CreateLabArgs{
		Name: "L", Topics: []string{"t"}, Difficulty: domain.DifficultyHigh, QuestionSize: 1,
	}, creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpsertTask(ctx, domain.GenerationTask{LabID: lab.ID, Status: domain.TaskCompleted}); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	task, ok, err := service.GenerationStatus(ctx, lab.ID, creator)
	if err != nil || !ok || task.Status != domain.TaskCompleted {
		t.Fatalf("status: task=%+v ok=%v err=%v", task, ok, err)
	}
	if _, _, err := service.GenerationStatus(ctx, lab.ID, domain.Identity{UserID: "other"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

// taskReader adapts the store to the status poller interface.
type taskReader struct {
	store *memory.Store
}

func (r taskReader) Status(ctx context.Context, labID string) (domain.GenerationTask, bool, error) {
	return r.store.GetTask(ctx, labID)
}
