package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quizlab-service/internal/domain"
)

// Step labels reported through the task record. These are the sole channel by
// which callers observe progress; there is no push.
const (
	StepInitializing = "Initializing question generation"
	StepValidating   = "Validating lab context"
	StepGenerating   = "Generating questions with AI"
	StepPersisting   = "Persisting generated questions"
	StepComplete     = "Question generation complete"
)

// LabReader loads the lab configuration driving a generation run.
type LabReader interface {
	GetLab(ctx context.Context, id string) (domain.Lab, error)
}

// QuestionWriter persists generated content, one question then its options.
type QuestionWriter interface {
	InsertQuestion(ctx context.Context, q domain.Question) error
	InsertOption(ctx context.Context, o domain.Option) error
}

// TaskStore durably records workflow checkpoints. One record per lab,
// overwritten in place.
type TaskStore interface {
	UpsertTask(ctx context.Context, t domain.GenerationTask) error
	GetTask(ctx context.Context, labID string) (domain.GenerationTask, bool, error)
}

// IDSource mints entity IDs; injectable for deterministic tests.
type IDSource func() string

// Runner executes the generation workflow as an explicit sequence of steps,
// durably checkpointing the task record before each phase. A crash leaves an
// inspectable status an external driver can restart from; generation failures
// never propagate to the triggering caller.
type Runner struct {
	labs   LabReader
	writer QuestionWriter
	tasks  TaskStore
	gen    Generator
	newID  IDSource
	now    func() time.Time
}

func NewRunner(labs LabReader, writer QuestionWriter, tasks TaskStore, gen Generator, newID IDSource) *Runner {
	return &Runner{
		labs:   labs,
		writer: writer,
		tasks:  tasks,
		gen:    gen,
		newID:  newID,
		now:    time.Now,
	}
}

// WithClock is test-only for deterministic checkpoints.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run drives one generation workflow for a lab. The returned error reports
// checkpoint-persistence problems only; a failed generation is recorded in
// the task record and returns nil.
func (r *Runner) Run(ctx context.Context, labID string) error {
	if err := r.checkpoint(ctx, labID, domain.TaskPending, StepInitializing,
		"Preparing the environment to generate lab questions"); err != nil {
		return err
	}

	lab, err := r.labs.GetLab(ctx, labID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.checkpoint(ctx, labID, domain.TaskFailed, StepValidating,
				"Lab not found. Please verify the lab exists and try again.")
		}
		return err
	}

	if err := r.checkpoint(ctx, labID, domain.TaskPending, StepGenerating,
		"Creating questions based on selected topics and difficulty"); err != nil {
		return err
	}

	questions, genErr := r.gen.Generate(ctx, Request{
		QuestionSize: lab.QuestionSize,
		Difficulty:   lab.Difficulty,
		Topics:       lab.Topics,
	})
	if genErr != nil || len(questions) == 0 {
		return r.checkpoint(ctx, labID, domain.TaskFailed, StepGenerating,
			"Failed to generate questions. The AI did not return any results.")
	}

	if err := r.checkpoint(ctx, labID, domain.TaskPending, StepPersisting,
		"Saving generated questions to the lab"); err != nil {
		return err
	}

	for _, q := range questions {
		if err := r.persistQuestion(ctx, labID, q); err != nil {
			return r.checkpoint(ctx, labID, domain.TaskFailed, StepPersisting,
				fmt.Sprintf("Failed to save generated questions: %v", err))
		}
	}

	return r.checkpoint(ctx, labID, domain.TaskCompleted, StepComplete,
		"Successfully generated and saved questions for the lab")
}

func (r *Runner) persistQuestion(ctx context.Context, labID string, q GeneratedQuestion) error {
	question := domain.Question{
		ID:          r.newID(),
		LabID:       labID,
		Text:        q.Text,
		Explanation: q.Explanation,
		Order:       q.Order,
	}
	if err := r.writer.InsertQuestion(ctx, question); err != nil {
		return err
	}
	for _, o := range q.Options {
		option := domain.Option{
			ID:         r.newID(),
			QuestionID: question.ID,
			Text:       o.Text,
			Order:      o.Order,
			IsCorrect:  o.IsCorrect,
		}
		if err := r.writer.InsertOption(ctx, option); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) checkpoint(ctx context.Context, labID string, status domain.TaskStatus, step, message string) error {
	return r.tasks.UpsertTask(ctx, domain.GenerationTask{
		LabID:     labID,
		Status:    status,
		Step:      step,
		Message:   message,
		UpdatedAt: domain.NowMillis(r.now()),
	})
}
