package generation

import (
	"context"
	"log"
	"sync"
	"time"

	"quizlab-service/internal/domain"
)

// Service fronts the workflow with a bounded worker pool so concurrent lab
// creations queue for the model instead of stampeding it. Start is
// fire-and-forget; progress is observed by polling Status.
type Service struct {
	runner  *Runner
	tasks   TaskStore
	jobs    chan string
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewService starts workers goroutines draining the generation queue.
func NewService(runner *Runner, tasks TaskStore, workers, queueSize int) *Service {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	s := &Service{
		runner:  runner,
		tasks:   tasks,
		jobs:    make(chan string, queueSize),
		timeout: 10 * time.Minute,
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case labID := <-s.jobs:
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			if err := s.runner.Run(ctx, labID); err != nil {
				log.Printf("generation workflow for lab %s: %v", labID, err)
			}
			cancel()
		case <-s.done:
			return
		}
	}
}

// Start enqueues a generation run for the lab. It never blocks the caller:
// when the queue is full the run is dropped and recorded as failed, which the
// poller surfaces like any other failure.
func (s *Service) Start(labID string) {
	select {
	case s.jobs <- labID:
	default:
		_ = s.tasks.UpsertTask(context.Background(), domain.GenerationTask{
			LabID:     labID,
			Status:    domain.TaskFailed,
			Step:      StepInitializing,
			Message:   "Generation queue is full. Try again shortly.",
			UpdatedAt: domain.NowMillis(time.Now()),
		})
	}
}

// Status returns the latest checkpoint for a lab, or ok=false when generation
// was never started.
func (s *Service) Status(ctx context.Context, labID string) (domain.GenerationTask, bool, error) {
	return s.tasks.GetTask(ctx, labID)
}

// Close stops the workers. Queued jobs that have not started are abandoned.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}
