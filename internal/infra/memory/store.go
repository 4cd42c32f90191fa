// Package memory provides in-memory store implementations used in tests and
// redis/postgres-less development runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"quizlab-service/internal/domain"
)

// Store is a mutex-guarded in-memory implementation of all the app store
// interfaces plus the generation workflow's readers and writers.
type Store struct {
	mu sync.RWMutex

	users         map[string]domain.User
	userBySubject map[string]string
	labs          map[string]domain.Lab
	labIDByCode   map[string]string
	questions     map[string]domain.Question
	options       map[string]domain.Option
	sessions      map[string]domain.Session
	answers       map[string]domain.Answer
	tasks         map[string]domain.GenerationTask
}

func NewStore() *Store {
	return &Store{
		users:         make(map[string]domain.User),
		userBySubject: make(map[string]string),
		labs:          make(map[string]domain.Lab),
		labIDByCode:   make(map[string]string),
		questions:     make(map[string]domain.Question),
		options:       make(map[string]domain.Option),
		sessions:      make(map[string]domain.Session),
		answers:       make(map[string]domain.Answer),
		tasks:         make(map[string]domain.GenerationTask),
	}
}

func answerKey(sessionID, questionID string) string {
	return sessionID + "/" + questionID
}

func cloneTopics(lab domain.Lab) domain.Lab {
	lab.Topics = append([]string(nil), lab.Topics...)
	return lab
}

// --- users ---

func (s *Store) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (s *Store) GetUserBySubject(_ context.Context, subject string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userBySubject[subject]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) UpsertUserBySubject(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.userBySubject[user.Subject]; ok {
		existing := s.users[id]
		if user.Name != "" {
			existing.Name = user.Name
		}
		if user.Email != "" {
			existing.Email = user.Email
		}
		s.users[id] = existing
		return existing, nil
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.users[user.ID] = user
	s.userBySubject[user.Subject] = user.ID
	return user, nil
}

// --- labs ---

func (s *Store) InsertLab(_ context.Context, lab domain.Lab) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labs[lab.ID] = cloneTopics(lab)
	s.labIDByCode[lab.AccessCode] = lab.ID
	return nil
}

func (s *Store) GetLab(_ context.Context, id string) (domain.Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lab, ok := s.labs[id]
	if !ok {
		return domain.Lab{}, domain.ErrNotFound
	}
	return cloneTopics(lab), nil
}

func (s *Store) GetLabByCode(_ context.Context, code string) (domain.Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.labIDByCode[code]
	if !ok {
		return domain.Lab{}, domain.ErrNotFound
	}
	return cloneTopics(s.labs[id]), nil
}

func (s *Store) UpdateLab(_ context.Context, lab domain.Lab) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.labs[lab.ID]; !ok {
		return domain.ErrNotFound
	}
	s.labs[lab.ID] = cloneTopics(lab)
	return nil
}

func (s *Store) ListLabsByCreator(_ context.Context, creatorID string) ([]domain.Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Lab
	for _, lab := range s.labs {
		if lab.CreatorID == creatorID {
			out = append(out, cloneTopics(lab))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- questions & options ---

func (s *Store) InsertQuestion(_ context.Context, q domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = q
	return nil
}

func (s *Store) UpdateQuestion(_ context.Context, q domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[q.ID]; !ok {
		return domain.ErrNotFound
	}
	s.questions[q.ID] = q
	return nil
}

func (s *Store) GetQuestion(_ context.Context, id string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrNotFound
	}
	return q, nil
}

func (s *Store) ListQuestionsByLab(_ context.Context, labID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Question
	for _, q := range s.questions {
		if q.LabID == labID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *Store) CountQuestionsByLab(ctx context.Context, labID string) (int, error) {
	questions, err := s.ListQuestionsByLab(ctx, labID)
	if err != nil {
		return 0, err
	}
	return len(questions), nil
}

func (s *Store) InsertOption(_ context.Context, o domain.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[o.ID] = o
	return nil
}

func (s *Store) UpdateOption(_ context.Context, o domain.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.options[o.ID]; !ok {
		return domain.ErrNotFound
	}
	s.options[o.ID] = o
	return nil
}

func (s *Store) GetOption(_ context.Context, id string) (domain.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.options[id]
	if !ok {
		return domain.Option{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *Store) ListOptionsByQuestion(_ context.Context, questionID string) ([]domain.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Option
	for _, o := range s.options {
		if o.QuestionID == questionID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// --- sessions ---

func (s *Store) InsertSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *Store) UpdateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return domain.ErrNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) FindInProgress(_ context.Context, labID, userID string) (domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.LabID == labID && sess.UserID == userID && sess.Status == domain.SessionInProgress {
			return sess, true, nil
		}
	}
	return domain.Session{}, false, nil
}

func (s *Store) CountAttempts(_ context.Context, labID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, sess := range s.sessions {
		if sess.LabID == labID && sess.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListSessionsByLab(_ context.Context, labID string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Session
	for _, sess := range s.sessions {
		if sess.LabID == labID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity > out[j].LastActivity })
	return out, nil
}

// --- answers ---

func (s *Store) GetAnswer(_ context.Context, sessionID, questionID string) (domain.Answer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[answerKey(sessionID, questionID)]
	return a, ok, nil
}

func (s *Store) PutAnswer(_ context.Context, a domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[answerKey(a.SessionID, a.QuestionID)] = a
	return nil
}

func (s *Store) ListAnswersBySession(_ context.Context, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for _, a := range s.answers {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AnsweredAt != out[j].AnsweredAt {
			return out[i].AnsweredAt < out[j].AnsweredAt
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out, nil
}

func (s *Store) ListAnswersByQuestion(_ context.Context, questionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for _, a := range s.answers {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnsweredAt < out[j].AnsweredAt })
	return out, nil
}

// --- generation tasks ---

func (s *Store) UpsertTask(_ context.Context, t domain.GenerationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.LabID] = t
	return nil
}

func (s *Store) GetTask(_ context.Context, labID string) (domain.GenerationTask, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[labID]
	return t, ok, nil
}
