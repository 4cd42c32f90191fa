package domain

import "time"

// Identity is the resolved caller of a core operation. Transport layers are
// responsible for turning ambient credentials (bearer tokens) into an Identity
// before invoking any service method.
type Identity struct {
	UserID string
}

// User is a registered account, keyed externally by the auth provider subject.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"-"`
}

// Difficulty is one of four ordered tiers.
type Difficulty string

const (
	DifficultyElementary Difficulty = "elementary"
	DifficultyMiddle     Difficulty = "middle"
	DifficultyHigh       Difficulty = "high"
	DifficultyCollege    Difficulty = "college"
)

// Valid reports whether d is a known tier.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyElementary, DifficultyMiddle, DifficultyHigh, DifficultyCollege:
		return true
	}
	return false
}

// LabStatus is the lab lifecycle: draft -> published -> closed.
type LabStatus string

const (
	LabDraft     LabStatus = "draft"
	LabPublished LabStatus = "published"
	LabClosed    LabStatus = "closed"
)

// CreatorRole records the role context a lab was created under.
type CreatorRole string

const (
	RoleTeacher CreatorRole = "teacher"
	RoleStudent CreatorRole = "student"
)

// Lab is an assessment definition. The access code is unique and immutable
// once issued.
type Lab struct {
	ID          string     `json:"id"`
	CreatorID   string     `json:"creatorId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Topics      []string   `json:"topics"`
	Difficulty  Difficulty `json:"difficultyLevel"`
	// QuestionSize is the target number of questions to generate.
	QuestionSize int       `json:"questionSize"`
	AccessCode   string    `json:"accessCode"`
	Status       LabStatus `json:"status"`

	RandomizeQuestions bool `json:"isRandomizeQuestions"`
	RandomizeOptions   bool `json:"isRandomizeOptions"`
	MaxAttempts        int  `json:"maxAttempts"`
	// TimeLimitMinutes of 0 means no per-attempt limit.
	TimeLimitMinutes int `json:"timeLimitMinutes,omitempty"`
	// StartTime/EndTime are epoch milliseconds; 0 means unbounded.
	StartTime int64 `json:"startTime,omitempty"`
	EndTime   int64 `json:"endTime,omitempty"`

	ShowResultsAfterSubmission bool        `json:"showResultsAfterSubmission"`
	AllowReviewAnswers         bool        `json:"allowReviewAnswers"`
	CreatedAsRole              CreatorRole `json:"createdAsRole"`

	CreatedAt time.Time `json:"createdAt"`
}

// Question belongs to a lab. Order is 0-based and unique within the lab.
type Question struct {
	ID          string `json:"id"`
	LabID       string `json:"labId"`
	Text        string `json:"questionText"`
	Explanation string `json:"explanation,omitempty"`
	Order       int    `json:"questionOrder"`
}

// Option belongs to a question. Order is 0-based and unique within the question.
type Option struct {
	ID         string `json:"id"`
	QuestionID string `json:"questionId"`
	Text       string `json:"optionText"`
	Order      int    `json:"optionOrder"`
	IsCorrect  bool   `json:"isCorrect"`
}

// SessionStatus is the participant-attempt lifecycle. in_progress is the only
// non-terminal state.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionTimeout    SessionStatus = "timeout"
	SessionAbandoned  SessionStatus = "abandoned"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s != SessionInProgress
}

// Session is one participant attempt at a lab. TotalQuestions is snapshotted
// at creation and never changes afterwards, even if the lab's questions do.
// CorrectAnswers is a denormalized counter maintained by signed deltas and
// recomputed authoritatively on submit.
type Session struct {
	ID            string        `json:"id"`
	LabID         string        `json:"labId"`
	UserID        string        `json:"userId"`
	AttemptNumber int           `json:"attemptNumber"`
	Status        SessionStatus `json:"status"`
	// StartedAt/CompletedAt/LastActivity are epoch milliseconds.
	StartedAt            int64 `json:"startedAt"`
	CompletedAt          int64 `json:"completedAt,omitempty"`
	TotalScore           int   `json:"totalScore"`
	TotalQuestions       int   `json:"totalQuestions"`
	CorrectAnswers       int   `json:"correctAnswers"`
	CurrentQuestionOrder int   `json:"currentQuestionOrder"`
	LastActivity         int64 `json:"lastActivity"`
}

// Answer is a participant's selected option for one question within a session.
// At most one answer exists per (session, question); later writes overwrite.
// IsCorrect is frozen at write time and is not re-derived when options change.
type Answer struct {
	SessionID        string `json:"sessionId"`
	QuestionID       string `json:"questionId"`
	SelectedOptionID string `json:"selectedOptionId"`
	IsCorrect        bool   `json:"isCorrect"`
	AnsweredAt       int64  `json:"answeredAt"`
}

// TaskStatus is the generation-task lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// GenerationTask is the single progress record per lab, overwritten in place
// by each workflow checkpoint. History is not retained.
type GenerationTask struct {
	LabID     string     `json:"labId"`
	Status    TaskStatus `json:"status"`
	Step      string     `json:"step"`
	Message   string     `json:"message,omitempty"`
	UpdatedAt int64      `json:"updatedAt"`
}

// NowMillis converts a time to the epoch-millisecond convention used across
// session and answer timestamps.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
