// Package postgres persists labs, sessions, answers and generation tasks.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizlab-service/internal/domain"
)

// uniqueViolation is the postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// Store implements the app store interfaces on top of a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- users ---

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, subject FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Subject)
	if err != nil {
		return domain.User{}, mapErr("get user", err)
	}
	return u, nil
}

func (s *Store) GetUserBySubject(ctx context.Context, subject string) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, subject FROM users WHERE subject=$1`, subject,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Subject)
	if err != nil {
		return domain.User{}, mapErr("get user by subject", err)
	}
	return u, nil
}

func (s *Store) UpsertUserBySubject(ctx context.Context, user domain.User) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, subject)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject) DO UPDATE SET
			name  = CASE WHEN EXCLUDED.name  <> '' THEN EXCLUDED.name  ELSE users.name  END,
			email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END
		RETURNING id, name, email, subject`,
		user.ID, user.Name, user.Email, user.Subject,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Subject)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// --- labs ---

const labColumns = `id, creator_id, name, description, topics, difficulty, question_size,
	access_code, status, randomize_questions, randomize_options, max_attempts,
	time_limit_minutes, start_time, end_time, show_results, allow_review,
	created_as_role, created_at`

func (s *Store) InsertLab(ctx context.Context, lab domain.Lab) error {
	topics, err := json.Marshal(lab.Topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO labs (`+labColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		lab.ID, lab.CreatorID, lab.Name, lab.Description, topics, lab.Difficulty,
		lab.QuestionSize, lab.AccessCode, lab.Status, lab.RandomizeQuestions,
		lab.RandomizeOptions, lab.MaxAttempts, lab.TimeLimitMinutes, lab.StartTime,
		lab.EndTime, lab.ShowResultsAfterSubmission, lab.AllowReviewAnswers,
		lab.CreatedAsRole, lab.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lab: %w", err)
	}
	return nil
}

func (s *Store) GetLab(ctx context.Context, id string) (domain.Lab, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+labColumns+` FROM labs WHERE id=$1`, id)
	lab, err := scanLab(row)
	if err != nil {
		return domain.Lab{}, mapErr("get lab", err)
	}
	return lab, nil
}

func (s *Store) GetLabByCode(ctx context.Context, code string) (domain.Lab, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+labColumns+` FROM labs WHERE access_code=$1`, code)
	lab, err := scanLab(row)
	if err != nil {
		return domain.Lab{}, mapErr("get lab by code", err)
	}
	return lab, nil
}

func (s *Store) UpdateLab(ctx context.Context, lab domain.Lab) error {
	topics, err := json.Marshal(lab.Topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE labs SET
			name=$2, description=$3, topics=$4, difficulty=$5, question_size=$6,
			status=$7, randomize_questions=$8, randomize_options=$9, max_attempts=$10,
			time_limit_minutes=$11, start_time=$12, end_time=$13, show_results=$14,
			allow_review=$15
		WHERE id=$1`,
		lab.ID, lab.Name, lab.Description, topics, lab.Difficulty, lab.QuestionSize,
		lab.Status, lab.RandomizeQuestions, lab.RandomizeOptions, lab.MaxAttempts,
		lab.TimeLimitMinutes, lab.StartTime, lab.EndTime,
		lab.ShowResultsAfterSubmission, lab.AllowReviewAnswers,
	)
	if err != nil {
		return fmt.Errorf("update lab: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListLabsByCreator(ctx context.Context, creatorID string) ([]domain.Lab, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+labColumns+` FROM labs WHERE creator_id=$1 ORDER BY created_at DESC`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}
	defer rows.Close()

	var out []domain.Lab
	for rows.Next() {
		lab, err := scanLab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lab: %w", err)
		}
		out = append(out, lab)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLab(row rowScanner) (domain.Lab, error) {
	var lab domain.Lab
	var topics []byte
	err := row.Scan(
		&lab.ID, &lab.CreatorID, &lab.Name, &lab.Description, &topics,
		&lab.Difficulty, &lab.QuestionSize, &lab.AccessCode, &lab.Status,
		&lab.RandomizeQuestions, &lab.RandomizeOptions, &lab.MaxAttempts,
		&lab.TimeLimitMinutes, &lab.StartTime, &lab.EndTime,
		&lab.ShowResultsAfterSubmission, &lab.AllowReviewAnswers,
		&lab.CreatedAsRole, &lab.CreatedAt,
	)
	if err != nil {
		return domain.Lab{}, err
	}
	if len(topics) > 0 {
		if err := json.Unmarshal(topics, &lab.Topics); err != nil {
			return domain.Lab{}, fmt.Errorf("unmarshal topics: %w", err)
		}
	}
	return lab, nil
}

// --- questions & options ---

func (s *Store) InsertQuestion(ctx context.Context, q domain.Question) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO questions (id, lab_id, question_text, explanation, question_order)
		VALUES ($1,$2,$3,$4,$5)`,
		q.ID, q.LabID, q.Text, q.Explanation, q.Order,
	)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *Store) UpdateQuestion(ctx context.Context, q domain.Question) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET question_text=$2, explanation=$3, question_order=$4 WHERE id=$1`,
		q.ID, q.Text, q.Explanation, q.Order,
	)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	var q domain.Question
	err := s.pool.QueryRow(ctx,
		`SELECT id, lab_id, question_text, explanation, question_order FROM questions WHERE id=$1`, id,
	).Scan(&q.ID, &q.LabID, &q.Text, &q.Explanation, &q.Order)
	if err != nil {
		return domain.Question{}, mapErr("get question", err)
	}
	return q, nil
}

func (s *Store) ListQuestionsByLab(ctx context.Context, labID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lab_id, question_text, explanation, question_order
		FROM questions WHERE lab_id=$1 ORDER BY question_order`, labID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.LabID, &q.Text, &q.Explanation, &q.Order); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) CountQuestionsByLab(ctx context.Context, labID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE lab_id=$1`, labID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

func (s *Store) InsertOption(ctx context.Context, o domain.Option) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO question_options (id, question_id, option_text, option_order, is_correct)
		VALUES ($1,$2,$3,$4,$5)`,
		o.ID, o.QuestionID, o.Text, o.Order, o.IsCorrect,
	)
	if err != nil {
		return fmt.Errorf("insert option: %w", err)
	}
	return nil
}

func (s *Store) UpdateOption(ctx context.Context, o domain.Option) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE question_options SET option_text=$2, option_order=$3, is_correct=$4 WHERE id=$1`,
		o.ID, o.Text, o.Order, o.IsCorrect,
	)
	if err != nil {
		return fmt.Errorf("update option: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) GetOption(ctx context.Context, id string) (domain.Option, error) {
	var o domain.Option
	err := s.pool.QueryRow(ctx,
		`SELECT id, question_id, option_text, option_order, is_correct FROM question_options WHERE id=$1`, id,
	).Scan(&o.ID, &o.QuestionID, &o.Text, &o.Order, &o.IsCorrect)
	if err != nil {
		return domain.Option{}, mapErr("get option", err)
	}
	return o, nil
}

func (s *Store) ListOptionsByQuestion(ctx context.Context, questionID string) ([]domain.Option, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, question_id, option_text, option_order, is_correct
		FROM question_options WHERE question_id=$1 ORDER BY option_order`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	var out []domain.Option
	for rows.Next() {
		var o domain.Option
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Text, &o.Order, &o.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- sessions ---

const sessionColumns = `id, lab_id, user_id, attempt_number, status, started_at,
	completed_at, total_score, total_questions, correct_answers,
	current_question_order, last_activity`

func (s *Store) InsertSession(ctx context.Context, sess domain.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lab_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		sess.ID, sess.LabID, sess.UserID, sess.AttemptNumber, sess.Status,
		sess.StartedAt, sess.CompletedAt, sess.TotalScore, sess.TotalQuestions,
		sess.CorrectAnswers, sess.CurrentQuestionOrder, sess.LastActivity,
	)
	if err != nil {
		// The lab_sessions_one_in_progress unique index rejects a second
		// in_progress row for the same (lab, user) across instances.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM lab_sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	if err != nil {
		return domain.Session{}, mapErr("get session", err)
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess domain.Session) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lab_sessions SET
			status=$2, completed_at=$3, total_score=$4, correct_answers=$5,
			current_question_order=$6, last_activity=$7
		WHERE id=$1`,
		sess.ID, sess.Status, sess.CompletedAt, sess.TotalScore,
		sess.CorrectAnswers, sess.CurrentQuestionOrder, sess.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) FindInProgress(ctx context.Context, labID, userID string) (domain.Session, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM lab_sessions
		WHERE lab_id=$1 AND user_id=$2 AND status='in_progress'
		ORDER BY started_at DESC LIMIT 1`, labID, userID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("find in-progress session: %w", err)
	}
	return sess, true, nil
}

func (s *Store) CountAttempts(ctx context.Context, labID, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM lab_sessions WHERE lab_id=$1 AND user_id=$2`, labID, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *Store) ListSessionsByLab(ctx context.Context, labID string) ([]domain.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM lab_sessions
		WHERE lab_id=$1 ORDER BY last_activity DESC`, labID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (domain.Session, error) {
	var sess domain.Session
	err := row.Scan(
		&sess.ID, &sess.LabID, &sess.UserID, &sess.AttemptNumber, &sess.Status,
		&sess.StartedAt, &sess.CompletedAt, &sess.TotalScore, &sess.TotalQuestions,
		&sess.CorrectAnswers, &sess.CurrentQuestionOrder, &sess.LastActivity,
	)
	return sess, err
}

// --- answers ---

func (s *Store) GetAnswer(ctx context.Context, sessionID, questionID string) (domain.Answer, bool, error) {
	var a domain.Answer
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, question_id, selected_option_id, is_correct, answered_at
		FROM user_answers WHERE session_id=$1 AND question_id=$2`, sessionID, questionID,
	).Scan(&a.SessionID, &a.QuestionID, &a.SelectedOptionID, &a.IsCorrect, &a.AnsweredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Answer{}, false, nil
	}
	if err != nil {
		return domain.Answer{}, false, fmt.Errorf("get answer: %w", err)
	}
	return a, true, nil
}

func (s *Store) PutAnswer(ctx context.Context, a domain.Answer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_answers (session_id, question_id, selected_option_id, is_correct, answered_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id, question_id) DO UPDATE SET
			selected_option_id=EXCLUDED.selected_option_id,
			is_correct=EXCLUDED.is_correct,
			answered_at=EXCLUDED.answered_at`,
		a.SessionID, a.QuestionID, a.SelectedOptionID, a.IsCorrect, a.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("put answer: %w", err)
	}
	return nil
}

func (s *Store) ListAnswersBySession(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	return s.listAnswers(ctx, `
		SELECT session_id, question_id, selected_option_id, is_correct, answered_at
		FROM user_answers WHERE session_id=$1 ORDER BY answered_at, question_id`, sessionID)
}

func (s *Store) ListAnswersByQuestion(ctx context.Context, questionID string) ([]domain.Answer, error) {
	return s.listAnswers(ctx, `
		SELECT session_id, question_id, selected_option_id, is_correct, answered_at
		FROM user_answers WHERE question_id=$1 ORDER BY answered_at`, questionID)
}

func (s *Store) listAnswers(ctx context.Context, query, arg string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var out []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.SelectedOptionID, &a.IsCorrect, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- generation tasks ---

func (s *Store) UpsertTask(ctx context.Context, t domain.GenerationTask) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generation_tasks (lab_id, status, step, message, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (lab_id) DO UPDATE SET
			status=EXCLUDED.status, step=EXCLUDED.step,
			message=EXCLUDED.message, updated_at=EXCLUDED.updated_at`,
		t.LabID, t.Status, t.Step, t.Message, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, labID string) (domain.GenerationTask, bool, error) {
	var t domain.GenerationTask
	err := s.pool.QueryRow(ctx,
		`SELECT lab_id, status, step, message, updated_at FROM generation_tasks WHERE lab_id=$1`, labID,
	).Scan(&t.LabID, &t.Status, &t.Step, &t.Message, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GenerationTask{}, false, nil
	}
	if err != nil {
		return domain.GenerationTask{}, false, fmt.Errorf("get task: %w", err)
	}
	return t, true, nil
}

func mapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
