package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend. It is the only
// authoritative backend in production; Redis (see coordination package)
// never holds a row that PostgresStore also owns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 30
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) UpsertQuiz(ctx context.Context, q *Quiz) error {
	query := `
		INSERT INTO quizzes (date, question_ids, class_grade, state, created_by, question_time_limit_seconds, total_duration_seconds, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (date) DO UPDATE SET
			question_ids = EXCLUDED.question_ids,
			class_grade = EXCLUDED.class_grade,
			created_by = EXCLUDED.created_by,
			question_time_limit_seconds = EXCLUDED.question_time_limit_seconds,
			total_duration_seconds = EXCLUDED.total_duration_seconds,
			scheduled_at = EXCLUDED.scheduled_at,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		q.Date, q.QuestionIDs, q.ClassGrade, q.State, q.CreatedBy,
		q.QuestionTimeLimitSeconds, q.TotalDurationSeconds, q.ScheduledAt,
	)
	return err
}

func (s *PostgresStore) GetQuiz(ctx context.Context, date string) (*Quiz, error) {
	query := `
		SELECT date, question_ids, class_grade, state, created_by, question_time_limit_seconds, total_duration_seconds,
			scheduled_at, locked_at, payment_closed_at, live_at, ended_at, finalized_at, result_published_at, created_at, updated_at
		FROM quizzes WHERE date = $1
	`
	var q Quiz
	err := s.pool.QueryRow(ctx, query, date).Scan(
		&q.Date, &q.QuestionIDs, &q.ClassGrade, &q.State, &q.CreatedBy,
		&q.QuestionTimeLimitSeconds, &q.TotalDurationSeconds,
		&q.ScheduledAt, &q.LockedAt, &q.PaymentClosedAt, &q.LiveAt, &q.EndedAt,
		&q.FinalizedAt, &q.ResultPublishedAt, &q.CreatedAt, &q.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// CompareAndSwapQuizState performs the single-row conditional update backing
// every FSM transition: the WHERE clause pins the expected current state, so
// a losing concurrent caller gets zero rows affected, not a corrupted write.
func (s *PostgresStore) CompareAndSwapQuizState(ctx context.Context, date string, fromState, toState QuizState, tsField string, ts time.Time) (*Quiz, error) {
	if !validTimestampField(tsField) {
		return nil, errors.New("invalid timestamp field: " + tsField)
	}
	query := `
		UPDATE quizzes SET state = $1, ` + tsField + ` = $2, updated_at = $2
		WHERE date = $3 AND state = $4
	`
	tag, err := s.pool.Exec(ctx, query, toState, ts, date, fromState)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, &ConflictError{Msg: "quiz " + date + " not in expected state " + string(fromState)}
	}
	return s.GetQuiz(ctx, date)
}

func validTimestampField(f string) bool {
	switch f {
	case "locked_at", "payment_closed_at", "live_at", "ended_at", "finalized_at", "result_published_at":
		return true
	}
	return false
}

func (s *PostgresStore) GetQuestions(ctx context.Context, ids []string) ([]*Question, error) {
	query := `SELECT id, text, options, correct_option FROM questions WHERE id = ANY($1)`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*Question, len(ids))
	for rows.Next() {
		var q Question
		var opts []string
		if err := rows.Scan(&q.ID, &q.Text, &opts, &q.CorrectOption); err != nil {
			return nil, err
		}
		copy(q.Options[:], opts)
		byID[q.ID] = &q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*Question, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, errors.New("question not found: " + id)
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, userID, date string) (*Attempt, error) {
	query := `
		SELECT id, user_id, date, permutation, option_perm, answers, answered_at, question_started_at,
			committed_question_id, device_hash, eligibility_eligible, eligibility_reason,
			quiz_started_at, completed_at, finalized_at, score, counted, created_at
		FROM attempts WHERE user_id = $1 AND date = $2
	`
	var a Attempt
	err := s.pool.QueryRow(ctx, query, userID, date).Scan(
		&a.ID, &a.UserID, &a.Date, &a.Permutation, &a.OptionPerm, &a.Answers, &a.AnsweredAt,
		&a.QuestionStartedAt, &a.CommittedQuestionID, &a.DeviceHash,
		&a.Eligibility.Eligible, &a.Eligibility.Reason,
		&a.QuizStartedAt, &a.CompletedAt, &a.FinalizedAt, &a.Score, &a.Counted, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertAttemptIfAbsent relies on a unique (user_id, date) constraint: a
// conflict means another admission request already created the row, so we
// fetch and return the winner rather than erroring.
func (s *PostgresStore) InsertAttemptIfAbsent(ctx context.Context, a *Attempt) (*Attempt, bool, error) {
	query := `
		INSERT INTO attempts (id, user_id, date, permutation, option_perm, answers, answered_at, question_started_at,
			committed_question_id, device_hash, eligibility_eligible, eligibility_reason, quiz_started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (user_id, date) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		a.ID, a.UserID, a.Date, a.Permutation, a.OptionPerm, a.Answers, a.AnsweredAt,
		a.QuestionStartedAt, a.CommittedQuestionID, a.DeviceHash,
		a.Eligibility.Eligible, a.Eligibility.Reason, a.QuizStartedAt,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.GetAttempt(ctx, a.UserID, a.Date)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	created, err := s.GetAttempt(ctx, a.UserID, a.Date)
	return created, true, err
}

func (s *PostgresStore) SetAnswerIfUnset(ctx context.Context, userID, date string, slot int, chosenOriginalIndex int, answeredAt time.Time) (bool, error) {
	query := `
		UPDATE attempts SET
			answers[$3] = $4,
			answered_at[$3] = $5
		WHERE user_id = $1 AND date = $2 AND answers[$3] IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, userID, date, slot+1, chosenOriginalIndex, answeredAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 0, nil
}

func (s *PostgresStore) StampQuestionStartedAtIfUnset(ctx context.Context, userID, date string, slot int, questionID string, startedAt time.Time) (*Attempt, error) {
	query := `
		UPDATE attempts SET
			question_started_at[$3] = $4,
			committed_question_id[$3] = $5
		WHERE user_id = $1 AND date = $2 AND question_started_at[$3] IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, userID, date, slot+1, startedAt, questionID); err != nil {
		return nil, err
	}
	return s.GetAttempt(ctx, userID, date)
}

func (s *PostgresStore) MarkAttemptCompleted(ctx context.Context, userID, date string, completedAt time.Time) error {
	query := `UPDATE attempts SET completed_at = $3 WHERE user_id = $1 AND date = $2 AND completed_at IS NULL`
	_, err := s.pool.Exec(ctx, query, userID, date, completedAt)
	return err
}

func (s *PostgresStore) SetAttemptFinalization(ctx context.Context, userID, date string, score int, counted bool, finalizedAt time.Time) error {
	query := `UPDATE attempts SET score = $3, counted = $4, finalized_at = $5 WHERE user_id = $1 AND date = $2`
	_, err := s.pool.Exec(ctx, query, userID, date, score, counted, finalizedAt)
	return err
}

func (s *PostgresStore) ListAttemptsForDate(ctx context.Context, date string) ([]*Attempt, error) {
	query := `
		SELECT id, user_id, date, permutation, option_perm, answers, answered_at, question_started_at,
			committed_question_id, device_hash, eligibility_eligible, eligibility_reason,
			quiz_started_at, completed_at, finalized_at, score, counted, created_at
		FROM attempts WHERE date = $1 ORDER BY user_id
	`
	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Date, &a.Permutation, &a.OptionPerm, &a.Answers, &a.AnsweredAt,
			&a.QuestionStartedAt, &a.CommittedQuestionID, &a.DeviceHash,
			&a.Eligibility.Eligible, &a.Eligibility.Reason,
			&a.QuizStartedAt, &a.CompletedAt, &a.FinalizedAt, &a.Score, &a.Counted, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPayment(ctx context.Context, userID, date string) (*Payment, error) {
	query := `
		SELECT id, user_id, date, status, type, amount_paise, external_ref, event_id, captured_at, refunded_at, created_at, updated_at
		FROM payments WHERE user_id = $1 AND date = $2
	`
	var p Payment
	err := s.pool.QueryRow(ctx, query, userID, date).Scan(
		&p.ID, &p.UserID, &p.Date, &p.Status, &p.Type, &p.AmountPaise, &p.ExternalRef,
		&p.EventID, &p.CapturedAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpsertPayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (id, user_id, date, status, type, amount_paise, external_ref, event_id, captured_at, refunded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (user_id, date) DO UPDATE SET
			status = EXCLUDED.status, amount_paise = EXCLUDED.amount_paise,
			external_ref = EXCLUDED.external_ref, event_id = EXCLUDED.event_id,
			captured_at = EXCLUDED.captured_at, refunded_at = EXCLUDED.refunded_at, updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Date, p.Status, p.Type, p.AmountPaise, p.ExternalRef, p.EventID,
		p.CapturedAt, p.RefundedAt,
	)
	return err
}

var paymentRankSQL = map[PaymentStatus]int{
	PaymentCreated:  0,
	PaymentVerified: 1,
	PaymentSuccess:  2,
	PaymentLate:     2,
	PaymentFailed:   2,
	PaymentRefunded: 3,
}

// SetPaymentStatusIfForward is enforced in application code (not a SQL CASE
// rank expression) to keep the forward-order table in one place shared with
// MemoryStore, matching the teacher's preference for app-level invariant
// checks over stored procedures.
func (s *PostgresStore) SetPaymentStatusIfForward(ctx context.Context, userID, date string, status PaymentStatus, capturedAt *time.Time) (bool, error) {
	current, err := s.GetPayment(ctx, userID, date)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, errors.New("payment not found")
	}
	if status != PaymentRefunded && paymentRankSQL[status] < paymentRankSQL[current.Status] {
		return false, nil
	}
	query := `UPDATE payments SET status = $3, captured_at = COALESCE($4, captured_at), refunded_at = CASE WHEN $3 = 'REFUNDED' THEN NOW() ELSE refunded_at END, updated_at = NOW() WHERE user_id = $1 AND date = $2`
	_, err = s.pool.Exec(ctx, query, userID, date, status, capturedAt)
	return err == nil, err
}

// ConsumeFreeCredit decrements free_credits.balance in one statement so a
// racing pair of join requests for the same user can never both consume the
// last credit.
func (s *PostgresStore) ConsumeFreeCredit(ctx context.Context, userID string) (bool, error) {
	query := `UPDATE free_credits SET balance = balance - 1 WHERE user_id = $1 AND balance > 0`
	tag, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) HasProcessedWebhookEvent(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM webhook_events WHERE event_id = $1 AND expires_at > NOW())`
	err := s.pool.QueryRow(ctx, query, eventID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) MarkWebhookEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	query := `
		INSERT INTO webhook_events (event_id, expires_at) VALUES ($1, NOW() + $2)
		ON CONFLICT (event_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`
	_, err := s.pool.Exec(ctx, query, eventID, ttl)
	return err
}

func (s *PostgresStore) DeletePartialWinners(ctx context.Context, date string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM winners WHERE date = $1`, date)
	return err
}

func (s *PostgresStore) InsertWinners(ctx context.Context, winners []*Winner) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO winners (date, rank, user_id, attempt_id, score, total_time_ms, accuracy,
			quiz_integrity_hash, attempt_integrity_hash, joined_late_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`
	for _, w := range winners {
		batch.Queue(query, w.Date, w.Rank, w.UserID, w.AttemptID, w.Score, w.TotalTimeMs,
			w.Accuracy, w.QuizIntegrityHash, w.AttemptIntegrityHash, w.JoinedLateSeconds)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range winners {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListWinners(ctx context.Context, date string) ([]*Winner, error) {
	query := `
		SELECT date, rank, user_id, attempt_id, score, total_time_ms, accuracy,
			quiz_integrity_hash, attempt_integrity_hash, joined_late_seconds, created_at
		FROM winners WHERE date = $1 ORDER BY rank
	`
	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Winner
	for rows.Next() {
		var w Winner
		if err := rows.Scan(&w.Date, &w.Rank, &w.UserID, &w.AttemptID, &w.Score, &w.TotalTimeMs,
			&w.Accuracy, &w.QuizIntegrityHash, &w.AttemptIntegrityHash, &w.JoinedLateSeconds, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	query := `
		INSERT INTO durable_epochs (resource_id, epoch) VALUES ($1, 1)
		ON CONFLICT (resource_id) DO UPDATE SET epoch = durable_epochs.epoch + 1
		RETURNING epoch
	`
	var epoch int64
	err := s.pool.QueryRow(ctx, query, resourceID).Scan(&epoch)
	return epoch, err
}

func (s *PostgresStore) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `SELECT epoch FROM durable_epochs WHERE resource_id = $1`, resourceID).Scan(&epoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return epoch, err
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	query := `
		INSERT INTO audit_records (id, date, actor, action, before, after, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query, rec.ID, rec.Date, rec.Actor, rec.Action, rec.Before, rec.After, rec.Metadata, rec.Timestamp)
	return err
}

func (s *PostgresStore) ListAudit(ctx context.Context, date string) ([]*AuditRecord, error) {
	query := `SELECT id, date, actor, action, before, after, metadata, timestamp FROM audit_records WHERE date = $1 ORDER BY timestamp`
	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.Date, &r.Actor, &r.Action, &r.Before, &r.After, &r.Metadata, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
