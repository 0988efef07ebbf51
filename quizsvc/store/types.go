package store

import "time"

// QuizState is a value in the Lifecycle FSM (see fsm package).
type QuizState string

const (
	StateDraft            QuizState = "DRAFT"
	StateScheduled        QuizState = "SCHEDULED"
	StateLocked           QuizState = "LOCKED"
	StatePaymentClosed    QuizState = "PAYMENT_CLOSED"
	StateLive             QuizState = "LIVE"
	StateEnded            QuizState = "ENDED"
	StateFinalized        QuizState = "FINALIZED"
	StateResultPublished  QuizState = "RESULT_PUBLISHED"
)

// Question is immutable once a Quiz references it for a given day.
type Question struct {
	ID            string   `json:"id" db:"id"`
	Text          string   `json:"text" db:"text"`
	Options       [4]string `json:"options" db:"options"`
	CorrectOption int      `json:"-" db:"correct_option"` // never serialized to clients
}

// Quiz is keyed by civil date "YYYY-MM-DD", one per day.
type Quiz struct {
	Date                     string    `json:"date" db:"date"`
	QuestionIDs              []string  `json:"question_ids" db:"question_ids"` // exactly 50, immutable once LIVE
	ClassGrade               string    `json:"class_grade" db:"class_grade"`
	State                    QuizState `json:"state" db:"state"`
	CreatedBy                string    `json:"created_by" db:"created_by"`
	QuestionTimeLimitSeconds int       `json:"question_time_limit_seconds" db:"question_time_limit_seconds"`
	TotalDurationSeconds     int       `json:"total_duration_seconds" db:"total_duration_seconds"`

	ScheduledAt       time.Time  `json:"scheduled_at" db:"scheduled_at"`
	LockedAt          *time.Time `json:"locked_at,omitempty" db:"locked_at"`
	PaymentClosedAt   *time.Time `json:"payment_closed_at,omitempty" db:"payment_closed_at"`
	LiveAt            *time.Time `json:"live_at,omitempty" db:"live_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`
	ResultPublishedAt *time.Time `json:"result_published_at,omitempty" db:"result_published_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// QuestionCount is the fixed number of questions per daily quiz.
const QuestionCount = 50

// EligibilityReason is a member of the closed reason set in §4.2.
type EligibilityReason string

const (
	ReasonEligible               EligibilityReason = "ELIGIBLE"
	ReasonPaymentMissing         EligibilityReason = "PAYMENT_MISSING"
	ReasonQuizNotLive            EligibilityReason = "QUIZ_NOT_LIVE"
	ReasonProfileIncomplete      EligibilityReason = "PROFILE_INCOMPLETE"
	ReasonLateSubmission         EligibilityReason = "LATE_SUBMISSION"
	ReasonSubscriptionRequired   EligibilityReason = "SUBSCRIPTION_REQUIRED"
	ReasonInsufficientStreak     EligibilityReason = "INSUFFICIENT_STREAK"
	ReasonQuizEnded              EligibilityReason = "QUIZ_ENDED"
	ReasonRefundVoidsEligibility EligibilityReason = "REFUND_VOIDS_ELIGIBILITY"
)

// EligibilitySnapshot is captured once, at attempt creation, and never mutated.
type EligibilitySnapshot struct {
	Eligible bool              `json:"eligible"`
	Reason   EligibilityReason `json:"reason"`
}

// Attempt is the durable per-(user,date) participation record.
type Attempt struct {
	ID       string `json:"id" db:"id"`
	UserID   string `json:"user_id" db:"user_id"`
	Date     string `json:"date" db:"date"`

	// Permutation of question indices (0..49) in the order this user sees them.
	Permutation [QuestionCount]int `json:"permutation" db:"permutation"`
	// OptionPerm[slot] is a permutation of {0,1,2,3}; OptionPerm[slot][displayed] = original.
	OptionPerm [QuestionCount][4]int `json:"option_perm" db:"option_perm"`

	// Per-slot recorded answers. nil entry = not yet answered.
	Answers            [QuestionCount]*int       `json:"answers" db:"answers"`
	AnsweredAt         [QuestionCount]*time.Time `json:"answered_at" db:"answered_at"`
	QuestionStartedAt  [QuestionCount]*time.Time `json:"question_started_at" db:"question_started_at"`
	// CommittedQuestionID records the question id server-side bound to each slot
	// the first time it is served, so re-reads and answer submissions are checked
	// against a stable identity (§4.8 step 4).
	CommittedQuestionID [QuestionCount]string `json:"committed_question_id" db:"committed_question_id"`

	DeviceHash string `json:"-" db:"device_hash"`

	Eligibility EligibilitySnapshot `json:"eligibility" db:"eligibility"`

	QuizStartedAt time.Time  `json:"quiz_started_at" db:"quiz_started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	FinalizedAt   *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`

	Score   int  `json:"score" db:"score"`
	Counted bool `json:"counted" db:"counted"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AnsweredSlots reports how many of the attempt's 50 slots carry an answer.
func (a *Attempt) AnsweredSlots() int {
	n := 0
	for _, ans := range a.Answers {
		if ans != nil {
			n++
		}
	}
	return n
}

// PaymentStatus is a forward-only lifecycle except for REFUNDED.
type PaymentStatus string

const (
	PaymentCreated  PaymentStatus = "CREATED"
	PaymentVerified PaymentStatus = "VERIFIED"
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentLate     PaymentStatus = "LATE"
	PaymentRefunded PaymentStatus = "REFUNDED"
	PaymentFailed   PaymentStatus = "FAILED"
)

// PaymentType distinguishes a real gateway capture from a free-entry credit.
type PaymentType string

const (
	PaymentTypeGateway     PaymentType = "GATEWAY"
	PaymentTypeFreeCredit  PaymentType = "FREE_CREDIT"
)

// Payment is the (user, date)-unique payment record backing eligibility.
type Payment struct {
	ID          string        `json:"id" db:"id"`
	UserID      string        `json:"user_id" db:"user_id"`
	Date        string        `json:"date" db:"date"`
	Status      PaymentStatus `json:"status" db:"status"`
	Type        PaymentType   `json:"type" db:"type"`
	AmountPaise int64         `json:"amount_paise" db:"amount_paise"`
	ExternalRef string        `json:"external_ref" db:"external_ref"`
	EventID     string        `json:"event_id" db:"event_id"` // webhook idempotency key, empty for free credits
	CapturedAt  *time.Time    `json:"captured_at,omitempty" db:"captured_at"`
	RefundedAt  *time.Time    `json:"refunded_at,omitempty" db:"refunded_at"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// Winner is one published leaderboard row. (date, rank) and (date, user) are unique.
type Winner struct {
	Date                 string `json:"date" db:"date"`
	Rank                 int    `json:"rank" db:"rank"`
	UserID               string `json:"user_id" db:"user_id"`
	AttemptID             string `json:"attempt_id" db:"attempt_id"`
	Score                int    `json:"score" db:"score"`
	TotalTimeMs           int64  `json:"total_time_ms" db:"total_time_ms"`
	Accuracy              float64 `json:"accuracy" db:"accuracy"`
	QuizIntegrityHash     string `json:"quiz_integrity_hash" db:"quiz_integrity_hash"`
	AttemptIntegrityHash  string `json:"attempt_integrity_hash" db:"attempt_integrity_hash"`
	JoinedLateSeconds     int    `json:"joined_late_seconds" db:"joined_late_seconds"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
}

// MaxWinners is the published leaderboard size, N in §3.
const MaxWinners = 20

// ProgressEvent is one ephemeral audit row: a question-sent or answer-received tick.
type ProgressEvent struct {
	UserID string    `json:"user_id"`
	Date   string     `json:"date"`
	Slot   int        `json:"slot"`
	Kind   string     `json:"kind"` // "sent" | "answered"
	At     time.Time  `json:"at"`
}

// AuditRecord is emitted on every FSM transition and every admin mutation.
type AuditRecord struct {
	ID        string            `json:"id" db:"id"`
	Date      string            `json:"date" db:"date"`
	Actor     string            `json:"actor" db:"actor"` // "ADMIN" or "SYSTEM"
	Action    string            `json:"action" db:"action"`
	Before    string            `json:"before,omitempty" db:"before"`
	After     string            `json:"after,omitempty" db:"after"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	Timestamp time.Time         `json:"timestamp" db:"timestamp"`
}
