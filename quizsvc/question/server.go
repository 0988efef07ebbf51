package question

import (
	"context"
	"time"

	"github.com/dailyquiz/quizsvc/coordination"
	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/store"
)

// ClientSlot is the wire-safe view of the currently-live question for one
// user: the question text and their shuffled options, with no hint of
// which displayed index is correct.
type ClientSlot struct {
	Slot              int       `json:"slot"`
	QuestionID        string    `json:"question_id"`
	Text              string    `json:"text"`
	Options           [4]string `json:"options"`
	BroadcastAt       time.Time `json:"broadcast_at"`
	TimeLimitSeconds  int       `json:"time_limit_seconds"`
}

// Server resolves "what question is slot N for this user" against the
// coordinator's authoritative current-slot pointer, never against client
// wall-clock claims — the coordinator, not the client, owns advancement.
type Server struct {
	Store store.Store
	Coord coordination.Coordinator
}

func New(s store.Store, c coordination.Coordinator) *Server {
	return &Server{Store: s, Coord: c}
}

// CurrentSlot returns the question the coordinator currently has live for
// date, permuted into this attempt's view, and stamps (once) both the
// attempt's QuestionStartedAt/CommittedQuestionID and the coordinator's
// broadcast-at marker so every concurrent requester for the same slot sees
// exactly the same start instant.
func (s *Server) CurrentSlot(ctx context.Context, quiz *store.Quiz, attempt *store.Attempt, now time.Time) (*ClientSlot, error) {
	if quiz.State != store.StateLive {
		return nil, enginerr.ErrQuizNotLive
	}

	slot, ok, err := s.Coord.GetCurrentSlot(ctx, quiz.Date)
	if err != nil {
		return nil, err
	}
	if !ok {
		slot = 0
	}
	if slot >= store.QuestionCount {
		return nil, enginerr.New(enginerr.KindPrecondition, "quiz_complete", "all questions already served")
	}

	questionIndex := attempt.Permutation[slot]
	questionID := quiz.QuestionIDs[questionIndex]

	ttl := time.Duration(quiz.QuestionTimeLimitSeconds+5) * time.Second
	broadcastAt, err := s.Coord.StampSlotBroadcastAtIfUnset(ctx, quiz.Date, slot, now, ttl)
	if err != nil {
		return nil, err
	}

	if _, err := s.Store.StampQuestionStartedAtIfUnset(ctx, attempt.UserID, attempt.Date, slot, questionID, broadcastAt); err != nil {
		return nil, err
	}

	questions, err := s.Store.GetQuestions(ctx, []string{questionID})
	if err != nil {
		return nil, err
	}
	q := questions[0]

	perm := attempt.OptionPerm[slot]
	var displayed [4]string
	for displayIdx, originalIdx := range perm {
		displayed[displayIdx] = q.Options[originalIdx]
	}

	return &ClientSlot{
		Slot:             slot,
		QuestionID:       questionID,
		Text:             q.Text,
		Options:          displayed,
		BroadcastAt:      broadcastAt,
		TimeLimitSeconds: quiz.QuestionTimeLimitSeconds,
	}, nil
}

// Advance moves the coordinator's current-slot pointer forward. It is
// called by the Scheduler's advancement loop (one tick per question time
// limit), never by a client request.
func (s *Server) Advance(ctx context.Context, date string, toSlot int, ttl time.Duration) error {
	return s.Coord.SetCurrentSlot(ctx, date, toSlot, ttl)
}
