package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dailyquiz/quizsvc/admission"
	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/idempotency"
	"github.com/dailyquiz/quizsvc/middleware"
	"github.com/dailyquiz/quizsvc/store"
)

// API is the thin net/http dispatch layer over Engine, mirroring the
// teacher's api.go: handlers decode a request, call straight into an engine
// method, and translate the result into the normalized response envelope.
// No router library is introduced — http.ServeMux and simple path-prefix
// checks are all the teacher ever uses.
type API struct {
	engine *Engine
}

func NewAPI(e *Engine) *API {
	return &API{engine: e}
}

// envelope is the `{success, data|error, meta}` shape every handler writes,
// per the external-interfaces contract.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// responseRecorder captures a handler's response so withIdempotency can
// replay it verbatim on a retried request, matching the teacher's api.go
// responseRecorder.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (rec *responseRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	rec.body = append(rec.body, b...)
	return rec.ResponseWriter.Write(b)
}

func responseFromRecorder(rec *responseRecorder) idempotency.Response {
	return idempotency.Response{
		StatusCode: rec.statusCode,
		Body:       rec.body,
		Headers:    rec.Header(),
	}
}

// clientIP prefers a proxy-supplied X-Forwarded-For (first hop) and falls
// back to the connection's own remote address, matching the teacher's
// api.go fallback-to-RemoteAddr convention for trusting client-supplied
// network info only as a safety net.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}

// writeEngineError translates a typed enginerr.Error (or any other error)
// into the normalized envelope with a stable code and the matching HTTP
// status, per §7's propagation policy.
func writeEngineError(w http.ResponseWriter, err error) {
	engErr, ok := enginerr.As(err)
	if !ok {
		log.Printf("[API] unclassified error: %v", err)
		writeJSON(w, http.StatusInternalServerError, envelope{
			Success: false,
			Error:   &errorBody{Code: "internal", Message: "internal error"},
		})
		return
	}

	status := http.StatusInternalServerError
	switch engErr.Kind {
	case enginerr.KindValidation:
		status = http.StatusBadRequest
	case enginerr.KindAuthRequired:
		status = http.StatusUnauthorized
	case enginerr.KindForbidden, enginerr.KindDeviceMismatch:
		status = http.StatusForbidden
	case enginerr.KindNotFound:
		status = http.StatusNotFound
	case enginerr.KindConflict:
		status = http.StatusConflict
	case enginerr.KindPrecondition:
		status = http.StatusPreconditionFailed
	case enginerr.KindRateLimited:
		status = http.StatusTooManyRequests
	case enginerr.KindUpstream:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, envelope{
		Success: false,
		Error:   &errorBody{Code: engErr.Code, Message: engErr.Message},
	})
}

// handleToday implements `GET /quiz/today`.
func (a *API) handleToday(w http.ResponseWriter, r *http.Request) {
	date := a.engine.Calendar.Today()
	quiz, err := a.engine.Store.GetQuiz(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	now := a.engine.Calendar.Now()
	if quiz == nil {
		writeData(w, http.StatusOK, map[string]interface{}{
			"exists":     false,
			"serverTime": now,
		})
		return
	}

	userID, _ := middleware.UserIDFromContext(r.Context())
	participated := false
	eligible := false
	if userID != "" {
		attempt, err := a.engine.Store.GetAttempt(r.Context(), userID, date)
		if err == nil && attempt != nil {
			participated = true
			eligible = attempt.Eligibility.Eligible
		}
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"exists": true,
		"serverTime": now,
		"quiz": map[string]interface{}{
			"date":              quiz.Date,
			"state":             quiz.State,
			"isLive":            quiz.State == store.StateLive,
			"isCompleted":       quiz.State == store.StateEnded || quiz.State == store.StateFinalized || quiz.State == store.StateResultPublished,
			"totalQuestions":    store.QuestionCount,
			"userParticipated":  participated,
			"userEligible":      eligible,
			"classGrade":        quiz.ClassGrade,
		},
	})
}

// handleStatus implements `GET /quiz/status` with an ETag over the current
// state so pollers can cheaply short-circuit on 304, and an
// X-Poll-Interval hint mirroring the Scheduler's own tick cadence.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	date := a.engine.Calendar.Today()
	quiz, err := a.engine.Store.GetQuiz(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	state := "NO_QUIZ"
	if quiz != nil {
		state = string(quiz.State)
	}

	etag := `"` + date + ":" + state + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Poll-Interval", "5")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	writeData(w, http.StatusOK, map[string]string{"state": state})
}

type joinRequest struct {
	DeviceID            string `json:"deviceId"`
	DeviceFingerprint   string `json:"deviceFingerprint"`
	ProfileComplete     bool   `json:"profileComplete"`
	SubscriptionActive  bool   `json:"subscriptionActive"`
	SubscriptionRequired bool  `json:"subscriptionRequired"`
	CurrentStreakDays   int    `json:"currentStreakDays"`
	RequiredStreakDays  int    `json:"requiredStreakDays"`
}

// handleJoin implements `POST /quiz/join`.
func (a *API) handleJoin(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: &errorBody{Code: "auth_required", Message: "authentication required"}})
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: &errorBody{Code: "invalid_body", Message: "invalid request body"}})
		return
	}

	date := a.engine.Calendar.Today()
	now := a.engine.Calendar.Now()
	attempt, err := a.engine.Admission.Join(r.Context(), date, userID, req.DeviceID, req.DeviceFingerprint, clientIP(r), admission.EligibilityInput{
		ProfileComplete:      req.ProfileComplete,
		SubscriptionActive:   req.SubscriptionActive,
		SubscriptionRequired: req.SubscriptionRequired,
		CurrentStreakDays:    req.CurrentStreakDays,
		RequiredStreakDays:   req.RequiredStreakDays,
	}, now)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeData(w, http.StatusOK, map[string]string{"attemptId": attempt.ID})
}

// attemptForRequest loads today's quiz and the caller's attempt, the common
// prerequisite for every LIVE-phase handler.
func (a *API) attemptForRequest(r *http.Request) (*store.Quiz, *store.Attempt, string, error) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		return nil, nil, "", enginerr.New(enginerr.KindAuthRequired, "auth_required", "authentication required")
	}

	date := a.engine.Calendar.Today()
	quiz, err := a.engine.Store.GetQuiz(r.Context(), date)
	if err != nil {
		return nil, nil, userID, err
	}
	if quiz == nil {
		return nil, nil, userID, enginerr.ErrQuizNotFound
	}

	attempt, err := a.engine.Store.GetAttempt(r.Context(), userID, date)
	if err != nil {
		return nil, nil, userID, err
	}
	if attempt == nil {
		return nil, nil, userID, enginerr.ErrAttemptNotFound
	}

	return quiz, attempt, userID, nil
}

// handleCurrentQuestion implements `GET /quiz/current-question`.
func (a *API) handleCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	quiz, attempt, _, err := a.attemptForRequest(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	now := a.engine.Calendar.Now()
	slot, err := a.engine.Question.CurrentSlot(r.Context(), quiz, attempt, now)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	expiresAt := slot.BroadcastAt.Add(time.Duration(slot.TimeLimitSeconds) * time.Second)
	writeData(w, http.StatusOK, map[string]interface{}{
		"questionId": slot.QuestionID,
		"slot":       slot.Slot,
		"text":       slot.Text,
		"options":    slot.Options,
		"expiresAt":  expiresAt,
	})
}

type answerRequest struct {
	QuestionID         string `json:"questionId"`
	SelectedOptionIndex int   `json:"selectedOptionIndex"`
	DeviceID           string `json:"deviceId"`
	DeviceFingerprint  string `json:"deviceFingerprint"`
}

// handleAnswer implements `POST /quiz/answer`.
func (a *API) handleAnswer(w http.ResponseWriter, r *http.Request) {
	quiz, attempt, _, err := a.attemptForRequest(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: &errorBody{Code: "invalid_body", Message: "invalid request body"}})
		return
	}
	if admission.DeviceHash(req.DeviceID, req.DeviceFingerprint, clientIP(r)) != attempt.DeviceHash {
		a.engine.Hooks.RecordAntiCheat(attempt.UserID, quiz.Date, "device_mismatch")
		writeEngineError(w, enginerr.ErrDeviceMismatch)
		return
	}

	now := a.engine.Calendar.Now()
	isCorrect, err := a.engine.Answer.Submit(r.Context(), quiz, attempt, req.QuestionID, req.SelectedOptionIndex, now)
	alreadyAnswered := false
	if err == enginerr.ErrAlreadyAnswered {
		alreadyAnswered = true
		err = nil
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"isCorrect":       isCorrect,
		"alreadyAnswered": alreadyAnswered,
		"countsForScore":  attempt.Eligibility.Eligible,
	})
}

// handleFinish implements `POST /quiz/finish`.
func (a *API) handleFinish(w http.ResponseWriter, r *http.Request) {
	quiz, attempt, userID, err := a.attemptForRequest(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	now := a.engine.Calendar.Now()
	if err := a.engine.Store.MarkAttemptCompleted(r.Context(), userID, quiz.Date, now); err != nil {
		writeEngineError(w, err)
		return
	}

	// The authoritative score is only computed by the Finalizer once the
	// quiz ends; answeredSlots is a client-facing proxy so /quiz/finish can
	// report something meaningful immediately.
	writeData(w, http.StatusOK, map[string]interface{}{
		"score":      attempt.AnsweredSlots(),
		"counted":    attempt.Eligibility.Eligible,
		"isEligible": attempt.Eligibility.Eligible,
	})
}

// handleLeaderboard implements `GET /quiz/leaderboard/{date}`.
func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimPrefix(r.URL.Path, "/quiz/leaderboard/")
	if date == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: &errorBody{Code: "invalid_date", Message: "date path segment required"}})
		return
	}

	quiz, err := a.engine.Store.GetQuiz(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if quiz == nil {
		writeEngineError(w, enginerr.ErrQuizNotFound)
		return
	}
	switch quiz.State {
	case store.StateEnded, store.StateFinalized, store.StateResultPublished:
	default:
		writeEngineError(w, enginerr.New(enginerr.KindPrecondition, "leaderboard_not_ready", "leaderboard is not available until the quiz ends"))
		return
	}

	winners, err := a.engine.Store.ListWinners(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeData(w, http.StatusOK, winners)
}
