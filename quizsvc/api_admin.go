package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/middleware"
	"github.com/dailyquiz/quizsvc/scheduler"
	"github.com/dailyquiz/quizsvc/store"
)

// handleAdminTransition is shared by the lock/start/end admin endpoints:
// each is a thin FSM.Transition call, audited with the caller's user id as
// actor, matching the teacher's admin endpoints that delegate straight into
// Reconciler/Scheduler methods rather than re-implementing logic inline.
func (a *API) handleAdminTransition(to store.QuizState) http.HandlerFunc {
	return a.withIdempotency(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Date string `json:"date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date == "" {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: &errorBody{Code: "invalid_body", Message: "date is required"}})
			return
		}

		actor, _ := middleware.UserIDFromContext(r.Context())
		if actor == "" {
			actor = "ADMIN"
		}

		quiz, err := a.engine.FSM.Transition(r.Context(), req.Date, to, actor, a.engine.Calendar.Now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeData(w, http.StatusOK, quiz)
	})
}

// handleAdminDraft implements a DRAFT quiz creation endpoint: an operator
// submits a day's question set and fixed timing, producing a row the
// Scheduler will later walk through SCHEDULED onward once explicitly
// scheduled via handleAdminSchedule.
func (a *API) handleAdminDraft(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Date                     string   `json:"date"`
		ClassGrade               string   `json:"classGrade"`
		QuestionIDs              []string `json:"questionIds"`
		QuestionTimeLimitSeconds int      `json:"questionTimeLimitSeconds"`
		TotalDurationSeconds     int      `json:"totalDurationSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: &errorBody{Code: "invalid_body", Message: "invalid request body"}})
		return
	}
	if len(req.QuestionIDs) != store.QuestionCount {
		writeEngineError(w, enginerr.New(enginerr.KindValidation, "wrong_question_count", "a daily quiz requires exactly 50 question ids"))
		return
	}

	actor, _ := middleware.UserIDFromContext(r.Context())
	now := a.engine.Calendar.Now()
	quiz := scheduler.NewDraftQuiz(req.Date, req.ClassGrade, actor, req.QuestionIDs, req.QuestionTimeLimitSeconds, req.TotalDurationSeconds, now)
	if err := a.engine.Store.UpsertQuiz(r.Context(), quiz); err != nil {
		writeEngineError(w, err)
		return
	}
	writeData(w, http.StatusOK, quiz)
}

// handleAdminSchedule moves a DRAFT quiz into SCHEDULED.
func (a *API) handleAdminSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: &errorBody{Code: "invalid_body", Message: "date is required"}})
		return
	}
	actor, _ := middleware.UserIDFromContext(r.Context())
	quiz, err := scheduler.ScheduleDraft(r.Context(), a.engine.FSM, req.Date, actor, a.engine.Calendar.Now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeData(w, http.StatusOK, quiz)
}

// handleForceFinalize is reserved for a super-admin disaster-recovery path:
// it runs the Finalizer directly rather than waiting for the Scheduler's
// next ENDED tick, for a day that is stuck for any reason.
func (a *API) handleForceFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: &errorBody{Code: "invalid_body", Message: "date is required"}})
		return
	}

	actor, _ := middleware.UserIDFromContext(r.Context())
	log.Printf("[ADMIN] force-finalize requested by %s for %s", actor, req.Date)

	if err := a.engine.Finalizer.Run(r.Context(), req.Date, a.engine.Calendar.Now()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "finalized"})
}

// handleIncident exposes the anti-cheat incident report for one user/date,
// for manual review by an admin.
func (a *API) handleIncident(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	date := r.URL.Query().Get("date")
	if userID == "" || date == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: &errorBody{Code: "invalid_query", Message: "userId and date are required"}})
		return
	}
	report, err := a.engine.Hooks.CaptureIncident(r.Context(), userID, date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if report == nil {
		writeEngineError(w, enginerr.ErrAttemptNotFound)
		return
	}
	writeData(w, http.StatusOK, report)
}

// withIdempotency wraps next so a retried admin mutation carrying the same
// Idempotency-Key header replays the original response instead of
// re-running the transition, mirroring the teacher's api.go withIdempotency.
func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}

		if resp, found := a.engine.Idempotency.Get(r.Context(), key); found {
			for k, vs := range resp.Headers {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		a.engine.Idempotency.Set(r.Context(), key, responseFromRecorder(rec))
	}
}
