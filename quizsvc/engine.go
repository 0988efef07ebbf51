package main

import (
	"context"
	"time"

	"github.com/dailyquiz/quizsvc/admission"
	"github.com/dailyquiz/quizsvc/answer"
	"github.com/dailyquiz/quizsvc/audit"
	"github.com/dailyquiz/quizsvc/auth"
	"github.com/dailyquiz/quizsvc/clock"
	"github.com/dailyquiz/quizsvc/coordination"
	"github.com/dailyquiz/quizsvc/finalizer"
	"github.com/dailyquiz/quizsvc/fsm"
	"github.com/dailyquiz/quizsvc/idempotency"
	"github.com/dailyquiz/quizsvc/integrity"
	"github.com/dailyquiz/quizsvc/observability"
	"github.com/dailyquiz/quizsvc/question"
	"github.com/dailyquiz/quizsvc/resilience"
	"github.com/dailyquiz/quizsvc/scheduler"
	"github.com/dailyquiz/quizsvc/store"
	"github.com/dailyquiz/quizsvc/streaming"
)

// Engine owns every long-lived component wired together for one running
// process: the durable store, the ephemeral coordinator, the FSM, the
// Admission Service, the question/answer pipeline, the Finalizer, the push
// channel hub, and the ambient cross-cutting pieces (audit log,
// degraded-mode tracker, idempotency caches, JWT issuer). It plays the role
// the teacher's main.go fills with a flat set of package-level locals,
// collected into one struct here because this repo has more moving pieces
// than a single main() can wire readably inline.
type Engine struct {
	Config *Config

	Store       store.Store
	Coordinator coordination.Coordinator
	Calendar    *clock.Calendar

	FSM       *fsm.FSM
	Question  *question.Server
	Answer    *answer.Ingestor
	Admission *admission.Service
	Finalizer *finalizer.Finalizer
	Scheduler *scheduler.Scheduler

	Hooks   *observability.Hooks
	Hub     *streaming.Hub
	Audit   *audit.Log
	Degraded *resilience.DegradedMode
	Janitor *coordination.LockJanitor

	Auth           *auth.Issuer
	Idempotency    *idempotency.Store
	WebhookGuard   *idempotency.WebhookGuard
	IntegritySigner *integrity.Signer
}

// NewEngine wires every component against the already-connected store and
// coordinator, following the teacher's pattern of constructing concrete
// dependencies first (store, then elector, then scheduler) before handing
// them to the API layer.
func NewEngine(cfg *Config, s store.Store, c coordination.Coordinator) (*Engine, error) {
	cal, err := clock.NewCalendar(cfg.CivilZone)
	if err != nil {
		return nil, err
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	privKey, err := LoadIntegrityKey(cfg)
	if err != nil {
		return nil, err
	}
	signer := integrity.NewSigner(privKey)

	hub := streaming.NewHub()
	hooks := observability.New(s, hub)
	f := fsm.New(s)
	q := question.New(s, c)
	a := answer.New(s, c, hooks)
	adm := admission.New(s, c, hooks)
	fin := finalizer.New(s, c, f, signer, hooks, cfg.NodeID)
	sched := scheduler.New(s, c, cal, f, q, fin, cfg.Schedule, cfg.NodeID)

	degraded := resilience.NewDegradedMode()
	janitor := coordination.NewLockJanitor(c, 60*time.Second)
	auditLog := audit.NewLog(s)

	idemStore := idempotency.NewStore(nil)
	webhookGuard := idempotency.NewWebhookGuard(s)

	return &Engine{
		Config:          cfg,
		Store:           s,
		Coordinator:     c,
		Calendar:        cal,
		FSM:             f,
		Question:        q,
		Answer:          a,
		Admission:       adm,
		Finalizer:       fin,
		Scheduler:       sched,
		Hooks:           hooks,
		Hub:             hub,
		Audit:           auditLog,
		Degraded:        degraded,
		Janitor:         janitor,
		Auth:            issuer,
		Idempotency:     idemStore,
		WebhookGuard:    webhookGuard,
		IntegritySigner: signer,
	}, nil
}

// Start launches every background loop: the push channel hub, the
// scheduler's lifecycle/advancement tick, and the lock janitor. It does not
// block; the caller's http.ListenAndServe is the process's blocking call,
// matching the teacher's `go api.wsHub.Run(ctx)` / `elector.Start(ctx)`
// fire-and-continue startup shape.
func (e *Engine) Start(ctx context.Context) {
	go e.Hub.Run(ctx)
	go e.Scheduler.Run(ctx)
	e.Janitor.Start(ctx)
}
