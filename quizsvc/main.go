package main

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dailyquiz/quizsvc/coordination"
	"github.com/dailyquiz/quizsvc/middleware"
	"github.com/dailyquiz/quizsvc/store"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	s, err := store.NewPostgresStore(ctx, cfg.StoreConnString)
	if err != nil {
		log.Fatalf("store: failed to connect: %v", err)
	}
	log.Printf("connected to durable store")

	coord, err := coordination.NewRedisCoordinator(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("coordinator: failed to connect to %s: %v", cfg.RedisAddr, err)
	}
	log.Printf("connected to coordinator at %s", cfg.RedisAddr)

	engine, err := NewEngine(cfg, s, coord)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	engine.Start(ctx)

	api := NewAPI(engine)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/quiz/today", api.handleToday)
	mux.HandleFunc("/quiz/status", api.handleStatus)
	mux.Handle("/quiz/join", middleware.Auth(engine.Auth)(http.HandlerFunc(api.handleJoin)))
	mux.Handle("/quiz/current-question", middleware.Auth(engine.Auth)(http.HandlerFunc(api.handleCurrentQuestion)))
	mux.Handle("/quiz/answer", middleware.Auth(engine.Auth)(http.HandlerFunc(api.handleAnswer)))
	mux.Handle("/quiz/finish", middleware.Auth(engine.Auth)(http.HandlerFunc(api.handleFinish)))
	mux.HandleFunc("/quiz/leaderboard/", api.handleLeaderboard)

	mux.HandleFunc("/ws", api.handleWS)

	mux.HandleFunc("/webhooks/payment", api.handlePaymentWebhook)

	adminAuth := func(h http.HandlerFunc) http.Handler {
		return middleware.Auth(engine.Auth)(middleware.RequireAdmin(h))
	}
	mux.Handle("/admin/quiz/draft", adminAuth(api.handleAdminDraft))
	mux.Handle("/admin/quiz/schedule", adminAuth(api.handleAdminSchedule))
	mux.Handle("/admin/quiz/lock", adminAuth(api.handleAdminTransition(store.StateLocked)))
	mux.Handle("/admin/quiz/start", adminAuth(api.handleAdminTransition(store.StateLive)))
	mux.Handle("/admin/quiz/end", adminAuth(api.handleAdminTransition(store.StateEnded)))
	mux.Handle("/admin/quiz/force-finalize", adminAuth(api.handleForceFinalize))
	mux.Handle("/admin/incident", adminAuth(api.handleIncident))

	handler := middleware.CORS(mux)

	log.Printf("quizsvc listening on :8080 (node=%s, zone=%s)", cfg.NodeID, cfg.CivilZone)
	log.Fatal(http.ListenAndServe(":8080", handler))
}
