package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adviseriq/advisor-cli/internal/config"
	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/monitoring"
	"github.com/adviseriq/advisor-cli/internal/pipeline"
	"github.com/adviseriq/advisor-cli/internal/store"
	"github.com/adviseriq/advisor-cli/pkg/crm"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recommendation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Gateway)

		// Background alert checks, only when a webhook is configured.
		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		router := newRouter(env, collector, cfg.Monitoring)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			Handler:     router,
			ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.Server.ShutdownSecs)*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP API. Split out from the command so handler
// tests can run against an in-memory environment.
func newRouter(env *pipelineEnv, collector *monitoring.Collector, monCfg config.MonitoringConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		lookback := monCfg.LookbackWindowHours
		if lookback <= 0 {
			lookback = 24
		}
		snap, err := collector.Collect(req.Context(), lookback)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "collect metrics failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/customers/{id}/recommendations", func(w http.ResponseWriter, req *http.Request) {
		customerID := chi.URLParam(req, "id")

		result, err := env.Pipeline.Run(req.Context(), customerID)
		if err != nil {
			switch {
			case eris.Is(err, crm.ErrCustomerNotFound):
				writeError(w, http.StatusNotFound, "customer not found")
			case eris.Is(err, pipeline.ErrTimeout):
				writeError(w, http.StatusGatewayTimeout, "generation deadline exceeded")
			default:
				zap.L().Error("generation failed",
					zap.String("customer", customerID),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "generation failed")
			}
			return
		}

		writeJSON(w, http.StatusOK, result.Response())
	})

	r.Get("/customers/{id}/recommendations", func(w http.ResponseWriter, req *http.Request) {
		filter := store.Filter{
			CustomerID: chi.URLParam(req, "id"),
			Outcome:    model.OutcomeStatus(req.URL.Query().Get("outcome")),
			Category:   model.Category(req.URL.Query().Get("category")),
		}
		if months, err := strconv.Atoi(req.URL.Query().Get("months")); err == nil && months > 0 {
			filter.Since = time.Now().UTC().AddDate(0, -months, 0)
		}

		recs, err := env.Store.ListRecommendations(req.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
	})

	r.Get("/recommendations/{id}", func(w http.ResponseWriter, req *http.Request) {
		rec, contribs, err := env.Store.GetRecommendation(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "recommendation not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"recommendation": rec,
			"contributions":  contribs,
		})
	})

	r.Post("/recommendations/{id}/outcome", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Outcome string `json:"outcome"`
			AgentID string `json:"agent_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Outcome == "" {
			writeError(w, http.StatusBadRequest, "outcome is required")
			return
		}

		rec, err := env.Store.UpdateOutcome(req.Context(), chi.URLParam(req, "id"),
			model.OutcomeStatus(body.Outcome), body.AgentID)
		if err != nil {
			switch {
			case eris.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "recommendation not found")
			case eris.Is(err, store.ErrInvalidTransition):
				writeError(w, http.StatusConflict, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "update failed")
			}
			return
		}

		writeJSON(w, http.StatusOK, rec)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
