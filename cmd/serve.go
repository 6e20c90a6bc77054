package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/metrics"
	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/monitoring"
	"github.com/sells-group/openaq-sync/internal/pipeline"
)

var servePort int

// taskLister is the slice of the task log the HTTP API reads.
type taskLister interface {
	ListRecent(ctx context.Context, limit int) ([]model.TaskRun, error)
}

// pipelineRunner is what the scheduler triggers.
type pipelineRunner interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
}

// scheduler runs the pipeline at most once at a time.
type scheduler struct {
	runner  pipelineRunner
	pushURL string
	job     string

	mu sync.Mutex
	wg sync.WaitGroup
}

// trigger starts a run in the background. It returns false when a run is
// already in progress.
func (s *scheduler) trigger(ctx context.Context) bool {
	if !s.mu.TryLock() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.mu.Unlock()

		result, err := s.runner.Run(ctx)
		if err != nil {
			zap.L().Error("scheduled run failed", zap.Error(err))
		} else {
			zap.L().Info("scheduled run complete",
				zap.String("run_id", result.RunID),
				zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
			)
		}
		if err := metrics.Push(context.WithoutCancel(ctx), s.pushURL, s.job); err != nil {
			zap.L().Warn("metrics push failed", zap.Error(err))
		}
	}()
	return true
}

// loop triggers a run immediately and then every interval until ctx ends.
func (s *scheduler) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.trigger(ctx) {
				zap.L().Warn("previous run still in progress, skipping tick")
			}
		}
	}
}

func (s *scheduler) wait() { s.wg.Wait() }

func newRouter(ctx context.Context, runs taskLister, sched *scheduler, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		list, err := runs.ListRecent(req.Context(), limit)
		if err != nil {
			zap.L().Error("list task runs", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "task log unavailable"})
			return
		}
		if list == nil {
			list = []model.TaskRun{}
		}
		writeJSON(w, http.StatusOK, list)
	})

	r.Post("/runs", func(w http.ResponseWriter, _ *http.Request) {
		// Runs outlive the request; they stop with the server context.
		if !sched.trigger(ctx) {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "running"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline on a schedule and serve health, metrics and run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched := &scheduler{runner: env.Pipeline, pushURL: cfg.Metrics.PushgatewayURL, job: cfg.Metrics.Job}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(ctx, env.TaskLog, sched, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go sched.loop(ctx, cfg.Pipeline.Interval())

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.TaskLog, pipeline.TaskValidate),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.Duration("interval", cfg.Pipeline.Interval()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		sched.wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
