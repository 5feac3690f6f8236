package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hive-sim/internal/auth"
	"github.com/sells-group/hive-sim/internal/model"
	"github.com/sells-group/hive-sim/internal/sim"
	"github.com/sells-group/hive-sim/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the panel simulation API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.Migrate(ctx); err != nil {
			return err
		}

		api := &apiServer{env: e, authn: auth.HeaderAuthenticator{}, jobCtx: ctx}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
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

type apiServer struct {
	env    *env
	authn  auth.Authenticator
	jobCtx context.Context
}

func (a *apiServer) runCtx() context.Context {
	if a.jobCtx != nil {
		return a.jobCtx
	}
	return context.Background()
}

func (a *apiServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-User-ID"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", a.createJob)
		r.Get("/jobs", a.listJobs)
		r.Get("/jobs/{id}", a.getJob)
		r.Get("/jobs/{id}/results", a.getResults)
		r.Get("/credits", a.getBalance)
	})

	return r
}

// createJobRequest is the POST /api/v1/jobs body.
type createJobRequest struct {
	Question    string                `json:"question"`
	AnswerKinds model.AnswerKinds     `json:"answer_kinds"`
	PanelSize   int                   `json:"panel_size"`
	Perspective string                `json:"perspective"`
	CustomLabel string                `json:"custom_label"`
	Filter      *model.SamplingFilter `json:"filter"`
	Model       string                `json:"model"`
	Temperature *float64              `json:"temperature"`
	MaxTokens   int                   `json:"max_tokens"`
}

func (a *apiServer) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := a.env.Orchestrator.CreateJob(r.Context(), model.Job{
		RequesterRef: a.authn.UserID(r),
		Question:     req.Question,
		Kinds:        req.AnswerKinds,
		PanelSize:    req.PanelSize,
		Perspective:  model.Perspective(req.Perspective),
		CustomLabel:  req.CustomLabel,
		Filter:       req.Filter,
		Model:        req.Model,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		var vErr *sim.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		zap.L().Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create job failed")
		return
	}

	// The job outlives the request; it runs on the server context so a
	// shutdown signal interrupts it, not the client disconnecting.
	go func() {
		if err := a.env.Orchestrator.RunJob(a.runCtx(), job.ID); err != nil {
			zap.L().Error("job run failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, job)
}

func (a *apiServer) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.env.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		zap.L().Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{Requester: a.authn.UserID(r)}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := model.ParseJobStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		filter.Status = status
	}
	jobs, err := a.env.Store.ListJobs(r.Context(), filter)
	if err != nil {
		zap.L().Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// resultResponse is the GET /api/v1/jobs/{id}/results body: the answers
// flattened to one object per panel member.
type resultResponse struct {
	Question  string         `json:"question"`
	Responses []resultAnswer `json:"responses"`
}

type resultAnswer struct {
	Perspective string `json:"perspective"`
	Age         int    `json:"age"`
	Income      int    `json:"income"`
	State       string `json:"state"`
	OpenEnded   string `json:"open_ended,omitempty"`
	Likert      *int   `json:"likert,omitempty"`
}

func (a *apiServer) getResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results, err := a.env.Orchestrator.Results(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		// Known state mismatch: the job exists but is not completed.
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	out := resultResponse{
		Question:  results.Question,
		Responses: make([]resultAnswer, len(results.Answers)),
	}
	for i, ans := range results.Answers {
		out.Responses[i] = resultAnswer{
			Perspective: string(results.Perspective),
			Age:         ans.Persona.Age,
			Income:      ans.Persona.Income,
			State:       ans.Persona.Region,
			OpenEnded:   ans.OpenEnded,
			Likert:      ans.Likert,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *apiServer) getBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.authn.UserID(r)
	balance, err := a.env.Ledger.Balance(r.Context(), userID)
	if err != nil {
		zap.L().Error("credit balance failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "credit balance failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
