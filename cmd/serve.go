package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/pipeline"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload API and worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		// Jobs stranded by a previous shutdown go back on the queue.
		if _, err := e.Service.RequeuePending(ctx); err != nil {
			zap.L().Warn("requeue of pending jobs failed", zap.Error(err))
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(e.Service),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return e.Pool.Start(ctx, cfg.Worker.Count)
		})
		g.Go(func() error {
			zap.L().Info("http server listening", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func newRouter(svc *pipeline.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Tenant-ID", "X-Uploader-ID"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", handleSubmit(svc))
		r.Get("/", handleList(svc))
		r.Get("/{id}", handleGet(svc))
	})
	return r
}

// handleSubmit accepts a multipart upload: the "file" part plus an optional
// "mode" form value. Tenant and uploader arrive as headers set by the
// gateway.
func handleSubmit(svc *pipeline.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, int64(cfg.Server.MaxUploadBytes))
		if err := r.ParseMultipartForm(int64(cfg.Server.MaxUploadBytes)); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file part")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file part")
			return
		}

		job, err := svc.SubmitJob(r.Context(), pipeline.SubmitRequest{
			TenantID:   r.Header.Get("X-Tenant-ID"),
			UploaderID: r.Header.Get("X-Uploader-ID"),
			Filename:   header.Filename,
			Mode:       model.UploadMode(r.FormValue("mode")),
			Data:       data,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func handleGet(svc *pipeline.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			var nf *store.NotFoundError
			if errors.As(err, &nf) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			zap.L().Error("get job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleList(svc *pipeline.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := model.JobFilter{
			TenantID: r.Header.Get("X-Tenant-ID"),
			State:    model.JobState(r.URL.Query().Get("state")),
		}
		jobs, err := svc.ListJobs(r.Context(), filter)
		if err != nil {
			zap.L().Error("list jobs failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if jobs == nil {
			jobs = []model.UploadJob{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
