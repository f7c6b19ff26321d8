package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-pipeline/internal/capture"
	"github.com/sells-group/contact-pipeline/internal/merge"
	"github.com/sells-group/contact-pipeline/internal/schema"
	"github.com/sells-group/contact-pipeline/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture and research API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env, cfg.Server.Token),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			gracefulShutdown(srv)
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

func newRouter(env *env, token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))

		r.Post("/api/captures", handleSubmitCapture(env))
		r.Get("/api/captures/{id}", handleGetCapture(env))
		r.Post("/api/captures/{id}/retry", handleRetryCapture(env))

		r.Get("/api/contacts/{id}", handleGetContact(env))
		r.Post("/api/contacts/{id}/merge", handleMergeContact(env))
		r.Post("/api/contacts/{id}/research", handleResearch(env))
		r.Post("/api/contacts/{id}/research/stream", handleResearchStream(env))
	})

	return r
}

// bearerAuth rejects requests without the configured bearer token. An empty
// token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if got != token {
					writeError(w, http.StatusUnauthorized, "invalid or missing token")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// captureRequest is the JSON submission body. Images are inline base64.
type captureRequest struct {
	OwnerID      string `json:"owner_id"`
	WorkspaceID  string `json:"workspace_id"`
	Text         string `json:"text"`
	DeepResearch bool   `json:"deep_research"`
	Images       []struct {
		Data        string `json:"data"`
		ContentType string `json:"content_type"`
	} `json:"images"`
}

func handleSubmitCapture(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req captureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sub := capture.Submission{
			OwnerID:      req.OwnerID,
			WorkspaceID:  req.WorkspaceID,
			Text:         req.Text,
			DeepResearch: req.DeepResearch,
		}
		for i, img := range req.Images {
			data, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("image %d is not valid base64", i))
				return
			}
			sub.Images = append(sub.Images, capture.ImageUpload{Data: data, ContentType: img.ContentType})
		}

		c, err := env.Captures.Submit(r.Context(), sub)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		// Processing runs in the background; the client polls the capture.
		go func() {
			if err := env.Captures.Process(contextWithoutCancel(r), c.ID); err != nil {
				zap.L().Error("capture processing failed",
					zap.String("capture_id", c.ID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, c)
	}
}

func handleGetCapture(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := env.Store.GetCapture(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleRetryCapture(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := env.Captures.Retry(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}

		go func() {
			if err := env.Captures.Process(contextWithoutCancel(r), c.ID); err != nil {
				zap.L().Error("capture retry failed",
					zap.String("capture_id", c.ID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, c)
	}
}

func handleGetContact(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contact, err := env.Store.GetContact(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, contact)
	}
}

func handleMergeContact(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in schema.Extraction
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		in.Normalize()
		force := r.URL.Query().Get("force") == "true"

		contact, err := env.Store.GetContact(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}

		result := merge.Apply(contact, &in, force)
		if len(result.Conflicts) > 0 {
			writeJSON(w, http.StatusConflict, result)
			return
		}

		if err := env.Store.PutContact(r.Context(), contact); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result":  result,
			"contact": contact,
		})
	}
}

func handleResearch(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := env.Research.Run(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// handleResearchStream emits newline-delimited JSON progress events as the
// research runs.
func handleResearchStream(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		enc := json.NewEncoder(w)
		for ev := range env.Research.Stream(r.Context(), chi.URLParam(r, "id")) {
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case eris.Is(err, capture.ErrInvalid):
		writeError(w, http.StatusBadRequest, eris.ToString(err, false))
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// gracefulShutdown drains in-flight requests under a fresh deadline. The
// signal context is already canceled by the time shutdown starts, so it
// cannot serve as the drain deadline.
func gracefulShutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// contextWithoutCancel detaches background work from the request lifetime
// while keeping request-scoped values.
func contextWithoutCancel(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
