package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-pipeline/internal/blob"
	"github.com/sells-group/contact-pipeline/internal/capture"
	"github.com/sells-group/contact-pipeline/internal/links"
	"github.com/sells-group/contact-pipeline/internal/model"
	"github.com/sells-group/contact-pipeline/internal/research"
	"github.com/sells-group/contact-pipeline/internal/store"
	"github.com/sells-group/contact-pipeline/pkg/anthropic"
	"github.com/sells-group/contact-pipeline/pkg/perplexity"
)

type fakeChat struct{}

func (fakeChat) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if req.Tool != nil && req.Tool.Name == "record_enrichment" {
		return &anthropic.MessageResponse{Text: `{"summary": "A founder."}`}, nil
	}
	return &anthropic.MessageResponse{Text: `{"fullName": "Jane Doe", "email": "jane@example.com"}`}, nil
}

type fakeWeb struct{}

func (fakeWeb) Research(context.Context, perplexity.ResearchRequest) (*perplexity.ResearchResult, error) {
	return &perplexity.ResearchResult{Content: "Jane Doe founded Acme."}, nil
}

func (fakeWeb) ResearchStream(context.Context, perplexity.ResearchRequest) (<-chan perplexity.StreamChunk, error) {
	out := make(chan perplexity.StreamChunk, 2)
	out <- perplexity.StreamChunk{Kind: perplexity.ChunkCompletion, Text: "Jane Doe founded Acme."}
	out <- perplexity.StreamChunk{Kind: perplexity.ChunkCompletionDone, Content: "Jane Doe founded Acme."}
	close(out)
	return out, nil
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemory()
	blobs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)

	orchestrator := &research.Orchestrator{
		Store: st,
		Blobs: blobs,
		Chat:  fakeChat{},
		Web:   fakeWeb{},
		Curator: &links.Curator{
			Chat:          fakeChat{},
			Model:         "test-model",
			MaxCandidates: 24,
			MaxSelected:   6,
		},
		EnrichModel: "test-model",
		Streaming:   true,
		MaxTokens:   1024,
		MaxImages:   4,
	}

	return &env{
		Store: st,
		Blobs: blobs,
		Captures: &capture.Controller{
			Store:         st,
			Blobs:         blobs,
			Chat:          fakeChat{},
			Research:      orchestrator,
			ExtractModel:  "test-model",
			MaxTokens:     1024,
			MaxImages:     6,
			MaxImageBytes: 8 << 20,
		},
		Research: orchestrator,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthNoAuth(t *testing.T) {
	router := newRouter(newTestEnv(t), "secret")
	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	router := newRouter(newTestEnv(t), "secret")

	rec := doJSON(t, router, http.MethodGet, "/api/captures/x", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/captures/x", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/captures/x", "secret", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitCaptureAccepted(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env, "")

	rec := doJSON(t, router, http.MethodPost, "/api/captures", "", map[string]any{
		"owner_id": "o1",
		"text":     "Jane Doe <jane@example.com>",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var cap model.Capture
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cap))
	assert.NotEmpty(t, cap.ID)
	assert.Equal(t, model.CaptureStatusQueued, cap.Status)
}

func TestSubmitCaptureValidation(t *testing.T) {
	router := newRouter(newTestEnv(t), "")

	rec := doJSON(t, router, http.MethodPost, "/api/captures", "", map[string]any{"owner_id": "o1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/captures", "", map[string]any{
		"text":   "x",
		"images": []map[string]string{{"data": "!!!not base64!!!", "content_type": "image/png"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMergeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env, "")

	contact := &model.Contact{OwnerID: "o1", FullName: "Jane Doe", Email: "jane@example.com"}
	require.NoError(t, env.Store.CreateContact(context.Background(), contact))

	t.Run("conflict returns 409 and mutates nothing", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/contacts/"+contact.ID+"/merge", "",
			map[string]string{"email": "other@example.com"})
		assert.Equal(t, http.StatusConflict, rec.Code)

		var result struct {
			Conflicts []model.Conflict `json:"conflicts"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, "email", result.Conflicts[0].Field)

		got, err := env.Store.GetContact(context.Background(), contact.ID)
		require.NoError(t, err)
		assert.Equal(t, "jane@example.com", got.Email)
	})

	t.Run("force overwrites", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/contacts/"+contact.ID+"/merge?force=true", "",
			map[string]string{"email": "other@example.com"})
		assert.Equal(t, http.StatusOK, rec.Code)

		got, err := env.Store.GetContact(context.Background(), contact.ID)
		require.NoError(t, err)
		assert.Equal(t, "other@example.com", got.Email)
	})

	t.Run("fills blanks", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/contacts/"+contact.ID+"/merge", "",
			map[string]string{"company": "Acme"})
		assert.Equal(t, http.StatusOK, rec.Code)

		got, err := env.Store.GetContact(context.Background(), contact.ID)
		require.NoError(t, err)
		assert.Equal(t, "Acme", got.Company)
	})

	t.Run("unknown contact 404", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/contacts/missing/merge", "",
			map[string]string{"company": "Acme"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestResearchStreamEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env, "")

	contact := &model.Contact{OwnerID: "o1", FullName: "Jane Doe"}
	require.NoError(t, env.Store.CreateContact(context.Background(), contact))

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/contacts/%s/research/stream", contact.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var events []model.ResearchEvent
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev model.ResearchEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventTypeStatus, events[0].Type)
	assert.Equal(t, model.StageStarting, events[0].Stage)
	assert.Equal(t, model.EventTypeDone, events[len(events)-1].Type)

	got, err := env.Store.GetContact(context.Background(), contact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResearchStatusDone, got.ResearchStatus)
}

func TestGracefulShutdownDrainsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ln) }()

	type result struct {
		code int
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			resCh <- result{err: err}
			return
		}
		resp.Body.Close()
		resCh <- result{code: resp.StatusCode}
	}()

	<-started
	gracefulShutdown(srv)

	// The in-flight request completed instead of being cut off.
	res := <-resCh
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.code)
	assert.ErrorIs(t, <-serveDone, http.ErrServerClosed)
}

func TestResearchBatchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env, "")

	contact := &model.Contact{OwnerID: "o1", FullName: "Jane Doe"}
	require.NoError(t, env.Store.CreateContact(context.Background(), contact))

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/contacts/%s/research", contact.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["ok"])
}
