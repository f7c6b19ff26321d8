// Package perplexity provides a client for the Perplexity web-research API,
// with both a batch and a streaming backend.
package perplexity

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.perplexity.ai"
	defaultModel   = "sonar-deep-research"
)

// Client performs web research against the Perplexity API.
type Client interface {
	// Research runs a research query and returns one composed result.
	Research(ctx context.Context, req ResearchRequest) (*ResearchResult, error)
	// ResearchStream runs the same query but yields incremental chunks.
	// The returned channel is closed when the stream ends; a terminal
	// transport error is delivered as the final chunk's Err.
	ResearchStream(ctx context.Context, req ResearchRequest) (<-chan StreamChunk, error)
}

// ResearchRequest is a natural-language research brief.
type ResearchRequest struct {
	Query     string
	Model     string
	MaxTokens *int
}

// SearchResult is one citation from the research pass.
type SearchResult struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	Date  string `json:"date,omitempty"`
}

// ResearchResult is the composed output of a batch research call.
type ResearchResult struct {
	Content       string
	SearchResults []SearchResult
	Images        []string
}

// Chunk kinds emitted by the streaming backend.
const (
	ChunkReasoning      = "reasoning"
	ChunkReasoningDone  = "reasoning.done"
	ChunkCompletion     = "completion.chunk"
	ChunkCompletionDone = "completion.done"
)

// StreamChunk is one incremental piece of a streamed research call.
type StreamChunk struct {
	Kind          string
	Text          string // delta text for reasoning / completion.chunk
	Content       string // full content, set on completion.done
	SearchResults []SearchResult
	Images        []string
	Err           error
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound research calls per second.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Perplexity API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(1), 2),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// wireRequest is the body for POST /chat/completions.
type wireRequest struct {
	Model        string        `json:"model"`
	Messages     []wireMessage `json:"messages"`
	MaxTokens    *int          `json:"max_tokens,omitempty"`
	Stream       bool          `json:"stream,omitempty"`
	ReturnImages bool          `json:"return_images"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireResponse covers both the batch response and individual stream chunks.
// Images arrive either as bare URL strings or as {"image_url": ...} objects
// depending on backend version, so imageRef coerces both.
type wireResponse struct {
	Object        string         `json:"object"`
	Choices       []wireChoice   `json:"choices"`
	SearchResults []SearchResult `json:"search_results"`
	Images        []imageRef     `json:"images"`
}

type wireChoice struct {
	Message wireMessage `json:"message"`
	Delta   wireMessage `json:"delta"`
}

type imageRef string

func (r *imageRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = imageRef(s)
		return nil
	}
	var obj struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = imageRef(obj.ImageURL)
	return nil
}

func imageURLs(refs []imageRef) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r != "" {
			out = append(out, string(r))
		}
	}
	return out
}

func (c *httpClient) post(ctx context.Context, req ResearchRequest, stream bool) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "perplexity: rate limit wait")
		}
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(wireRequest{
		Model:        model,
		Messages:     []wireMessage{{Role: "user", Content: req.Query}},
		MaxTokens:    req.MaxTokens,
		Stream:       stream,
		ReturnImages: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: send request")
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, eris.Errorf("perplexity: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

func (c *httpClient) Research(ctx context.Context, req ResearchRequest) (*ResearchResult, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: read response")
	}

	var result wireResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "perplexity: unmarshal response")
	}
	if len(result.Choices) == 0 {
		return nil, eris.New("perplexity: empty choices")
	}

	return &ResearchResult{
		Content:       result.Choices[0].Message.Content,
		SearchResults: result.SearchResults,
		Images:        imageURLs(result.Images),
	}, nil
}

func (c *httpClient) ResearchStream(ctx context.Context, req ResearchRequest) (<-chan StreamChunk, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var chunk wireResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				// Unknown chunk shapes are ignorable by contract.
				continue
			}

			select {
			case out <- toStreamChunk(chunk):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- StreamChunk{Err: eris.Wrap(err, "perplexity: read stream")}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func toStreamChunk(chunk wireResponse) StreamChunk {
	sc := StreamChunk{
		Kind:          chunk.Object,
		SearchResults: chunk.SearchResults,
		Images:        imageURLs(chunk.Images),
	}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		sc.Text = choice.Delta.Content
		sc.Content = choice.Message.Content
	}
	return sc
}
