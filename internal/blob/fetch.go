package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	fetchTimeout    = 20 * time.Second
	fetchConcurrent = 4
	maxFetchBytes   = 8 << 20
)

// FetchImages downloads up to max research images in parallel and saves
// them under the given key prefix. Failed downloads are logged and skipped;
// the pipeline never fails because an image URL went stale.
func FetchImages(ctx context.Context, store Store, client *http.Client, urls []string, prefix string, max int) []string {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if max > 0 && len(urls) > max {
		urls = urls[:max]
	}

	refs := make([]string, len(urls))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			ref, err := fetchOne(ctx, store, client, u, fmt.Sprintf("%s/%d", prefix, i))
			if err != nil {
				zap.L().Warn("blob: image fetch failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			mu.Lock()
			refs[i] = ref
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for _, ref := range refs {
		if ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

func fetchOne(ctx context.Context, store Store, client *http.Client, url, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("unexpected content type %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFetchBytes {
		return "", fmt.Errorf("image exceeds %d bytes", maxFetchBytes)
	}

	return store.Save(ctx, key, data, contentType)
}
