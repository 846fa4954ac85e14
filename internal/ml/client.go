// Package ml talks to the machine learning service that turns search text
// into CLIP embeddings.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wipfli/immich/internal/config"
	apperrors "github.com/wipfli/immich/internal/errors"
	"github.com/wipfli/immich/internal/metrics"
)

const (
	encodeTextPath = "/sentence-transformer/encode-text"
	defaultTimeout = 10 * time.Second
	maxRetries     = 1
)

// Encoder turns text into an embedding using the model described by clip.
type Encoder interface {
	EncodeText(ctx context.Context, url, text string, clip config.CLIPConfig) ([]float32, error)
}

// Client is an Encoder backed by the machine learning HTTP service.
type Client struct {
	client  *http.Client
	timeout time.Duration
	cache   Cache
}

var _ Encoder = (*Client)(nil)

// NewClient creates a client with a per-attempt timeout. cache may be nil.
func NewClient(timeout time.Duration, cache Cache) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		client:  &http.Client{},
		timeout: timeout,
		cache:   cache,
	}
}

// encodeTextRequest is the body of the encode-text endpoint.
type encodeTextRequest struct {
	Text      string `json:"text"`
	Enabled   bool   `json:"enabled"`
	ModelName string `json:"modelName"`
}

// transientError marks a failure worth one more attempt.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// EncodeText returns the embedding of text. Transient failures (network
// errors, 502/503/504, attempt timeouts) are retried once before the call
// fails with SearchUnavailable.
func (c *Client) EncodeText(ctx context.Context, url, text string, clip config.CLIPConfig) ([]float32, error) {
	key := CacheKey(url, clip.ModelName, text)
	if c.cache != nil {
		if vec, ok := c.cache.Get(ctx, key); ok {
			metrics.EncoderCache.WithLabelValues("hit").Inc()
			return vec, nil
		}
		metrics.EncoderCache.WithLabelValues("miss").Inc()
	}

	var vec []float32
	op := func() error {
		v, err := c.encodeOnce(ctx, url, text, clip)
		if err != nil {
			var te *transientError
			if errors.As(err, &te) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		vec = v
		return nil
	}
	notify := func(err error, _ time.Duration) {
		metrics.EncoderRequests.WithLabelValues("retry").Inc()
		slog.Warn("text encoder attempt failed, retrying", "url", url, "model", clip.ModelName, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		metrics.EncoderRequests.WithLabelValues("error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("encode text: %w", ctxErr)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeSearchUnavailable, "machine learning service unavailable",
			apperrors.Field("url", url), apperrors.Field("model", clip.ModelName))
	}
	metrics.EncoderRequests.WithLabelValues("ok").Inc()

	if c.cache != nil {
		c.cache.Set(ctx, key, vec)
	}
	return vec, nil
}

func (c *Client) encodeOnce(ctx context.Context, url, text string, clip config.CLIPConfig) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody, err := json.Marshal(encodeTextRequest{Text: text, Enabled: clip.Enabled, ModelName: clip.ModelName})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(url, "/") + encodeTextPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTransient(err) {
			return nil, &transientError{fmt.Errorf("request failed: %w", err)}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("failed to read response: %w", err)}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, &transientError{fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))}
	default:
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var embedding []float32
	if err := json.Unmarshal(body, &embedding); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return embedding, nil
}

// isTransient reports whether a failed client.Do is worth another attempt.
// *url.Error satisfies net.Error, so only timeouts, dial and connection
// errors and a connection dropped mid-reply count. A bad scheme does not.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
