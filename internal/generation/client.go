package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cp818/scribe/internal/note"
)

// ErrGenerationFailed indicates a regeneration round produced no usable
// note: the stream ended without a complete document, timed out, or the
// transport failed. The previous committed note stays in place.
var ErrGenerationFailed = errors.New("note generation failed")

// Config holds generation client configuration
type Config struct {
	Endpoint     string
	APIKey       string
	Model        string
	TokenTimeout time.Duration // max silence between tokens before the stream is abandoned
}

// Client streams note documents from the generation oracle.
type Client struct {
	config     Config
	httpClient *http.Client
}

// Request is one call to the generation oracle. The transcript is the
// full accumulated text at request time, never a delta.
type Request struct {
	Transcript   string     `json:"transcript"`
	PreviousNote *note.Note `json:"previous_note"`
	Model        string     `json:"model,omitempty"`
}

// Token is one element of the oracle's incremental output stream.
type Token struct {
	Token string `json:"token"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// NewClient creates a new generation client
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = 30 * time.Second
	}

	return &Client{
		config: cfg,
		// No overall timeout: the stream lives as long as tokens keep
		// arriving. Silence is bounded by the token watchdog instead.
		httpClient: &http.Client{},
	}, nil
}

// Stream issues one generation request and returns the oracle's token
// stream. The token channel is closed on completion; at most one error
// is delivered on the error channel. A stream that stays silent longer
// than the token timeout is cancelled and reported as failed.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan Token, <-chan error) {
	tokenCh := make(chan Token, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(tokenCh)
		defer close(errCh)

		if req.Model == "" {
			req.Model = c.config.Model
		}

		body, err := json.Marshal(req)
		if err != nil {
			errCh <- fmt.Errorf("%w: failed to marshal request: %v", ErrGenerationFailed, err)
			return
		}

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			errCh <- fmt.Errorf("%w: failed to create request: %v", ErrGenerationFailed, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

		// Watchdog: cancel the stream if no token arrives in time.
		watchdog := time.AfterFunc(c.config.TokenTimeout, cancel)
		defer watchdog.Stop()

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if streamCtx.Err() != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("%w: no token within %v", ErrGenerationFailed, c.config.TokenTimeout)
				return
			}
			errCh <- fmt.Errorf("%w: %v", ErrGenerationFailed, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			errCh <- fmt.Errorf("%w: HTTP %d: %s", ErrGenerationFailed, resp.StatusCode, bytes.TrimSpace(respBody))
			return
		}

		decoder := json.NewDecoder(resp.Body)
		for {
			var token Token
			if err := decoder.Decode(&token); err != nil {
				if err == io.EOF {
					return
				}
				if streamCtx.Err() != nil && ctx.Err() == nil {
					errCh <- fmt.Errorf("%w: no token within %v", ErrGenerationFailed, c.config.TokenTimeout)
					return
				}
				errCh <- fmt.Errorf("%w: failed to decode stream: %v", ErrGenerationFailed, err)
				return
			}

			watchdog.Reset(c.config.TokenTimeout)

			if token.Error != "" {
				errCh <- fmt.Errorf("%w: oracle error: %s", ErrGenerationFailed, token.Error)
				return
			}

			select {
			case tokenCh <- token:
			case <-streamCtx.Done():
				return
			}

			if token.Done {
				return
			}
		}
	}()

	return tokenCh, errCh
}
