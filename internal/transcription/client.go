package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/cp818/scribe/internal/audio"
)

// Typed failures of the transcription oracle. Empty recognized text is
// NOT one of these: a chunk with no detected speech is a valid result.
var (
	// ErrServiceUnavailable covers transport failures, timeouts and 5xx
	// responses. The caller decides what to do; the client never retries.
	ErrServiceUnavailable = errors.New("transcription service unavailable")

	// ErrInvalidAudio indicates the oracle rejected the chunk payload.
	ErrInvalidAudio = errors.New("invalid audio chunk")

	// ErrAuth indicates the oracle rejected the credentials.
	ErrAuth = errors.New("transcription authentication failed")
)

// Config contains transcription client configuration
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Language string
	Model    string
}

// Client sends one audio chunk per request to the transcription oracle.
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	emptyResults    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Result represents the recognized text for one chunk
type Result struct {
	SequenceIndex int       `json:"sequence_index"`
	Text          string    `json:"text"`
	Confidence    float32   `json:"confidence"`
	Language      string    `json:"language,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	EmptyResults    uint64        `json:"empty_results"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewClient creates a new transcription client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Transcribe sends one chunk to the oracle and returns the recognized
// text. Exactly one outbound call is made per invocation; retry policy
// belongs to the caller. A no-response within the configured timeout is
// reported as ErrServiceUnavailable.
func (c *Client) Transcribe(ctx context.Context, chunk audio.Chunk) (Result, error) {
	if len(chunk.Samples) == 0 {
		return Result{}, fmt.Errorf("%w: empty chunk", ErrInvalidAudio)
	}

	startTime := time.Now()
	c.incrementTotal()

	result, err := c.doRequest(ctx, chunk)
	if err != nil {
		c.incrementFailed()
		return Result{}, err
	}

	c.recordSuccess(time.Since(startTime), result.Text == "")
	result.SequenceIndex = chunk.SequenceIndex
	result.ProcessedAt = time.Now()
	return result, nil
}

// doRequest performs the single HTTP call for a chunk.
func (c *Client) doRequest(ctx context.Context, chunk audio.Chunk) (Result, error) {
	body, contentType, err := c.createMultipartRequest(chunk)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to create request: %v", ErrServiceUnavailable, err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to read response: %v", ErrServiceUnavailable, err)
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return Result{}, err
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Result{}, fmt.Errorf("%w: failed to parse response JSON: %v", ErrServiceUnavailable, err)
	}

	return result, nil
}

// classifyStatus maps HTTP status classes onto the typed error taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", ErrAuth, status, bytes.TrimSpace(body))
	case status == http.StatusBadRequest ||
		status == http.StatusRequestEntityTooLarge ||
		status == http.StatusUnsupportedMediaType ||
		status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: HTTP %d: %s", ErrInvalidAudio, status, bytes.TrimSpace(body))
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrServiceUnavailable, status, bytes.TrimSpace(body))
	}
}

// createMultipartRequest builds the multipart body: the WAV-encoded
// chunk plus its encoding metadata.
func (c *Client) createMultipartRequest(chunk audio.Chunk) (io.Reader, string, error) {
	wav, err := audio.EncodeWAV(chunk.Samples, chunk.SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode chunk: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", fmt.Sprintf("chunk_%d.wav", chunk.SequenceIndex))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"sequence_index": fmt.Sprintf("%d", chunk.SequenceIndex),
		"sample_rate":    fmt.Sprintf("%d", chunk.SampleRate),
		"channels":       "1",
		"codec":          "pcm_s16le",
		"duration":       fmt.Sprintf("%.3f", chunk.Duration.Seconds()),
		"start_time":     chunk.Start.Format(time.RFC3339Nano),
		"end_time":       chunk.End.Format(time.RFC3339Nano),
	}

	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Statistics methods
func (c *Client) incrementTotal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) recordSuccess(responseTime time.Duration, empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successRequests++
	if empty {
		c.emptyResults++
	}

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		EmptyResults:    c.emptyResults,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
	}
}
