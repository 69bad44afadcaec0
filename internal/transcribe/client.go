package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const maxErrorBody = 512

// Client calls a Whisper-compatible speech-to-text HTTP service.
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// Opts are per-request transcription options.
type Opts struct {
	Language string // "" = let the server detect
	BeamSize int    // 0 = server default (typically 5)
}

type response struct {
	Status     string    `json:"status"`
	Transcript []Segment `json:"transcript"`
	Language   string    `json:"language"`
	Duration   float64   `json:"duration"`
}

// NewClient creates a transcription client. The timeout bounds one full
// call including upload and model inference, so it is sized in hours for
// long recordings.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads one audio unit and returns its locally-timed segment
// stream. Timestamps in the result are relative to the unit start.
func (c *Client) Transcribe(ctx context.Context, audioPath string, opts Opts) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	w.Close()

	q := url.Values{}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if opts.BeamSize > 0 {
		q.Set("beam_size", strconv.Itoa(opts.BeamSize))
	}
	endpoint := c.baseURL + "/transcribe"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{StatusCode: resp.StatusCode, Message: truncate(string(body))}
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Status != "" && parsed.Status != "success" {
		return nil, &Failure{StatusCode: resp.StatusCode, Message: "status " + parsed.Status}
	}

	return &Result{
		Segments: parsed.Transcript,
		Language: parsed.Language,
		Duration: parsed.Duration,
	}, nil
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
