package diarize

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

// Client calls a pyannote-compatible speaker-diarization HTTP service.
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

type response struct {
	Status      string `json:"status"`
	Segments    []Turn `json:"segments"`
	NumSpeakers int    `json:"num_speakers"`
}

// NewClient creates a diarization client with a per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Diarize uploads one audio unit and returns its locally-timed speaker
// turns. The label space of the result is private to this one call.
func (c *Client) Diarize(ctx context.Context, audioPath string, hints Hints) (*Result, error) {
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
	if hints.MinSpeakers > 0 {
		q.Set("min_speakers", strconv.Itoa(hints.MinSpeakers))
	}
	if hints.MaxSpeakers > 0 {
		q.Set("max_speakers", strconv.Itoa(hints.MaxSpeakers))
	}
	endpoint := c.baseURL + "/diarize"
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
		return nil, fmt.Errorf("diarization request: %w", err)
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

	numSpeakers := parsed.NumSpeakers
	if numSpeakers == 0 {
		numSpeakers = countSpeakers(parsed.Segments)
	}

	return &Result{Turns: parsed.Segments, NumSpeakers: numSpeakers}, nil
}

func countSpeakers(turns []Turn) int {
	seen := make(map[string]struct{}, 4)
	for _, t := range turns {
		seen[t.Speaker] = struct{}{}
	}
	return len(seen)
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
