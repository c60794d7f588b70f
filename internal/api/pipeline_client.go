package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/reelworks/reel-backend/internal/utils"
)

// ErrPipelineUnavailable is returned when the breaker is open or the
// pipeline rejected the dispatch.
var ErrPipelineUnavailable = errors.New("media pipeline unavailable")

type pipelineDispatch struct {
	JobID       string `json:"job_id"`
	VideoID     string `json:"video_id"`
	WorkspaceID string `json:"workspace_id"`
	SourceURL   string `json:"source_url"`
	CallbackURL string `json:"callback_url"`
	Preset      string `json:"preset,omitempty"`
}

// PipelineClient talks to the external media pipeline that transcodes
// uploads and produces clip suggestions. Calls are signed with the shared
// webhook secret so the pipeline can verify origin.
type PipelineClient struct {
	baseURL string
	secret  string
	http    *http.Client
	breaker *CircuitBreaker
}

var pipeline *PipelineClient

// InitPipelineClient wires the pipeline client from env. Returns false
// when REEL_PIPELINE_URL is unset; dispatch then fails fast.
func InitPipelineClient() bool {
	base := os.Getenv("REEL_PIPELINE_URL")
	if base == "" {
		return false
	}
	timeout := 15 * time.Second
	if v := os.Getenv("REEL_PIPELINE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	pipeline = &PipelineClient{
		baseURL: base,
		secret:  os.Getenv("REEL_PIPELINE_SECRET"),
		http:    &http.Client{Timeout: timeout},
		breaker: GetBreaker("pipeline"),
	}
	return true
}

// SetPipelineClient overrides the client, for tests.
func SetPipelineClient(pc *PipelineClient) { pipeline = pc }

// NewPipelineClient builds a client against an explicit base URL.
func NewPipelineClient(baseURL, secret string, timeout time.Duration) *PipelineClient {
	return &PipelineClient{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
		breaker: GetBreaker("pipeline"),
	}
}

// Dispatch submits a processing job and returns the pipeline's job ID.
func (pc *PipelineClient) Dispatch(ctx context.Context, videoID, workspaceID uuid.UUID, sourceURL string) (string, error) {
	if !pc.breaker.Allow() {
		return "", ErrPipelineUnavailable
	}
	jobID := uuid.NewString()
	callback := os.Getenv("REEL_PUBLIC_URL")
	if callback == "" {
		callback = "http://localhost:8080"
	}
	payload := pipelineDispatch{
		JobID:       jobID,
		VideoID:     videoID.String(),
		WorkspaceID: workspaceID.String(),
		SourceURL:   sourceURL,
		CallbackURL: callback + "/webhooks/pipeline",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if pc.secret != "" {
		ts := time.Now().Unix()
		sig := utils.ComputeWebhookSignature(pc.secret, ts, body)
		req.Header.Set("Reel-Signature", fmt.Sprintf("t=%d,v1=%s", ts, sig))
	}

	resp, err := pc.http.Do(req)
	if err != nil {
		pc.breaker.ReportFailure()
		RecordExternalOp("pipeline_dispatch", time.Since(start), false)
		return "", fmt.Errorf("pipeline dispatch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		pc.breaker.ReportFailure()
		RecordExternalOp("pipeline_dispatch", time.Since(start), false)
		return "", fmt.Errorf("pipeline dispatch: status %d: %w", resp.StatusCode, ErrPipelineUnavailable)
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		// 4xx is our bug, not the pipeline's; don't trip the breaker
		RecordExternalOp("pipeline_dispatch", time.Since(start), false)
		return "", fmt.Errorf("pipeline dispatch: status %d", resp.StatusCode)
	}
	pc.breaker.ReportSuccess()
	RecordExternalOp("pipeline_dispatch", time.Since(start), true)

	var ack struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.JobID != "" {
		return ack.JobID, nil
	}
	return jobID, nil
}

// RenderClip asks the pipeline to cut and render one segment. The call is
// synchronous; render jobs are short compared to full processing.
func (pc *PipelineClient) RenderClip(ctx context.Context, sourceURL string, startMs, endMs int64) (string, error) {
	if !pc.breaker.Allow() {
		return "", ErrPipelineUnavailable
	}
	body, err := json.Marshal(map[string]any{
		"source_url": sourceURL,
		"start_ms":   startMs,
		"end_ms":     endMs,
	})
	if err != nil {
		return "", err
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.baseURL+"/v1/renders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if pc.secret != "" {
		ts := time.Now().Unix()
		sig := utils.ComputeWebhookSignature(pc.secret, ts, body)
		req.Header.Set("Reel-Signature", fmt.Sprintf("t=%d,v1=%s", ts, sig))
	}
	resp, err := pc.http.Do(req)
	if err != nil {
		pc.breaker.ReportFailure()
		RecordExternalOp("pipeline_render", time.Since(start), false)
		return "", fmt.Errorf("pipeline render: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		pc.breaker.ReportFailure()
		RecordExternalOp("pipeline_render", time.Since(start), false)
		return "", fmt.Errorf("pipeline render: status %d: %w", resp.StatusCode, ErrPipelineUnavailable)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		RecordExternalOp("pipeline_render", time.Since(start), false)
		return "", fmt.Errorf("pipeline render: status %d", resp.StatusCode)
	}
	pc.breaker.ReportSuccess()
	RecordExternalOp("pipeline_render", time.Since(start), true)

	var out struct {
		RenderURL string `json:"render_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("pipeline render: decode: %w", err)
	}
	if out.RenderURL == "" {
		return "", errors.New("pipeline render: empty render_url")
	}
	return out.RenderURL, nil
}
