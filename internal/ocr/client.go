// Package ocr talks to the asynchronous document analysis service. The
// service reads the document straight out of object storage, so an analysis
// is submitted by reference (bucket + key) and polled by job handle.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Job status values reported by the analysis service.
const (
	JobInProgress = "IN_PROGRESS"
	JobSucceeded  = "SUCCEEDED"
	JobFailed     = "FAILED"
)

// BlockTypeLine marks a block holding one recognized line of text. Lines are
// the only block type the extraction stage consumes.
const BlockTypeLine = "LINE"

// Block is one unit of recognized content on a page.
type Block struct {
	BlockType string `json:"blockType"`
	Text      string `json:"text,omitempty"`
}

// AnalysisPage is one page of an analysis result. NextToken is non-empty
// while further pages remain.
type AnalysisPage struct {
	JobStatus string  `json:"jobStatus"`
	Blocks    []Block `json:"blocks"`
	NextToken string  `json:"nextToken,omitempty"`
}

// Analyzer is the boundary the extraction stage depends on.
type Analyzer interface {
	// StartAnalysis submits a stored document for analysis and returns a
	// job handle.
	StartAnalysis(ctx context.Context, bucket, key string, features []string) (string, error)
	// GetAnalysis reports job status and, once succeeded, one page of
	// result blocks per call.
	GetAnalysis(ctx context.Context, jobID, nextToken string) (*AnalysisPage, error)
}

// Client communicates with the analysis service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type startRequest struct {
	Bucket   string   `json:"bucket"`
	Key      string   `json:"key"`
	Features []string `json:"features"`
}

type startResponse struct {
	JobID string `json:"jobId"`
}

// StartAnalysis submits bucket/key for analysis with the given feature set.
func (c *Client) StartAnalysis(ctx context.Context, bucket, key string, features []string) (string, error) {
	body, err := json.Marshal(startRequest{Bucket: bucket, Key: key, Features: features})
	if err != nil {
		return "", fmt.Errorf("marshaling analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyses", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting analysis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("unexpected status %d submitting analysis", resp.StatusCode)
	}

	var start startResponse
	if err := json.NewDecoder(resp.Body).Decode(&start); err != nil {
		return "", fmt.Errorf("decoding analysis response: %w", err)
	}
	if start.JobID == "" {
		return "", fmt.Errorf("analysis service returned an empty job id")
	}
	return start.JobID, nil
}

// GetAnalysis fetches the job's status and current result page.
func (c *Client) GetAnalysis(ctx context.Context, jobID, nextToken string) (*AnalysisPage, error) {
	u := c.baseURL + "/v1/analyses/" + url.PathEscape(jobID)
	if nextToken != "" {
		u += "?next_token=" + url.QueryEscape(nextToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d polling job %s", resp.StatusCode, jobID)
	}

	var page AnalysisPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding job %s response: %w", jobID, err)
	}
	return &page, nil
}
