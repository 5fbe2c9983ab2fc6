package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/organa/organa/internal/keys"
	"github.com/organa/organa/internal/models"
	"github.com/organa/organa/internal/objstore"
	"github.com/organa/organa/internal/ocr"
	"github.com/organa/organa/internal/store"
)

// analysisFeatures selects table and form detection on top of plain line
// recognition, matching the layout of the scanned business documents.
var analysisFeatures = []string{"TABLES", "FORMS"}

// errPollDeadline distinguishes our own patience running out from the
// analysis service reporting a failed job.
var errPollDeadline = errors.New("analysis job did not finish before the poll deadline")

// ExtractorConfig holds the configuration for the Extractor function.
type ExtractorConfig struct {
	PollInterval time.Duration
	PollDeadline time.Duration
}

// Extractor runs asynchronous text recognition over processed documents
// and writes the recognized lines to the extracted-text/ prefix.
type Extractor struct {
	config   ExtractorConfig
	store    *store.Store
	objects  objstore.Store
	analyzer ocr.Analyzer
}

// NewExtractor creates a new Extractor function instance.
func NewExtractor(cfg ExtractorConfig, st *store.Store, objects objstore.Store, analyzer ocr.Analyzer) *Extractor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollDeadline <= 0 {
		cfg.PollDeadline = 10 * time.Minute
	}
	return &Extractor{
		config:   cfg,
		store:    st,
		objects:  objects,
		analyzer: analyzer,
	}
}

// Process handles a batch of storage notifications for processed
// documents. Records are independent; one stuck analysis job never
// blocks the rest of the batch from completing.
func (f *Extractor) Process(ctx context.Context, batch []models.Notification) error {
	for _, n := range batch {
		logCtx := slog.With("bucket", n.Bucket, "key", n.Key)

		if !keys.IsProcessedPDF(n.Key) {
			logCtx.Debug("Skipping non-processed object")
			continue
		}

		if err := f.processDocument(ctx, logCtx, n); err != nil {
			f.handleError(ctx, logCtx, n.Key, err)
		}
	}
	return nil
}

func (f *Extractor) processDocument(ctx context.Context, logCtx *slog.Logger, n models.Notification) error {
	docID, err := keys.DocID(n.Key)
	if err != nil {
		return fmt.Errorf("parsing document ID: %w", err)
	}
	logCtx = logCtx.With("doc_id", docID)

	ok, err := f.store.StartExtracting(ctx, docID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("starting extraction: %w", err)
	}
	if !ok {
		logCtx.Info("Document not in processed status, skipping")
		return nil
	}

	jobID, err := f.analyzer.StartAnalysis(ctx, n.Bucket, n.Key, analysisFeatures)
	if err != nil {
		return fmt.Errorf("starting analysis job: %w", err)
	}
	logCtx = logCtx.With("job_id", jobID)

	finalPage, err := f.awaitAnalysis(ctx, jobID)
	if err != nil {
		return fmt.Errorf("awaiting analysis job: %w", err)
	}

	text, err := f.collectText(ctx, jobID, finalPage)
	if err != nil {
		return fmt.Errorf("collecting analysis results: %w", err)
	}

	textKey := keys.ExtractedTextKey(n.Key)
	if err := f.objects.Upload(ctx, n.Bucket, textKey, "text/plain", []byte(text)); err != nil {
		return fmt.Errorf("uploading extracted text: %w", err)
	}

	ok, err = f.store.FinishExtracting(ctx, docID, textKey)
	if err != nil {
		return fmt.Errorf("finishing extraction: %w", err)
	}
	if !ok {
		logCtx.Warn("Document left extracting status during analysis")
		return nil
	}

	logCtx.Info("Extracted document text", "text_key", textKey, "bytes", len(text))
	return nil
}

// awaitAnalysis polls the job at a fixed interval until it leaves
// IN_PROGRESS or the deadline passes, and returns the first result page
// of a succeeded job.
func (f *Extractor) awaitAnalysis(ctx context.Context, jobID string) (*ocr.AnalysisPage, error) {
	deadline := time.Now().Add(f.config.PollDeadline)
	for {
		page, err := f.analyzer.GetAnalysis(ctx, jobID, "")
		if err != nil {
			return nil, fmt.Errorf("polling job %s: %w", jobID, err)
		}

		switch page.JobStatus {
		case ocr.JobSucceeded:
			return page, nil
		case ocr.JobFailed:
			return nil, fmt.Errorf("job %s reported failure", jobID)
		case ocr.JobInProgress:
			// keep polling
		default:
			return nil, fmt.Errorf("job %s in unknown status %q", jobID, page.JobStatus)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("job %s: %w", jobID, errPollDeadline)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.config.PollInterval):
		}
	}
}

// collectText walks the paginated result set starting from the page the
// successful poll already returned, and joins every recognized line with
// a newline, preserving the service's reading order.
func (f *Extractor) collectText(ctx context.Context, jobID string, page *ocr.AnalysisPage) (string, error) {
	var lines []string
	for {
		for _, block := range page.Blocks {
			if block.BlockType == ocr.BlockTypeLine {
				lines = append(lines, block.Text)
			}
		}
		if page.NextToken == "" {
			break
		}
		var err error
		page, err = f.analyzer.GetAnalysis(ctx, jobID, page.NextToken)
		if err != nil {
			return "", fmt.Errorf("fetching result page: %w", err)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (f *Extractor) handleError(ctx context.Context, logCtx *slog.Logger, key string, err error) {
	logCtx.Error("Failed to extract document text", "error", err)

	if markErr := f.store.MarkFailedByProcessedKey(ctx, key); markErr != nil {
		logCtx.Error("Failed to mark document as failed", "error", markErr)
	}
}
