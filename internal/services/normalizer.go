package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/organa/organa/internal/keys"
	"github.com/organa/organa/internal/models"
	"github.com/organa/organa/internal/objstore"
	"github.com/organa/organa/internal/pages"
	"github.com/organa/organa/internal/store"
)

// NormalizerConfig holds the configuration for the Normalizer function.
type NormalizerConfig struct {
	// PageConcurrency bounds how many pages are enhanced in parallel
	// for a single document.
	PageConcurrency int
}

// Normalizer turns freshly uploaded scans into cleaned-up, downscaled
// PDFs under the processed/ prefix. One notification per document; a
// bad document never takes down its batch siblings.
type Normalizer struct {
	config  NormalizerConfig
	store   *store.Store
	objects objstore.Store
}

// NewNormalizer creates a new Normalizer function instance.
func NewNormalizer(cfg NormalizerConfig, st *store.Store, objects objstore.Store) *Normalizer {
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 4
	}
	return &Normalizer{
		config:  cfg,
		store:   st,
		objects: objects,
	}
}

// Process handles a batch of storage notifications. Each record is
// processed independently; a failure marks that document failed and
// moves on.
func (f *Normalizer) Process(ctx context.Context, batch []models.Notification) error {
	for _, n := range batch {
		logCtx := slog.With("bucket", n.Bucket, "key", n.Key)

		if !keys.IsOriginalPDF(n.Key) {
			logCtx.Debug("Skipping non-original object")
			continue
		}

		if err := f.processDocument(ctx, logCtx, n); err != nil {
			f.handleError(ctx, logCtx, n.Key, err)
		}
	}
	return nil
}

func (f *Normalizer) processDocument(ctx context.Context, logCtx *slog.Logger, n models.Notification) error {
	docID, err := keys.DocID(n.Key)
	if err != nil {
		return fmt.Errorf("parsing document ID: %w", err)
	}
	logCtx = logCtx.With("doc_id", docID)

	ok, err := f.store.StartProcessing(ctx, docID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("starting processing: %w", err)
	}
	if !ok {
		logCtx.Info("Document not in uploaded status, skipping")
		return nil
	}

	raw, err := f.objects.Download(ctx, n.Bucket, n.Key)
	if err != nil {
		return fmt.Errorf("downloading original: %w", err)
	}

	processed, pageCount, err := f.normalizePDF(ctx, logCtx, raw)
	if err != nil {
		return fmt.Errorf("normalizing document: %w", err)
	}

	processedKey := keys.ProcessedKey(n.Key)
	if err := f.objects.Upload(ctx, n.Bucket, processedKey, "application/pdf", processed); err != nil {
		return fmt.Errorf("uploading processed document: %w", err)
	}

	ok, err = f.store.FinishProcessing(ctx, docID, processedKey)
	if err != nil {
		return fmt.Errorf("finishing processing: %w", err)
	}
	if !ok {
		logCtx.Warn("Document left processing status during normalization")
		return nil
	}

	logCtx.Info("Normalized document", "processed_key", processedKey, "pages", pageCount)
	return nil
}

// normalizePDF extracts the scanned image of every page, enhances each
// one, and rebuilds a PDF from the surviving pages. Pages whose image
// cannot be decoded or enhanced are dropped; if no page survives the
// document is unrecoverable.
func (f *Normalizer) normalizePDF(ctx context.Context, logCtx *slog.Logger, raw []byte) ([]byte, int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pageImages, err := api.ExtractImagesRaw(bytes.NewReader(raw), nil, conf)
	if err != nil {
		return nil, 0, fmt.Errorf("extracting page images: %w", err)
	}

	extracted, err := collectPageImages(pageImages)
	if err != nil {
		return nil, 0, err
	}
	if len(extracted) == 0 {
		return nil, 0, fmt.Errorf("document has no page images")
	}

	enhanced := make([]*bytes.Buffer, len(extracted))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(f.config.PageConcurrency)
	for i, page := range extracted {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			img, err := pages.Decode(bytes.NewReader(page.data))
			if err != nil {
				logCtx.Warn("Dropping undecodable page", "page", page.pageNr, "error", err)
				return nil
			}
			var buf bytes.Buffer
			if err := pages.EncodePNG(&buf, pages.Enhance(img)); err != nil {
				logCtx.Warn("Dropping unencodable page", "page", page.pageNr, "error", err)
				return nil
			}
			enhanced[i] = &buf
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, fmt.Errorf("enhancing pages: %w", err)
	}

	var readers []io.Reader
	for _, buf := range enhanced {
		if buf != nil {
			readers = append(readers, buf)
		}
	}
	if len(readers) == 0 {
		return nil, 0, fmt.Errorf("no usable pages after enhancement")
	}

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, nil, conf); err != nil {
		return nil, 0, fmt.Errorf("assembling processed document: %w", err)
	}
	return out.Bytes(), len(readers), nil
}

type pageImage struct {
	pageNr int
	objNr  int
	data   []byte
}

// collectPageImages flattens the per-page image maps into a slice ordered
// by (page, object number). The map iteration order is random, so the
// explicit ordering is what makes reprocessing the same input byte for
// byte reproducible.
func collectPageImages(pageImages []map[int]model.Image) ([]pageImage, error) {
	var extracted []pageImage
	for _, byObj := range pageImages {
		for objNr, img := range byObj {
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("reading page %d image: %w", img.PageNr, err)
			}
			extracted = append(extracted, pageImage{pageNr: img.PageNr, objNr: objNr, data: data})
		}
	}
	sort.Slice(extracted, func(i, j int) bool {
		if extracted[i].pageNr != extracted[j].pageNr {
			return extracted[i].pageNr < extracted[j].pageNr
		}
		return extracted[i].objNr < extracted[j].objNr
	})
	return extracted, nil
}

func (f *Normalizer) handleError(ctx context.Context, logCtx *slog.Logger, key string, err error) {
	logCtx.Error("Failed to normalize document", "error", err)

	if markErr := f.store.MarkFailedByOriginalKey(ctx, key); markErr != nil {
		logCtx.Error("Failed to mark document as failed", "error", markErr)
	}
}
