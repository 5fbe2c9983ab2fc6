package models

import "time"

// Status is a document's position in the processing lifecycle. Within one
// successful run it only moves forward; StatusFailed is reachable from any
// non-terminal status and ends the run.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusExtracting Status = "extracting"
	StatusExtracted  Status = "extracted"
	StatusEmbedded   Status = "embedded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further pipeline stage may act on the document.
func (s Status) Terminal() bool {
	return s == StatusEmbedded || s == StatusFailed
}

// Document is the lifecycle record for one user-uploaded file and its
// derived artifacts. The storage keys start out empty and are filled in as
// the owning stage completes.
type Document struct {
	DocID            string     `json:"doc_id"`
	UserID           string     `json:"user_id"`
	OriginalKey      string     `json:"original_key"`
	ProcessedKey     string     `json:"processed_key,omitempty"`
	ExtractedTextKey string     `json:"extracted_text_key,omitempty"`
	Status           Status     `json:"status"`
	UploadDate       time.Time  `json:"upload_date"`
	ProcessedDate    *time.Time `json:"processed_date,omitempty"`
	ExtractionDate   *time.Time `json:"extraction_date,omitempty"`
}

// Embedding is the vector representation of a document's extracted text.
// At most one row exists per document, enforced by the store's primary key.
type Embedding struct {
	DocID            string
	UserID           string
	ProcessedKey     string
	ExtractedTextKey string
	Vector           []float32
	CreatedAt        time.Time
}

// Group is a user-defined collection of documents. Assignment is
// many-to-many: a document may sit in several groups.
type Group struct {
	GroupID       string    `json:"group_id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	DocumentCount int       `json:"document_count"`
}

// SearchResult is one ranked hit returned by the search engine.
type SearchResult struct {
	DocID             string  `json:"doc_id"`
	FilePath          string  `json:"file_path"`
	ExtractedTextPath string  `json:"extracted_text_path"`
	SimilarityScore   float64 `json:"similarity_score"`
}
