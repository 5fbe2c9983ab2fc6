// Package keys defines the storage key contract shared by every pipeline
// stage. All prefix and extension substitutions between the original,
// processed and extracted-text artifacts live here so that no stage inlines
// its own string surgery.
package keys

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const (
	OriginalPrefix      = "original/"
	ProcessedPrefix     = "processed/"
	ExtractedTextPrefix = "extracted-text/"

	pdfExt  = ".pdf"
	textExt = ".txt"
)

// Keys embed the document ID as a uuid token in the basename:
// original/<user>/<base>-<uuid>.<ext>.
var uuidRE = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// DocID extracts the document identifier embedded in a key's basename.
func DocID(key string) (string, error) {
	base := path.Base(key)
	stem := strings.TrimSuffix(base, path.Ext(base))
	id := uuidRE.FindString(stem)
	if id == "" {
		return "", fmt.Errorf("no document id in key %q", key)
	}
	return id, nil
}

// IsOriginalPDF reports whether a key is a source PDF the normalization
// stage should pick up. Anything else sharing the bucket is skipped.
func IsOriginalPDF(key string) bool {
	return strings.HasPrefix(key, OriginalPrefix) && strings.HasSuffix(strings.ToLower(key), pdfExt)
}

// IsProcessedPDF reports whether a key is a normalized PDF ready for text
// extraction.
func IsProcessedPDF(key string) bool {
	return strings.HasPrefix(key, ProcessedPrefix) && strings.HasSuffix(strings.ToLower(key), pdfExt)
}

// IsExtractedText reports whether a key is an extracted-text object ready
// for embedding.
func IsExtractedText(key string) bool {
	return strings.HasPrefix(key, ExtractedTextPrefix) && strings.HasSuffix(strings.ToLower(key), textExt)
}

// ProcessedKey maps an original key to its processed counterpart.
func ProcessedKey(originalKey string) string {
	return ProcessedPrefix + strings.TrimPrefix(originalKey, OriginalPrefix)
}

// ExtractedTextKey maps a processed key to its extracted-text counterpart.
func ExtractedTextKey(processedKey string) string {
	key := ExtractedTextPrefix + strings.TrimPrefix(processedKey, ProcessedPrefix)
	return strings.TrimSuffix(key, path.Ext(key)) + textExt
}

// OriginalKey maps an extracted-text key back to the original upload key.
// This is the reverse lookup the embedding stage uses to find the owning
// document row.
func OriginalKey(extractedTextKey string) string {
	key := OriginalPrefix + strings.TrimPrefix(extractedTextKey, ExtractedTextPrefix)
	return strings.TrimSuffix(key, path.Ext(key)) + pdfExt
}

// OriginalUploadKey builds the key for a fresh upload:
// original/<user>/<base>-<docID><ext>.
func OriginalUploadKey(userID, filename, docID string) string {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(path.Base(filename), ext)
	return fmt.Sprintf("%s%s/%s-%s%s", OriginalPrefix, userID, base, docID, ext)
}
