package models

import (
	"encoding/json"
	"fmt"
)

// These structs define the payloads crossing the system's boundaries: the
// storage-change notifications that trigger pipeline stages, and the JSON
// bodies of the HTTP API.

// Notification is one independent (bucket, key) storage-change record.
// Each record in a batch is processed to completion or failure on its own.
type Notification struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// storageEventData is the wire shape of a stage trigger. Single-object
// events carry bucket/name at the top level; batched deliveries carry a
// records array. Both decode into the same notification batch.
type storageEventData struct {
	Bucket  string         `json:"bucket"`
	Name    string         `json:"name"`
	Records []Notification `json:"records"`
}

// DecodeNotifications validates a raw trigger payload and returns its
// notification batch. A payload with neither a records array nor a
// bucket/name pair is malformed and rejected before any stage logic runs.
func DecodeNotifications(data []byte) ([]Notification, error) {
	var ev storageEventData
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshaling storage event: %w", err)
	}
	if len(ev.Records) > 0 {
		for i, r := range ev.Records {
			if r.Bucket == "" || r.Key == "" {
				return nil, fmt.Errorf("record %d is missing bucket or key", i)
			}
		}
		return ev.Records, nil
	}
	if ev.Bucket == "" || ev.Name == "" {
		return nil, fmt.Errorf("storage event has no records and no bucket/name pair")
	}
	return []Notification{{Bucket: ev.Bucket, Key: ev.Name}}, nil
}

// UploadRequest is the body of POST /users/{userID}/documents.
type UploadRequest struct {
	Filename string `json:"filename"`
	Data     string `json:"data"` // base64-encoded file content
}

// UploadResponse acknowledges a stored upload.
type UploadResponse struct {
	Message  string `json:"message"`
	DocID    string `json:"doc_id"`
	FilePath string `json:"file_path"`
}

// ListResponse is the body of GET /users/{userID}/documents.
type ListResponse struct {
	Documents []Document `json:"documents"`
}

// CreateGroupRequest is the body of POST /users/{userID}/groups.
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// GroupResponse acknowledges a created group.
type GroupResponse struct {
	Message string `json:"message"`
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
}

// AssignGroupRequest is the body of
// POST /users/{userID}/groups/{groupID}/documents.
type AssignGroupRequest struct {
	DocID string `json:"doc_id"`
}

// GroupsResponse is the body of GET /users/{userID}/groups.
type GroupsResponse struct {
	Groups []Group `json:"groups"`
}

// SearchResponse is the body of GET /users/{userID}/search.
type SearchResponse struct {
	Query        string         `json:"query"`
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
}

// ErrorResponse is the structured error body for every API failure.
type ErrorResponse struct {
	Error string `json:"error"`
}
