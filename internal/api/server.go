package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/organa/organa/internal/keys"
	"github.com/organa/organa/internal/models"
	"github.com/organa/organa/internal/objstore"
	"github.com/organa/organa/internal/services"
	"github.com/organa/organa/internal/store"
)

// contentTypes whitelists the upload extensions and maps each to the
// content type stored alongside the object.
var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".png":  "image/png",
	".jpg":  "image/jpeg",
}

// Server is the user-facing HTTP API: uploads in, document status and
// semantic search out.
type Server struct {
	router  chi.Router
	store   *store.Store
	objects objstore.Store
	search  *services.Search
	bucket  string
}

// New creates the API server and mounts its routes.
func New(bucket string, st *store.Store, objects objstore.Store, search *services.Search) *Server {
	s := &Server{
		store:   st,
		objects: objects,
		search:  search,
		bucket:  bucket,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Post("/documents", s.handleUpload)
		r.Get("/documents", s.handleList)
		r.Get("/search", s.handleSearch)
		r.Post("/groups", s.handleCreateGroup)
		r.Get("/groups", s.handleListGroups)
		r.Post("/groups/{groupID}/documents", s.handleAssignGroup)
	})
	r.Get("/documents/{docID}", s.handleGet)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req models.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	ext := strings.ToLower(path.Ext(req.Filename))
	contentType, ok := contentTypes[ext]
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported file type "+ext)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "data is not valid base64")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "data is empty")
		return
	}

	docID := uuid.NewString()
	key := keys.OriginalUploadKey(userID, req.Filename, docID)

	if err := s.objects.Upload(r.Context(), s.bucket, key, contentType, data); err != nil {
		slog.Error("Failed to store upload", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	err = s.store.InsertDocument(r.Context(), models.Document{
		DocID:       docID,
		UserID:      userID,
		OriginalKey: key,
		Status:      models.StatusUploaded,
		UploadDate:  time.Now().UTC(),
	})
	if err != nil {
		slog.Error("Failed to record upload", "doc_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record document")
		return
	}

	writeJSON(w, http.StatusCreated, models.UploadResponse{
		Message:  "document uploaded",
		DocID:    docID,
		FilePath: key,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	docs, err := s.store.ListDocuments(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list documents", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, models.ListResponse{Documents: docs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	doc, err := s.store.GetDocument(r.Context(), docID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load document", "doc_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req models.CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	group := models.Group{
		GroupID:   uuid.NewString(),
		UserID:    userID,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateGroup(r.Context(), group); err != nil {
		slog.Error("Failed to create group", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}

	writeJSON(w, http.StatusCreated, models.GroupResponse{
		Message: "group created",
		GroupID: group.GroupID,
		Name:    group.Name,
	})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	groups, err := s.store.ListGroups(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list groups", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	writeJSON(w, http.StatusOK, models.GroupsResponse{Groups: groups})
}

func (s *Server) handleAssignGroup(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	groupID := chi.URLParam(r, "groupID")

	var req models.AssignGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.DocID == "" {
		writeError(w, http.StatusBadRequest, "doc_id is required")
		return
	}

	err := s.store.AssignToGroup(r.Context(), userID, groupID, req.DocID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "group or document not found")
		return
	}
	if err != nil {
		slog.Error("Failed to assign document to group",
			"group_id", groupID, "doc_id", req.DocID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to assign document")
		return
	}

	writeJSON(w, http.StatusOK, models.GroupResponse{
		Message: "document assigned",
		GroupID: groupID,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter is required")
		return
	}

	limit := services.DefaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	threshold := services.DefaultSearchThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "threshold must be between 0 and 1")
			return
		}
		threshold = f
	}

	results, err := s.search.Query(r.Context(), userID, query, limit, threshold)
	if err != nil {
		slog.Error("Search failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, models.SearchResponse{
		Query:        query,
		Results:      results,
		TotalResults: len(results),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
