// Package api exposes the administrative HTTP surface: file info, commit,
// session association and listing, download, delete and a health probe. The
// resumable-upload wire protocol itself is handled by the protocol adapter
// in front of the store, not here.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"go.unify.dev/uploads/middleware"
	"go.unify.dev/uploads/store"
)

type API struct {
	store  *store.Store
	logger *zap.Logger
}

func New(uploadStore *store.Store, logger *zap.Logger) *API {
	return &API{store: uploadStore, logger: logger}
}

// Routes builds the router with CORS and API-key middleware applied.
func (a *API) Routes(apiKey string, corsOrigins []string) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CorsMiddleware(corsOrigins))
	router.Use(middleware.APIKeyMiddleware(apiKey, a.logger))

	router.HandleFunc("/", a.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	router.HandleFunc("/api/files/{fileId}", a.handleFileInfo).Methods(http.MethodGet)
	router.HandleFunc("/api/files/{fileId}", a.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/api/files/{fileId}/commit", a.handleCommit).Methods(http.MethodPost)
	router.HandleFunc("/api/files/{fileId}/associate", a.handleAssociate).Methods(http.MethodPost)
	router.HandleFunc("/api/files/{fileId}/download", a.handleDownload).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{sessionId}/files", a.handleSessionFiles).Methods(http.MethodGet)

	return router
}

func (a *API) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Unify Uploads API at /api"))
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

func (a *API) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	info, err := a.store.GetFileInfo(r.Context(), fileID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, info)
}

func (a *API) handleCommit(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	if err := a.store.CommitFile(r.Context(), fileID); err != nil {
		a.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (a *API) handleAssociate(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	var req associateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.SessionID == "" {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
		return
	}

	if err := a.store.AssociateFileWithSession(r.Context(), fileID, req.SessionID); err != nil {
		a.writeError(w, err)
		return
	}

	if req.AppID != "" {
		if err := a.store.SetAppID(r.Context(), fileID, req.AppID); err != nil {
			a.writeError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (a *API) handleSessionFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	files, err := a.store.GetFilesBySession(r.Context(), sessionID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, files)
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	file, err := a.store.GetFile(r.Context(), fileID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	content, err := file.Content(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	defer content.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename()})

	w.Header().Set("Content-Type", file.ContentType())
	w.Header().Set("Content-Disposition", disposition)
	if size, err := file.Size(); err == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	}

	if _, err := io.Copy(w, content); err != nil {
		a.logger.Warn("download aborted", zap.String("file_id", fileID), zap.Error(err))
	}
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	// The store's delete is idempotent; the HTTP surface distinguishes an
	// unknown id so clients get a 404.
	exists, err := a.store.FileExists(r.Context(), fileID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !exists {
		a.writeJSON(w, http.StatusNotFound, errorResponse{Error: "upload not found"})
		return
	}

	if err := a.store.DeleteFile(r.Context(), fileID); err != nil {
		a.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var validationErr *store.ValidationError

	switch {
	case errors.Is(err, store.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, errorResponse{Error: "upload not found"})
	case errors.As(err, &validationErr):
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationErr.Error()})
	case errors.Is(err, store.ErrInvalidState):
		a.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		a.logger.Error("request failed", zap.Error(err))
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
