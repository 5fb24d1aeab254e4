// Package api is the HTTP and WebSocket surface of the daemon. Handlers only translate
// requests into repository, account and rule calls; no mail logic lives here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/repository"
)

// Repositories hands out the repository of an account. *repository.Registry implements it.
type Repositories interface {
	Get(ctx context.Context, email string) (*repository.Repository, error)
}

// WriteJSONResponse encodes data into a buffer first so a failed encode never leaves a
// partial body. It reports whether the response was written.
func WriteJSONResponse(w http.ResponseWriter, data any) bool {
	return writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("API: Failed to write response: %v", err)
	}
	return true
}

// okResponse is the body of every write endpoint.
type okResponse struct {
	OK bool `json:"ok"`
}

// writeOK answers a remote write. A failed write is reported as 502 Bad Gateway,
// since the server, not the request, was at fault.
func writeOK(w http.ResponseWriter, ok bool) {
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	writeJSONStatus(w, status, okResponse{OK: ok})
}

// decodeJSONBody decodes the request body into dst and answers 400 on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, component string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("%s: Failed to decode request: %v", component, err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// repositoryForRequest resolves the "account" query parameter to a repository.
func repositoryForRequest(w http.ResponseWriter, r *http.Request, repos Repositories, component string) (*repository.Repository, bool) {
	email := strings.TrimSpace(r.URL.Query().Get("account"))
	if email == "" {
		http.Error(w, "account is required", http.StatusBadRequest)
		return nil, false
	}

	repo, err := repos.Get(r.Context(), email)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
			return nil, false
		}
		log.Printf("%s: Failed to open repository for %s: %v", component, email, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return repo, true
}

// folderParam returns the "folder" query parameter, defaulting to INBOX.
func folderParam(r *http.Request) string {
	if folder := strings.TrimSpace(r.URL.Query().Get("folder")); folder != "" {
		return folder
	}
	return "INBOX"
}

// ParsePaginationParams parses page and limit from query parameters.
// Returns default values (page=1, limit=defaultLimit) if parameters are missing or invalid.
func ParsePaginationParams(r *http.Request, defaultLimit int) (page, limit int) {
	page = 1
	limit = defaultLimit

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if parsed, err := strconv.Atoi(pageStr); err == nil && parsed > 0 {
			page = parsed
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	return page, limit
}

// methodNotAllowed is the default branch of every method switch.
func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
