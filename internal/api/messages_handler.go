package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/vdavid/mailsync/internal/models"
)

// MessagesHandler serves message bodies and the message writes.
type MessagesHandler struct {
	repos Repositories
}

// NewMessagesHandler creates a new MessagesHandler instance.
func NewMessagesHandler(repos Repositories) *MessagesHandler {
	return &MessagesHandler{repos: repos}
}

// GetMessage returns the body of one message. A body that cannot be fetched or found
// in the cache is returned empty rather than as an error.
func (h *MessagesHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	repo, ok := repositoryForRequest(w, r, h.repos, "MessagesHandler")
	if !ok {
		return
	}

	uid, err := strconv.ParseUint(r.URL.Query().Get("uid"), 10, 32)
	if err != nil || uid == 0 {
		http.Error(w, "uid must be a positive integer", http.StatusBadRequest)
		return
	}

	body := repo.FetchEmailBody(r.Context(), folderParam(r), uint32(uid))
	if body == nil {
		body = &models.MessageBody{}
	}
	WriteJSONResponse(w, body)
}

// moveRequest is the body of move and copy.
type moveRequest struct {
	Folder string   `json:"folder"`
	UIDs   []uint32 `json:"uids"`
	Target string   `json:"target"`
}

// selectionRequest is the body of delete and archive.
type selectionRequest struct {
	Folder string   `json:"folder"`
	UIDs   []uint32 `json:"uids"`
}

// flagsRequest is the body of a flag change. Add and Remove may both be set.
type flagsRequest struct {
	Folder string   `json:"folder"`
	UIDs   []uint32 `json:"uids"`
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// Move moves messages to the target folder.
func (h *MessagesHandler) Move(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, true)
}

// Copy copies messages to the target folder.
func (h *MessagesHandler) Copy(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, false)
}

func (h *MessagesHandler) transfer(w http.ResponseWriter, r *http.Request, move bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	repo, ok := repositoryForRequest(w, r, h.repos, "MessagesHandler")
	if !ok {
		return
	}

	var req moveRequest
	if !decodeJSONBody(w, r, &req, "MessagesHandler") {
		return
	}
	if req.Folder == "" || strings.TrimSpace(req.Target) == "" || len(req.UIDs) == 0 {
		http.Error(w, "folder, target and uids are required", http.StatusBadRequest)
		return
	}

	var done bool
	if move {
		done = repo.MoveEmails(r.Context(), req.Folder, req.UIDs, req.Target)
	} else {
		done = repo.CopyEmails(r.Context(), req.Folder, req.UIDs, req.Target)
	}
	if !done {
		log.Printf("MessagesHandler: %d messages from %s to %s failed for %s", len(req.UIDs), req.Folder, req.Target, repo.Email())
	}
	writeOK(w, done)
}

// Flags adds and removes flags on messages.
func (h *MessagesHandler) Flags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	repo, ok := repositoryForRequest(w, r, h.repos, "MessagesHandler")
	if !ok {
		return
	}

	var req flagsRequest
	if !decodeJSONBody(w, r, &req, "MessagesHandler") {
		return
	}
	if req.Folder == "" || len(req.UIDs) == 0 || (len(req.Add) == 0 && len(req.Remove) == 0) {
		http.Error(w, "folder, uids and at least one flag are required", http.StatusBadRequest)
		return
	}

	done := true
	if len(req.Add) > 0 {
		done = repo.AddFlags(r.Context(), req.Folder, req.UIDs, req.Add)
	}
	if done && len(req.Remove) > 0 {
		done = repo.RemoveFlags(r.Context(), req.Folder, req.UIDs, req.Remove)
	}
	writeOK(w, done)
}

// Delete moves messages to the trash, or flags them deleted when there is none.
func (h *MessagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.discard(w, r, "delete")
}

// Archive moves messages to the archive folder. It answers 502 when the server has none.
func (h *MessagesHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.discard(w, r, "archive")
}

func (h *MessagesHandler) discard(w http.ResponseWriter, r *http.Request, action string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	repo, ok := repositoryForRequest(w, r, h.repos, "MessagesHandler")
	if !ok {
		return
	}

	var req selectionRequest
	if !decodeJSONBody(w, r, &req, "MessagesHandler") {
		return
	}
	if req.Folder == "" || len(req.UIDs) == 0 {
		http.Error(w, "folder and uids are required", http.StatusBadRequest)
		return
	}

	var done bool
	if action == "delete" {
		done = repo.DeleteEmails(r.Context(), req.Folder, req.UIDs)
	} else {
		done = repo.ArchiveEmails(r.Context(), req.Folder, req.UIDs)
	}
	if !done {
		log.Printf("MessagesHandler: %s of %d messages in %s failed for %s", action, len(req.UIDs), req.Folder, repo.Email())
	}
	writeOK(w, done)
}
