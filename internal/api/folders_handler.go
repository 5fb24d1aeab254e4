package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/vdavid/mailsync/internal/models"
)

// FoldersHandler handles folder listing and creation.
type FoldersHandler struct {
	repos Repositories
}

// NewFoldersHandler creates a new FoldersHandler instance.
func NewFoldersHandler(repos Repositories) *FoldersHandler {
	return &FoldersHandler{repos: repos}
}

// ServeHTTP dispatches GET (list) and POST (create).
func (h *FoldersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetFolders(w, r)
	case http.MethodPost:
		h.CreateFolder(w, r)
	default:
		methodNotAllowed(w)
	}
}

// GetFolders returns the folders of an account, live when possible, cached otherwise.
func (h *FoldersHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	repo, ok := repositoryForRequest(w, r, h.repos, "FoldersHandler")
	if !ok {
		return
	}

	folders := repo.ListFolders(r.Context())
	sortFoldersByRole(folders)
	WriteJSONResponse(w, folders)
}

// CreateFolder creates a folder on the server.
func (h *FoldersHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	repo, ok := repositoryForRequest(w, r, h.repos, "FoldersHandler")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSONBody(w, r, &req, "FoldersHandler") {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	writeOK(w, repo.CreateFolder(r.Context(), req.Name))
}

// folderRole returns the sort priority of a folder from its name and SPECIAL-USE attributes.
func folderRole(f models.FolderInfo) int {
	if strings.EqualFold(f.Name, "INBOX") {
		return 1
	}
	rolePriority := map[string]int{
		`\Sent`:    2,
		`\Drafts`:  3,
		`\Junk`:    4,
		`\Trash`:   5,
		`\Archive`: 6,
	}
	for _, flag := range f.Flags {
		if p, ok := rolePriority[flag]; ok {
			return p
		}
	}
	return 7
}

// sortFoldersByRole sorts folders by role priority, then alphabetically.
// Priority order: inbox, sent, drafts, junk, trash, archive, other.
func sortFoldersByRole(folders []models.FolderInfo) {
	sort.SliceStable(folders, func(i, j int) bool {
		priorityI := folderRole(folders[i])
		priorityJ := folderRole(folders[j])

		if priorityI != priorityJ {
			return priorityI < priorityJ
		}
		return folders[i].Name < folders[j].Name
	})
}
