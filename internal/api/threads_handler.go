package api

import (
	"net/http"

	"github.com/vdavid/mailsync/internal/models"
)

// ThreadsResponse is one page of a folder's thread forest.
type ThreadsResponse struct {
	Folder  string               `json:"folder"`
	Threads []*models.ThreadNode `json:"threads"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
}

// ThreadsHandler handles thread-list-related API requests.
type ThreadsHandler struct {
	repos        Repositories
	defaultLimit int
}

// NewThreadsHandler creates a new ThreadsHandler instance. defaultLimit is the page size
// used when the request names none.
func NewThreadsHandler(repos Repositories, defaultLimit int) *ThreadsHandler {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &ThreadsHandler{repos: repos, defaultLimit: defaultLimit}
}

// GetThreads returns a page of threads fetched from the server. When the server cannot
// be reached, the page is rebuilt from the cache instead.
func (h *ThreadsHandler) GetThreads(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, false)
}

// GetCachedThreads returns a page of threads rebuilt from the cache only.
func (h *ThreadsHandler) GetCachedThreads(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true)
}

func (h *ThreadsHandler) serve(w http.ResponseWriter, r *http.Request, cachedOnly bool) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	repo, ok := repositoryForRequest(w, r, h.repos, "ThreadsHandler")
	if !ok {
		return
	}

	folder := folderParam(r)
	page, limit := ParsePaginationParams(r, h.defaultLimit)
	offset := (page - 1) * limit

	var threads []*models.ThreadNode
	if cachedOnly {
		threads = repo.GetCachedThreads(r.Context(), folder, limit, offset)
	} else {
		threads = repo.FetchThreads(r.Context(), folder, limit, offset)
	}
	if threads == nil {
		threads = []*models.ThreadNode{}
	}

	WriteJSONResponse(w, &ThreadsResponse{
		Folder:  folder,
		Threads: threads,
		Page:    page,
		PerPage: limit,
	})
}
