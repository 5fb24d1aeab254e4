package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/vdavid/mailsync/internal/accounts"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

// Forgetter drops whatever is held open for an account. *repository.Registry implements it.
type Forgetter interface {
	Forget(email string)
}

// Watcher follows new mail of accounts as they come and go. *imap.IdleListener implements it.
type Watcher interface {
	Watch(email string)
	Unwatch(email string)
}

// AccountsHandler handles account configuration.
type AccountsHandler struct {
	manager *accounts.Manager
	repos   Forgetter
	watcher Watcher
}

// NewAccountsHandler creates a new AccountsHandler instance. watcher may be nil.
func NewAccountsHandler(manager *accounts.Manager, repos Forgetter, watcher Watcher) *AccountsHandler {
	return &AccountsHandler{manager: manager, repos: repos, watcher: watcher}
}

// ServeHTTP dispatches GET (list), POST (add, or update with ?email=) and DELETE (?email=).
func (h *AccountsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListAccounts(w, r)
	case http.MethodPost:
		h.SaveAccount(w, r)
	case http.MethodDelete:
		h.DeleteAccount(w, r)
	default:
		methodNotAllowed(w)
	}
}

// ListAccounts returns every configured account. Passwords are never included.
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.manager.List(r.Context())
	if err != nil {
		log.Printf("AccountsHandler: Failed to list accounts: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Account{}
	}
	WriteJSONResponse(w, list)
}

// SaveAccount adds an account, or updates the one named by the "email" query parameter.
// On update the password may be left empty to keep the stored one.
func (h *AccountsHandler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	var req models.AccountRequest
	if !decodeJSONBody(w, r, &req, "AccountsHandler") {
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	oldEmail := strings.TrimSpace(r.URL.Query().Get("email"))
	status := http.StatusOK

	var (
		account *models.Account
		err     error
	)
	if oldEmail == "" {
		account, err = h.manager.Add(r.Context(), &req)
		status = http.StatusCreated
	} else {
		account, err = h.manager.Update(r.Context(), oldEmail, &req)
		if err == nil {
			// The open connection still logs in with the old settings.
			h.repos.Forget(oldEmail)
			h.repos.Forget(account.Email)
		}
	}
	if err != nil {
		h.writeAccountError(w, err)
		return
	}
	if h.watcher != nil {
		if oldEmail != "" {
			h.watcher.Unwatch(oldEmail)
		}
		h.watcher.Watch(account.Email)
	}

	writeJSONStatus(w, status, account)
}

// DeleteAccount removes the account named by the "email" query parameter, with its
// cached mail and password.
func (h *AccountsHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	if err := h.manager.Delete(r.Context(), email); err != nil {
		h.writeAccountError(w, err)
		return
	}
	h.repos.Forget(email)
	if h.watcher != nil {
		h.watcher.Unwatch(email)
	}
	WriteJSONResponse(w, okResponse{OK: true})
}

func (h *AccountsHandler) writeAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accounts.ErrInvalidAccount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, accounts.ErrAccountExists):
		http.Error(w, "Account already exists", http.StatusConflict)
	case errors.Is(err, db.ErrAccountNotFound):
		http.Error(w, "Account not found", http.StatusNotFound)
	default:
		log.Printf("AccountsHandler: Failed to save account: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
