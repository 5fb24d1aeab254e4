package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/rules"
)

// RulesHandler handles rule configuration.
type RulesHandler struct {
	manager *rules.Manager
}

// NewRulesHandler creates a new RulesHandler instance.
func NewRulesHandler(manager *rules.Manager) *RulesHandler {
	return &RulesHandler{manager: manager}
}

// ServeHTTP dispatches GET (list), POST (create, or update when the body has an id)
// and DELETE (?id=).
func (h *RulesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListRules(w, r)
	case http.MethodPost:
		h.SaveRule(w, r)
	case http.MethodDelete:
		h.DeleteRule(w, r)
	default:
		methodNotAllowed(w)
	}
}

// ListRules returns every rule, inactive ones included.
func (h *RulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.manager.List(r.Context())
	if err != nil {
		log.Printf("RulesHandler: Failed to list rules: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Rule{}
	}
	WriteJSONResponse(w, list)
}

// SaveRule stores a rule. A missing is_active is treated as true.
func (h *RulesHandler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.Rule
		IsActive *bool `json:"is_active"`
	}
	if !decodeJSONBody(w, r, &req, "RulesHandler") {
		return
	}

	rule := req.Rule
	rule.IsActive = req.IsActive == nil || *req.IsActive

	var err error
	status := http.StatusOK
	if rule.ID == 0 {
		err = h.manager.Create(r.Context(), &rule)
		status = http.StatusCreated
	} else {
		err = h.manager.Update(r.Context(), &rule)
	}
	if err != nil {
		h.writeRuleError(w, err)
		return
	}

	writeJSONStatus(w, status, &rule)
}

// DeleteRule removes the rule named by the "id" query parameter.
func (h *RulesHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "id must be a positive integer", http.StatusBadRequest)
		return
	}

	if err := h.manager.Delete(r.Context(), id); err != nil {
		h.writeRuleError(w, err)
		return
	}
	WriteJSONResponse(w, okResponse{OK: true})
}

func (h *RulesHandler) writeRuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrInvalidRule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, db.ErrRuleNotFound):
		http.Error(w, "Rule not found", http.StatusNotFound)
	default:
		log.Printf("RulesHandler: Failed to save rule: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
