package api

import "net/http"

// SilentSwitch toggles notification silent mode. *notify.Silencer implements it.
type SilentSwitch interface {
	Silent() bool
	SetSilent(silent bool)
}

type silentState struct {
	Silent *bool `json:"silent"`
}

// NotificationsHandler reads and sets silent mode.
type NotificationsHandler struct {
	silencer SilentSwitch
}

// NewNotificationsHandler creates a new NotificationsHandler instance.
func NewNotificationsHandler(silencer SilentSwitch) *NotificationsHandler {
	return &NotificationsHandler{silencer: silencer}
}

func (h *NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req silentState
		if !decodeJSONBody(w, r, &req, "NotificationsHandler") {
			return
		}
		if req.Silent == nil {
			http.Error(w, "silent is required", http.StatusBadRequest)
			return
		}
		h.silencer.SetSilent(*req.Silent)
	default:
		methodNotAllowed(w)
		return
	}

	silent := h.silencer.Silent()
	WriteJSONResponse(w, silentState{Silent: &silent})
}
