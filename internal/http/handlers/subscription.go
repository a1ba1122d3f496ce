package handlers

import "net/http"

// Subscription reports whether the caller currently holds a paid entitlement.
func (a *App) Subscription(w http.ResponseWriter, r *http.Request) {
	status, active, err := a.Subscriptions.Status(r.Context(), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if status == "" {
		status = "none"
	}
	a.json(w, http.StatusOK, map[string]any{"active": active, "status": status})
}
