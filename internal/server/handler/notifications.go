package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// NotificationService lists a user's notifications.
type NotificationService interface {
	Notifications(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Notification, error)
}

// InboxReader reads delivered notifications from a user's stream after a
// cursor.
type InboxReader interface {
	Read(ctx context.Context, userID, afterID string, count int) ([]domain.Notification, string, error)
}

// NotificationHandler serves the per-user notification inbox.
type NotificationHandler struct {
	notes  NotificationService
	inbox  InboxReader
	logger *slog.Logger
}

func NewNotificationHandler(notes NotificationService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notes: notes, logger: logger}
}

// WithInbox enables cursor polling through ?after= on the delivered stream.
func (h *NotificationHandler) WithInbox(inbox InboxReader) *NotificationHandler {
	h.inbox = inbox
	return h
}

type listNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Limit         int                   `json:"limit"`
	Offset        int                   `json:"offset,omitempty"`
	Next          string                `json:"next,omitempty"`
}

// ListNotifications returns a user's notifications, newest first. With
// ?after=<cursor> it instead returns what was delivered to the user's stream
// after the cursor, oldest first, plus the next cursor.
// GET /api/users/{id}/notifications?limit=50&offset=0
// GET /api/users/{id}/notifications?after=0&limit=50
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if after := r.URL.Query().Get("after"); after != "" {
		h.readInbox(w, r, after, opts.Limit)
		return
	}
	notes, err := h.notes.Notifications(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list notifications", err)
		return
	}
	if notes == nil {
		notes = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, listNotificationsResponse{
		Notifications: notes,
		Limit:         opts.Limit,
		Offset:        opts.Offset,
	})
}

func (h *NotificationHandler) readInbox(w http.ResponseWriter, r *http.Request, after string, limit int) {
	if h.inbox == nil {
		writeError(w, http.StatusBadRequest, "after requires the redis notification stream")
		return
	}
	notes, next, err := h.inbox.Read(r.Context(), pathParam(r, "id"), after, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "read notification stream", err)
		return
	}
	writeJSON(w, http.StatusOK, listNotificationsResponse{
		Notifications: notes,
		Limit:         limit,
		Next:          next,
	})
}
