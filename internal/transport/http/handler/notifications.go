package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-notifications-nosql/internal/application/notification"
	"github.com/go-notifications-nosql/internal/application/receipt"
	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/pkg/validate"
	"github.com/go-notifications-nosql/internal/transport/http/middleware"
)

// NotificationHandler handles notification and read-tracking endpoints.
// The viewer always comes from the verified token.
type NotificationHandler struct {
	notifications notification.Service
	receipts      receipt.Service
}

func NewNotificationHandler(notifications notification.Service, receipts receipt.Service) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, receipts: receipts}
}

func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := h.notifications.Create(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, DataEnvelope{Data: n})
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	viewer, ok := middleware.ViewerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q, err := parseListQuery(r)
	if err != nil {
		httpError(w, err)
		return
	}
	page, err := h.notifications.List(r.Context(), viewer, q)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	viewer, ok := middleware.ViewerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	count, err := h.receipts.UnreadCount(r.Context(), viewer)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, count)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	viewer, ok := middleware.ViewerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rr, err := h.receipts.MarkRead(r.Context(), viewer.UserID, req.NotificationID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: rr})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	viewer, ok := middleware.ViewerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	n, err := h.receipts.MarkAllRead(r.Context(), viewer)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MarkAllReadEnvelope{
		Message: fmt.Sprintf("%d notifications marked as read", n),
		Marked:  n,
	})
}

func parseListQuery(r *http.Request) (domain.ListQuery, error) {
	q := domain.ListQuery{Type: domain.NotificationType(r.URL.Query().Get("type"))}
	var err error
	if q.Page, err = intParam(r, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		return q, err
	}
	return q, nil
}

// intParam returns 0 for an absent parameter so the service applies its default.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, domain.ErrBadRequest)
	}
	return n, nil
}
