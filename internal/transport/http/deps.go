package http

import (
	"log/slog"

	"github.com/go-notifications-nosql/internal/application/broadcast"
	"github.com/go-notifications-nosql/internal/application/notification"
	"github.com/go-notifications-nosql/internal/application/receipt"
	"github.com/go-notifications-nosql/internal/transport/http/middleware"
)

// NotificationStore is the minimal interface the router requires from a
// notification store. When the change feed is the in-process hook, main
// passes the store already wrapped so that Put publishes.
type NotificationStore interface {
	notification.Store
	receipt.NotificationReader
}

// ReceiptStore is the minimal interface the router requires from a read
// receipt store.
type ReceiptStore interface {
	notification.ReceiptReader
	receipt.Store
}

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	Notifications NotificationStore
	Receipts      ReceiptStore
	Publisher     receipt.Publisher
	Hub           *broadcast.Hub
	Verifier      middleware.TokenVerifier
	Logger        *slog.Logger
}
