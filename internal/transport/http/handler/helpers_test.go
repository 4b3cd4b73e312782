package handler

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-notifications-nosql/internal/application/broadcast"
	"github.com/go-notifications-nosql/internal/application/changefeed"
	"github.com/go-notifications-nosql/internal/application/notification"
	"github.com/go-notifications-nosql/internal/application/receipt"
	jwtinfra "github.com/go-notifications-nosql/internal/infrastructure/jwt"
	"github.com/go-notifications-nosql/internal/infrastructure/memory"
	"github.com/go-notifications-nosql/internal/transport/http/middleware"
	"github.com/stretchr/testify/require"
)

// testServer wires the real services over memory stores, the way main does
// with STORE_DRIVER=memory.
type testServer struct {
	jwt   *jwtinfra.Provider
	feed  *changefeed.Feed
	hub   *broadcast.Hub
	notes *memory.NotificationStore
	reads *memory.ReceiptStore
	mux   http.Handler
}

func newTestJWTProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return jwtinfra.NewProviderFromKeys(key, &key.PublicKey, time.Hour)
}

func newTestServer(t *testing.T, live LiveConfig) *testServer {
	t.Helper()
	ts := &testServer{
		jwt:   newTestJWTProvider(t),
		feed:  changefeed.New(nil),
		hub:   broadcast.NewHub(8, nil),
		notes: memory.NewNotificationStore(),
		reads: memory.NewReceiptStore(),
	}
	ts.feed.Subscribe(ts.hub.Publish)
	t.Cleanup(ts.hub.Close)

	store := changefeed.NewPublishingStore(ts.notes, ts.feed.Publish)
	notifH := NewNotificationHandler(
		notification.NewService(store, ts.reads),
		receipt.NewService(receipt.ServiceDeps{Notifications: store, Receipts: ts.reads, Publisher: ts.feed}),
	)
	liveH := NewLiveHandler(ts.hub, live, nil)

	r := chi.NewRouter()
	r.Get("/v1/health-check/{action}", NewHealthHandler().Ping)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(ts.jwt))
		r.With(middleware.RequireRole("admin")).Post("/v1/notifications", notifH.Create)
		r.Get("/v1/notifications", notifH.List)
		r.Get("/v1/notifications/unread-count", notifH.UnreadCount)
		r.Patch("/v1/notifications/mark-read", notifH.MarkRead)
		r.Patch("/v1/notifications/mark-all-read", notifH.MarkAllRead)
		r.Get("/v1/notifications/stream", liveH.Stream)
		r.Get("/v1/notifications/poll", liveH.Poll)
		r.Get("/v1/notifications/socket", liveH.Socket)
	})
	ts.mux = r
	return ts
}

func (ts *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := ts.jwt.Sign(userID, role)
	require.NoError(t, err)
	return tok
}

// do serves one request through the router with a Bearer token for userID.
func (ts *testServer) do(t *testing.T, method, target, userID, role string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if userID != "" {
		r.Header.Set("Authorization", "Bearer "+ts.token(t, userID, role))
	}
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, r)
	return rr
}
