// Command watch follows one user's notifications from the terminal: it keeps
// a local cache in sync over the SSE stream and prints the unread count as it
// changes.
//
//	go run ./cmd/watch -url http://localhost:3000 -token "$(go run ./cmd/token -user u1)"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-notifications-nosql/internal/client"
)

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "API base URL")
	token := flag.String("token", os.Getenv("NOTIFY_TOKEN"), "bearer token (default $NOTIFY_TOKEN)")
	interval := flag.Duration("refresh", time.Minute, "full refetch interval")
	markAll := flag.Bool("mark-all", false, "mark everything read and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *token == "" {
		logger.Error("a token is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No overall timeout: the stream request stays open.
	c := client.New(*baseURL, *token, client.WithHTTPClient(&http.Client{}))

	if *markAll {
		n, err := c.MarkAllRead(ctx)
		if err != nil {
			logger.Error("mark all read", "error", err)
			os.Exit(1)
		}
		fmt.Printf("marked %d notifications read\n", n)
		return
	}

	cache := client.NewCache(c, logger)
	var (
		mu   sync.Mutex
		last = -1
	)
	cache.Subscribe(func(items []client.Item) {
		mu.Lock()
		defer mu.Unlock()
		unread := 0
		for _, it := range items {
			if !it.Read {
				unread++
			}
		}
		if unread != last {
			last = unread
			fmt.Printf("%s unread=%d total=%d\n", time.Now().Format(time.TimeOnly), unread, len(items))
		}
	})

	s := client.NewSyncer(c, cache, client.SyncerConfig{Interval: *interval}, logger)
	if err := s.Run(ctx); err != nil {
		logger.Error("sync stopped", "error", err)
		os.Exit(1)
	}
	cache.Wait()
}
