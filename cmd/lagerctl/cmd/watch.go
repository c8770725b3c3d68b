package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lagerkoll/internal/client"
	"lagerkoll/internal/realtime"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow live changes and keep collection totals up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx)
		},
	}
}

// watch mirrors a browser tab: every collection is cached, events mark
// entries stale, and stale entries are refetched and summarised.
func (a *app) watch(ctx context.Context) error {
	api := a.api()
	cache := client.NewQueryCache(client.WithCacheLogger(a.logger))
	for _, key := range realtime.AllKeys {
		cache.Register(key, api.Fetcher(key))
	}

	stale := make(chan struct{}, 1)
	cache.OnStale(func([]realtime.CacheKey) {
		select {
		case stale <- struct{}{}:
		default:
		}
	})

	for _, key := range realtime.AllKeys {
		v, err := cache.Get(ctx, key)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden {
				continue
			}
			return err
		}
		a.printSummary(key, v)
	}

	sub := client.NewSubscriber(wsURL(a.v.GetString(keyServer)), cache,
		client.WithToken(a.v.GetString(keyToken)),
		client.WithSubscriberLogger(a.logger),
		client.OnEvent(func(ev realtime.Event) {
			fmt.Fprintf(a.out, "%s  %s\n", time.Now().Format("15:04:05"), ev.Type())
		}),
		client.OnStateChange(func(s client.State) {
			fmt.Fprintf(a.out, "%s  [%s]\n", time.Now().Format("15:04:05"), s)
		}),
	)

	errc := make(chan error, 1)
	go func() { errc <- sub.Run(ctx) }()

	for {
		select {
		case err := <-errc:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-stale:
			if err := cache.Refetch(ctx); err != nil {
				a.logger.Warn("refetch failed", "error", err)
			}
			for _, key := range realtime.AllKeys {
				if v, fresh := cache.Peek(key); fresh {
					a.printSummary(key, v)
				}
			}
		}
	}
}

func (a *app) printSummary(key realtime.CacheKey, v any) {
	raw, ok := v.(json.RawMessage)
	if !ok {
		return
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		fmt.Fprintf(a.out, "%-24s updated\n", key)
		return
	}
	fmt.Fprintf(a.out, "%-24s %d rows\n", key, len(items))
}
