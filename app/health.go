package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthTimeout = 2 * time.Second

type probe func(ctx context.Context) error

// healthHandler runs every probe concurrently under one deadline. Any failure
// turns the whole answer into 503 "degraded".
func healthHandler(probes map[string]probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		var (
			g      errgroup.Group
			mu     sync.Mutex
			checks = make(map[string]string, len(probes))
		)
		for name, check := range probes {
			name, check := name, check
			g.Go(func() error {
				err := check(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					checks[name] = "error"
				} else {
					checks[name] = "ok"
				}
				return err
			})
		}

		status := http.StatusOK
		body := map[string]any{"status": "ok", "checks": checks, "time": time.Now().UTC().Format(time.RFC3339)}
		if err := g.Wait(); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
