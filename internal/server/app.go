package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// StartApp builds the directory, mounts the relay endpoint and serves until
// ctx is cancelled. The stale-session sweep runs alongside.
func StartApp(ctx context.Context, cfg Config, log zerolog.Logger) error {
	dir := NewDirectory(cfg, log)
	defer dir.Close()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dir.Sweep()
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWS(dir, w, r)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Addr).Msg("relay listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
