package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"murmur/cmd/internal/chat"
)

func registerHTTP(mux *http.ServeMux, a *App) {
	// Liveness goes through the same event path as a dispatcher PING.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp, err := a.service.HandleEvent(r.Context(), chat.Event{Kind: chat.EventPing})
		if err != nil || resp.StatusCode != http.StatusOK {
			http.Error(w, "not alive", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(resp.Body + "\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if name, err := a.backends.ready(r.Context()); err != nil {
			a.log.Info("readyz.not_ready", "backend", name, "err", err)
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{Registry: a.metrics}))

	mux.Handle("/events", a.events)

	if a.ws != nil {
		mux.Handle("/ws", withoutDeadlines(a.ws))
	}
}
