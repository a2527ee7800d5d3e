package broadcast

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
	"github.com/drblury/xrayflow/internal/runtime/logging"
)

// KeepAliveInterval is how often an idle stream receives a comment frame.
var KeepAliveInterval = 25 * time.Second

// Handler streams events as Server-Sent Events. Each event becomes one
// frame named after its kind.
func Handler(b *Broadcaster, log logging.ServiceLogger) http.HandlerFunc {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub, err := b.Subscribe(r.Context(), 0)
		if err != nil {
			http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, ": subscribed %s\n\n", sub.ID)
		flusher.Flush()

		log.Debug("Event stream opened", logging.LogFields{"subscription": sub.ID})
		defer log.Debug("Event stream closed", logging.LogFields{"subscription": sub.ID})

		keepAlive := time.NewTicker(KeepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := WriteFrame(w, ev); err != nil {
					log.Error("Event stream write failed", err, logging.LogFields{"subscription": sub.ID})
					return
				}
				flusher.Flush()
			}
		}
	}
}

// WriteFrame writes ev as a single SSE frame.
func WriteFrame(w io.Writer, ev Event) error {
	data, err := jsoncodec.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
