package sse

import (
	"fmt"
	"net/http"
	"time"
)

// DefaultKeepAlive is shorter than common proxy idle timeouts.
const DefaultKeepAlive = 30 * time.Second

// StreamOptions controls Stream.
type StreamOptions struct {
	// Initial events are written before any hub event.
	Initial []Event
	// Until ends the stream after the event it returns true for.
	Until func(Event) bool
	// KeepAlive is the comment interval. Defaults to DefaultKeepAlive.
	KeepAlive time.Duration
}

// WriteHeaders sets the event-stream response headers.
func WriteHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteEvent writes one event frame and flushes it.
func WriteEvent(w http.ResponseWriter, ev Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data); err != nil {
		return err
	}
	return http.NewResponseController(w).Flush()
}

// Stream writes c's events to w until the request ends, the client is
// unregistered, a write fails or opts.Until matches. The write deadline is
// cleared since the response is long-lived.
func Stream(w http.ResponseWriter, r *http.Request, c *Client, opts StreamOptions) error {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	WriteHeaders(w)
	w.WriteHeader(http.StatusOK)

	done := func(ev Event) bool { return opts.Until != nil && opts.Until(ev) }
	for _, ev := range opts.Initial {
		if err := WriteEvent(w, ev); err != nil {
			return err
		}
		if done(ev) {
			return nil
		}
	}

	interval := opts.KeepAlive
	if interval <= 0 {
		interval = DefaultKeepAlive
	}
	keepAlive := time.NewTicker(interval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case ev, ok := <-c.Events():
			if !ok {
				return nil
			}
			if err := WriteEvent(w, ev); err != nil {
				return err
			}
			if done(ev) {
				return nil
			}
		case t := <-keepAlive.C:
			if _, err := fmt.Fprintf(w, ": keepalive %d\n\n", t.Unix()); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil {
				return err
			}
		}
	}
}
