package ingest

import (
	"fmt"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/passive.radar/internal/timeutil"
)

// Hub owns one Channel per pipeline stream. The channel set is fixed at
// construction.
type Hub struct {
	channels map[Name]*Channel
	names    []Name
	clock    timeutil.Clock
}

// NewHub creates a channel for each name, or for every channel in Names when
// none are given.
func NewHub(cfg ChannelConfig, names ...Name) *Hub {
	if len(names) == 0 {
		names = Names
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	h := &Hub{
		channels: make(map[Name]*Channel, len(names)),
		names:    append([]Name(nil), names...),
		clock:    cfg.Clock,
	}
	for _, n := range h.names {
		h.channels[n] = NewChannel(n, cfg)
	}
	return h
}

// Channel returns the named channel.
func (h *Hub) Channel(name Name) (*Channel, error) {
	c, ok := h.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return c, nil
}

// MustChannel is Channel for names known to be registered.
func (h *Hub) MustChannel(name Name) *Channel {
	c, err := h.Channel(name)
	if err != nil {
		panic(err)
	}
	return c
}

// Names returns the registered channel names in creation order.
func (h *Hub) Names() []Name {
	return append([]Name(nil), h.names...)
}

// AttachAdminRoutes attaches debugging endpoints to the given HTTP mux
// served at /debug/: a channel status page and a live SSE tail of published
// documents (/debug/tail?channel=detection).
func (h *Hub) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("channels", "ingest channel status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, n := range h.names {
			c := h.channels[n]
			buffered, state := c.BufferState()
			seq, age := uint64(0), "never"
			if d := c.Latest(); d != nil {
				seq = d.Seq
				age = h.clock.Since(d.Received).Truncate(time.Millisecond).String()
			}
			fmt.Fprintf(w, "%-12s seq=%-8d last=%-12s buffered=%-8d state=%-8s peers=%d\n",
				n, seq, age, buffered, state, len(c.Peers()))
		}
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name, err := ParseName(r.URL.Query().Get("channel"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c, err := h.Channel(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, docs := c.Subscribe()
		defer c.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case d, ok := <-docs:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", d.Seq, d.Body); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
