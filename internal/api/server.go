// Package api serves the read surface: the latest raw document of every
// channel, the rolling-window views and the cached ADS-B aircraft.
package api

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/banshee-data/passive.radar/internal/adsb"
	"github.com/banshee-data/passive.radar/internal/config"
	"github.com/banshee-data/passive.radar/internal/httputil"
	"github.com/banshee-data/passive.radar/internal/ingest"
	"github.com/banshee-data/passive.radar/internal/stash"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// AircraftSnapshot returns the cached aircraft without refreshing.
// *adsb.Cache implements it.
type AircraftSnapshot interface {
	Snapshot() []adsb.Aircraft
}

type Server struct {
	hub      *ingest.Hub
	cfg      *config.Config
	windows  map[string]stash.Window
	aircraft AircraftSnapshot

	// capture is the recording flag clients flip from the UI
	capture atomic.Bool
}

// NewServer returns a server over hub. cfg may be nil.
func NewServer(hub *ingest.Hub, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.Empty()
	}
	return &Server{
		hub:     hub,
		cfg:     cfg,
		windows: make(map[string]stash.Window),
	}
}

// AddWindow exposes w at /stash/<w.Name()>. Windows must be added before
// ServeMux is called.
func (s *Server) AddWindow(w stash.Window) {
	s.windows[w.Name()] = w
}

// SetAircraft exposes src at /api/adsb.
func (s *Server) SetAircraft(src AircraftSnapshot) {
	s.aircraft = src
}

// Capture reports whether capture recording is switched on.
func (s *Server) Capture() bool { return s.capture.Load() }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/{channel}", s.showChannel)
	mux.HandleFunc("/api/adsb", s.showAircraft)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/stash/{window}", s.showWindow)
	mux.HandleFunc("/capture", s.showCapture)
	mux.HandleFunc("/capture/toggle", s.toggleCapture)
	return mux
}

// Handler wraps mux with CORS and request logging.
func Handler(mux http.Handler) http.Handler {
	return LoggingMiddleware(httputil.AllowAnyOrigin(mux))
}

func (s *Server) showChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	name, err := ingest.ParseName(r.PathValue("channel"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	c, err := s.hub.Channel(name)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}

	body := c.Body()
	if name == ingest.Timestamp {
		// the timestamp is bare text, not JSON
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, string(body))
		return
	}
	httputil.WriteRawJSON(w, body)
}

func (s *Server) showWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	win, ok := s.windows[r.PathValue("window")]
	if !ok {
		httputil.NotFound(w, "unknown window")
		return
	}
	httputil.WriteJSONOK(w, win.View())
}

func (s *Server) showAircraft(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	list := []adsb.Aircraft{}
	if s.aircraft != nil {
		if got := s.aircraft.Snapshot(); got != nil {
			list = got
		}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"aircraft": list})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}

func (s *Server) showCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.capture.Load())
}

// toggleCapture flips the capture flag. It is a GET so the web UI can drive
// it from a plain link.
func (s *Server) toggleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	for {
		old := s.capture.Load()
		if s.capture.CompareAndSwap(old, !old) {
			log.Printf("capture switched to %t", !old)
			break
		}
	}
	httputil.WriteJSONOK(w, struct{}{})
}
