package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/passive.radar/internal/monitoring"
)

var logf = monitoring.Prefixed("ingest")

// DefaultGreeting is written to every new connection.
const DefaultGreeting = "Hello From Server!"

const (
	defaultReadBuffer  = 64 << 10
	defaultReadTimeout = 100 * time.Millisecond
)

// ListenerConfig contains configuration options for a channel listener.
type ListenerConfig struct {
	Address        string
	Channel        *Channel
	Greeting       string // empty sends nothing
	ResetOnConnect bool   // discard any partial document when a peer connects
	ReadBufferSize int
	ReadTimeout    time.Duration // read slice between context checks
}

// Listener accepts pipeline connections for one channel and feeds the
// received bytes to it.
type Listener struct {
	address        string
	channel        *Channel
	greeting       string
	resetOnConnect bool
	readBuffer     int
	readTimeout    time.Duration

	wg sync.WaitGroup
}

// NewListener creates a listener with the provided configuration.
func NewListener(config ListenerConfig) *Listener {
	readBuffer := config.ReadBufferSize
	if readBuffer <= 0 {
		readBuffer = defaultReadBuffer
	}
	readTimeout := config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &Listener{
		address:        config.Address,
		channel:        config.Channel,
		greeting:       config.Greeting,
		resetOnConnect: config.ResetOnConnect,
		readBuffer:     readBuffer,
		readTimeout:    readTimeout,
	}
}

// Start listens on the configured address and serves until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// waits for open connections to finish.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	name := l.channel.Name()
	logf("%s listener started on %s", name, ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer l.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logf("%s listener stopping due to context cancellation", name)
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logf("%s accept error: %v", name, err)
			continue
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(ctx, conn)
		}()
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	name := string(l.channel.Name())
	session := uuid.NewString()
	logf("%s connection %s from %s", name, session, conn.RemoteAddr())

	l.channel.addPeer(session, conn.RemoteAddr().String())
	defer l.channel.removePeer(session)

	monitoring.ConnectionsActive.WithLabelValues(name).Inc()
	defer monitoring.ConnectionsActive.WithLabelValues(name).Dec()

	if l.resetOnConnect {
		l.channel.ResetBuffer()
	}

	if l.greeting != "" {
		if _, err := io.WriteString(conn, l.greeting); err != nil {
			logf("%s connection %s greeting failed: %v", name, session, err)
		}
	}

	buf := make([]byte, l.readBuffer)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Set read deadline to allow checking context cancellation
		if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			logf("%s connection %s set read deadline: %v", name, session, err)
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			l.channel.Feed(buf[:n])
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				logf("%s connection %s closed by peer", name, session)
			} else if ctx.Err() == nil {
				logf("%s connection %s read error: %v", name, session, err)
			}
			return
		}
	}
}
