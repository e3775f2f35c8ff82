package ingest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/passive.radar/internal/association"
	"github.com/banshee-data/passive.radar/internal/monitoring"
	"github.com/banshee-data/passive.radar/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestChannel(name Name) (*Channel, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	return NewChannel(name, ChannelConfig{Clock: clock}), clock
}

func TestParseName(t *testing.T) {
	for _, n := range Names {
		got, err := ParseName(string(n))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
	_, err := ParseName("radar")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestChannel_EmptyBeforeFirstDocument(t *testing.T) {
	c, _ := newTestChannel(Map)
	assert.Nil(t, c.Latest())
	assert.Nil(t, c.Body())
}

func TestChannel_PublishesOnceAfterFinalChunk(t *testing.T) {
	c, clock := newTestChannel(Map)

	c.Feed([]byte(`{"a":1,`))
	assert.Nil(t, c.Latest(), "partial document must not be visible")

	c.Feed([]byte(`"b":2}`))
	doc := c.Latest()
	require.NotNil(t, doc)
	assert.Equal(t, `{"a":1,"b":2}`, string(doc.Body))
	assert.EqualValues(t, 1, doc.Seq)
	assert.Equal(t, clock.Now(), doc.Received)
}

func TestChannel_MalformedKeepsPrevious(t *testing.T) {
	c, _ := newTestChannel(Timing)

	c.Feed([]byte(`{"nCpi":1}`))
	c.Feed([]byte(`{"nCpi": oops}`))

	doc := c.Latest()
	require.NotNil(t, doc)
	assert.Equal(t, `{"nCpi":1}`, string(doc.Body))
	assert.EqualValues(t, 1, doc.Seq)
}

func TestChannel_SchemaInvalidKeepsPrevious(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	c := NewChannel(Detection, ChannelConfig{
		Clock:      clock,
		Validators: map[Name]Validator{Detection: association.ValidateDetection},
	})

	good := `{"timestamp":1,"delay":[1.0],"doppler":[2.0],"snr":[3.0]}`
	c.Feed([]byte(good))
	for _, bad := range []string{
		`{"timestamp":2,"delay":[1.0,2.0],"doppler":[],"snr":"oops"}`,
		`{"timestamp":3,"delay":[1.0,2.0],"doppler":[1.0],"snr":[1.0,2.0]}`,
		`[1,2,3]`,
	} {
		c.Feed([]byte(bad))
		assert.Equal(t, good, string(c.Body()), bad)
	}
	assert.EqualValues(t, 1, c.Latest().Seq)
}

func TestChannel_ValidatorsPerChannel(t *testing.T) {
	cfg := ChannelConfig{Validators: map[Name]Validator{Track: JSONObject}}

	track := NewChannel(Track, cfg)
	track.Feed([]byte(`{"tracks":[]}`))
	track.Feed([]byte(`[]`))
	track.Feed([]byte(`null`))
	assert.Equal(t, `{"tracks":[]}`, string(track.Body()))

	// no validator registered: any well-formed JSON is published
	timing := NewChannel(Timing, cfg)
	timing.Feed([]byte(`[1]`))
	assert.Equal(t, `[1]`, string(timing.Body()))
}

func TestJSONObject(t *testing.T) {
	assert.NoError(t, JSONObject([]byte(`{}`)))
	assert.NoError(t, JSONObject([]byte(`{"a":[1]}`)))
	assert.Error(t, JSONObject([]byte(`null`)))
	assert.Error(t, JSONObject([]byte(`"x"`)))
	assert.Error(t, JSONObject([]byte(`[{}]`)))
}

func TestChannel_Timestamp(t *testing.T) {
	c, _ := newTestChannel(Timestamp)

	c.Feed([]byte("1700000000000"))
	c.Feed([]byte("not-a-number"))
	assert.Equal(t, "1700000000000", string(c.Body()))

	c.Feed([]byte("1700000000100"))
	ts, err := ParseTimestamp(c.Body())
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000100, ts)
	assert.EqualValues(t, 2, c.Latest().Seq)
}

func TestChannel_SinkDivertsDocuments(t *testing.T) {
	c, _ := newTestChannel(Detection)
	var got [][]byte
	c.SetSink(func(b []byte) { got = append(got, b) })

	c.Feed([]byte(`{"delay":[],"doppler":[],"snr":[]}`))
	assert.Nil(t, c.Latest(), "sink owns publication")
	require.Len(t, got, 1)

	c.Publish([]byte(`{"annotated":true}`))
	assert.Equal(t, `{"annotated":true}`, string(c.Body()))
}

func TestChannel_BufferRetainedUnlessReset(t *testing.T) {
	c, _ := newTestChannel(Map)

	c.Feed([]byte(`{"a":`))
	n, state := c.BufferState()
	assert.Equal(t, 5, n)
	assert.Equal(t, Accumulating, state)

	c.ResetBuffer()
	n, _ = c.BufferState()
	assert.Zero(t, n)
}

func TestChannel_Subscribe(t *testing.T) {
	c, _ := newTestChannel(IQData)
	id, ch := c.Subscribe()

	c.Feed([]byte(`{"min":0}`))
	select {
	case d := <-ch:
		assert.Equal(t, `{"min":0}`, string(d.Body))
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive document")
	}

	c.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

func serveListener(t *testing.T, cfg ListenerConfig) (string, context.CancelFunc, chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg.ReadTimeout = 10 * time.Millisecond
	l := NewListener(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, ln) }()
	return ln.Addr().String(), cancel, done
}

func TestListener_FramesAcrossWrites(t *testing.T) {
	c := NewChannel(Detection, ChannelConfig{})
	addr, cancel, done := serveListener(t, ListenerConfig{Channel: c, Greeting: DefaultGreeting})
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	greeting := make([]byte, len(DefaultGreeting))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(conn, greeting)
	require.NoError(t, err)
	assert.Equal(t, DefaultGreeting, string(greeting))

	_, err = conn.Write([]byte(`{"timestamp":1,"delay":[1.5],`))
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Nil(t, c.Latest())

	_, err = conn.Write([]byte(`"doppler":[2],"snr":[3]}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Latest() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"timestamp":1,"delay":[1.5],"doppler":[2],"snr":[3]}`, string(c.Body()))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListener_ResumesAcrossReconnect(t *testing.T) {
	c := NewChannel(Map, ChannelConfig{})
	addr, cancel, _ := serveListener(t, ListenerConfig{Channel: c})
	defer cancel()

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	first.Write([]byte(`{"nRows":`))
	require.Eventually(t, func() bool { n, _ := c.BufferState(); return n > 0 }, 2*time.Second, 5*time.Millisecond)
	first.Close()

	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()
	second.Write([]byte(`2}`))

	require.Eventually(t, func() bool { return c.Latest() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"nRows":2}`, string(c.Body()))
}

func TestListener_ResetOnConnect(t *testing.T) {
	c := NewChannel(Map, ChannelConfig{})
	c.Feed([]byte(`{"stale":`))

	addr, cancel, _ := serveListener(t, ListenerConfig{Channel: c, ResetOnConnect: true})
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.Write([]byte(`{"fresh":1}`))

	require.Eventually(t, func() bool { return c.Latest() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"fresh":1}`, string(c.Body()))
}

func TestListener_TracksPeers(t *testing.T) {
	c := NewChannel(Track, ChannelConfig{})
	addr, cancel, _ := serveListener(t, ListenerConfig{Channel: c})
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(c.Peers()) == 1 }, 2*time.Second, 5*time.Millisecond)
	for _, remote := range c.Peers() {
		assert.Equal(t, conn.LocalAddr().String(), remote)
	}

	conn.Close()
	require.Eventually(t, func() bool { return len(c.Peers()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

// deadlineFailConn is a connection whose read deadline cannot be set.
type deadlineFailConn struct {
	net.Conn
	reads int
}

func (c *deadlineFailConn) SetReadDeadline(time.Time) error {
	return errors.New("deadline unsupported")
}

func (c *deadlineFailConn) Read(p []byte) (int, error) {
	c.reads++
	return c.Conn.Read(p)
}

func TestListener_ReadDeadlineErrorClosesConnection(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := NewChannel(Map, ChannelConfig{})
	l := NewListener(ListenerConfig{Channel: c})
	conn := &deadlineFailConn{Conn: server}

	done := make(chan struct{})
	go func() {
		l.handleConn(context.Background(), conn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleConn kept reading without a deadline")
	}
	assert.Zero(t, conn.reads)
	assert.Empty(t, c.Peers())

	// handleConn closed its end of the pipe
	_, err := client.Write([]byte("{}"))
	assert.Error(t, err)
}

func TestHub(t *testing.T) {
	h := NewHub(ChannelConfig{})
	assert.Equal(t, Names, h.Names())

	c, err := h.Channel(Detection)
	require.NoError(t, err)
	assert.Equal(t, Detection, c.Name())
	assert.Same(t, c, h.MustChannel(Detection))

	_, err = h.Channel("radar")
	assert.ErrorIs(t, err, ErrUnknownChannel)

	sub := NewHub(ChannelConfig{}, Timestamp)
	assert.Equal(t, []Name{Timestamp}, sub.Names())
}

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestHub_AdminChannels(t *testing.T) {
	h := NewHub(ChannelConfig{})
	h.MustChannel(Timing).Feed([]byte(`{"nCpi":3}`))
	h.MustChannel(Map).Feed([]byte(`{"partial":`))

	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/channels"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "timing")
	assert.Contains(t, body, "seq=1")
	assert.Contains(t, body, "buffered=11")
	assert.Contains(t, body, "peers=0")
}

func TestHub_AdminChannelsUsesClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	h := NewHub(ChannelConfig{Clock: clock}, Timing)
	h.MustChannel(Timing).Feed([]byte(`{"nCpi":3}`))
	clock.Advance(1500 * time.Millisecond)

	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/channels"))

	assert.Contains(t, rec.Body.String(), "last=1.5s ")
}

func TestHub_AdminTail(t *testing.T) {
	h := NewHub(ChannelConfig{})
	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	t.Run("unknown channel", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/tail?channel=radar"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localHostRequest(http.MethodPost, "/debug/tail?channel=map"))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("stream", func(t *testing.T) {
		srv := httptest.NewServer(mux)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/debug/tail?channel=detection")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		r := bufio.NewReader(resp.Body)
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, ": ping\n", line)

		h.MustChannel(Detection).Publish([]byte(`{"timestamp":9}`))

		var data string
		for !strings.HasPrefix(data, "data: ") {
			data, err = r.ReadString('\n')
			require.NoError(t, err)
		}
		assert.Equal(t, "data: {\"timestamp\":9}\n", data)
	})
}
