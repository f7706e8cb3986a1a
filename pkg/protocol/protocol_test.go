package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	msg, err := Parse("COMPANION:listen:mic:turn1:HUB\n")
	require.NoError(t, err)
	assert.Equal(t, &Message{
		To:   "COMPANION",
		Verb: "LISTEN",
		Noun: "MIC",
		Args: []string{"turn1"},
		From: "HUB",
	}, msg)

	msg, err = Parse("ALL:CAPTURED:SPEECH:COMPANION")
	require.NoError(t, err)
	assert.Empty(t, msg.Args)
}

func TestParseInvalid(t *testing.T) {
	for _, line := range []string{
		"",
		"A:B:C",
		"A:B C:D:E",
		"A::C:D",
		"A:B:C:x/y:D",
		"A:B:C:",
	} {
		_, err := Parse(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestMessageString(t *testing.T) {
	m := Message{To: "ALL", Verb: "CAPTURED", Noun: "SPEECH", Args: []string{"5", "2", "silence"}, From: "COMPANION"}
	assert.Equal(t, "ALL:CAPTURED:SPEECH:5:2:silence:COMPANION", m.String())

	back, err := Parse(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, *back)
}

func TestReply(t *testing.T) {
	in := Message{To: "COMPANION", Verb: "LISTEN", Noun: "MIC", From: "HUB"}
	out := in.Reply("DONE", "MIC", "ok")
	assert.Equal(t, "HUB", out.To)
	assert.Equal(t, []string{"ok"}, out.Args)
}

// hub is a websocket server that records frames from the shard and lets the
// test push frames to it.
type hub struct {
	srv  *httptest.Server
	in   chan string
	conn chan *ws.Conn
}

func newHub(t *testing.T) *hub {
	t.Helper()
	h := &hub{in: make(chan string, 8), conn: make(chan *ws.Conn, 1)}
	up := ws.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conn <- c
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			h.in <- string(msg)
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hub) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func TestDialRejectsBadShard(t *testing.T) {
	_, err := Dial(Config{Shard: "bad shard", URL: "ws://127.0.0.1:1"})
	assert.Error(t, err)
}

func TestClientPublishAndHandle(t *testing.T) {
	h := newHub(t)

	got := make(chan *Message, 4)
	c, err := Dial(Config{
		Shard:  "COMPANION",
		URL:    h.url(),
		Handle: func(m *Message) { got <- m },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	var server *ws.Conn
	select {
	case server = <-h.conn:
	case <-time.After(time.Second):
		t.Fatal("hub saw no connection")
	}

	require.NoError(t, c.Publish("CAPTURED", "SPEECH", "5", "2", "silence"))
	select {
	case line := <-h.in:
		assert.Equal(t, "ALL:CAPTURED:SPEECH:5:2:silence:COMPANION", line)
	case <-time.After(time.Second):
		t.Fatal("hub received nothing")
	}

	// not ours, our own echo, garbage, then a real trigger
	for _, line := range []string{
		"OTHER:LISTEN:MIC:HUB",
		"ALL:CAPTURED:SPEECH:COMPANION",
		"garbage",
		"COMPANION:LISTEN:MIC:turn1:HUB",
	} {
		require.NoError(t, server.WriteMessage(ws.TextMessage, []byte(line)))
	}

	select {
	case m := <-got:
		assert.Equal(t, "LISTEN", m.Verb)
		assert.Equal(t, []string{"turn1"}, m.Args)
		assert.Equal(t, "HUB", m.From)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	assert.Empty(t, got)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestClientReconnects(t *testing.T) {
	h := newHub(t)

	got := make(chan *Message, 1)
	c, err := Dial(Config{
		Shard:     "COMPANION",
		URL:       h.url(),
		Reconnect: 10 * time.Millisecond,
		Handle:    func(m *Message) { got <- m },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	first := <-h.conn
	require.NoError(t, first.WriteMessage(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseGoingAway, "restart")))
	first.Close()

	var second *ws.Conn
	select {
	case second = <-h.conn:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}

	require.NoError(t, second.WriteMessage(ws.TextMessage, []byte("ALL:ECHO:MIC:HUB")))
	select {
	case m := <-got:
		assert.Equal(t, "ECHO", m.Verb)
	case <-time.After(time.Second):
		t.Fatal("handler not called after reconnect")
	}
}
