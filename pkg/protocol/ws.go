package protocol

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

type WebSocket struct {
	url    string
	reconn time.Duration

	mu   sync.Mutex // guards conn and serialises writes
	conn *ws.Conn
}

func NewWebSocket(url string, reconn time.Duration) (*WebSocket, error) {
	log.Debug("Dialing hub", "url", url)

	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	if reconn <= 0 {
		reconn = 5 * time.Second
	}
	return &WebSocket{url: url, reconn: reconn, conn: conn}, nil
}

func (web *WebSocket) Write(payload []byte) error {
	web.mu.Lock()
	defer web.mu.Unlock()

	log.Debug("Write ws", "msg", string(payload))
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

type incomeKind uint

const (
	connClosed incomeKind = iota
	readFailed
	readOK
)

type income struct {
	kind incomeKind
	msg  []byte
	err  error
}

func (web *WebSocket) Read() income {
	web.mu.Lock()
	conn := web.conn
	web.mu.Unlock()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		if isClosed(err) {
			return income{kind: connClosed, err: err}
		}
		return income{kind: readFailed, err: err}
	}

	log.Debug("Read ws", "msg", string(msg))
	return income{kind: readOK, msg: msg}
}

// Reconnect redials every reconn interval until it succeeds or ctx is done.
func (web *WebSocket) Reconnect(ctx context.Context) error {
	for {
		conn, _, err := ws.DefaultDialer.DialContext(ctx, web.url, nil)
		if err == nil {
			web.mu.Lock()
			web.conn.Close()
			web.conn = conn
			web.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(web.reconn):
		}
	}
}

func (web *WebSocket) Close() error {
	web.mu.Lock()
	defer web.mu.Unlock()
	return web.conn.Close()
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
