package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const DefaultSocket = "/tmp/companion.sock"

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Name string `json:"name,omitempty"`
}

type ControlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Path  string `json:"path,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Handler runs one command and describes the outcome.
type Handler func(ControlMessage) ControlReply

type Server struct {
	ln   net.Listener
	path string
}

// Serve listens on the unix socket at path, replacing a stale socket file,
// and answers each connection's message with handler's reply. Connections
// are handled one at a time.
func Serve(path string, handler Handler) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{ln: ln, path: path}
	go s.loop(handler)
	return s, nil
}

func (s *Server) loop(handler Handler) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("Control accept failed", "err", err)
			continue
		}
		handleConn(conn, handler)
	}
}

func (s *Server) Close() error {
	err := s.ln.Close()
	os.Remove(s.path)
	return err
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Warn("Bad control message", "err", err)
		json.NewEncoder(conn).Encode(ControlReply{Error: "bad message"})
		return
	}

	log.Debug("Control message", "cmd", msg.Cmd, "name", msg.Name)
	if err := json.NewEncoder(conn).Encode(handler(msg)); err != nil {
		log.Warn("Failed to write control reply", "err", err)
	}
}

// Send delivers msg to the server at path and waits up to timeout for the
// reply. A zero timeout waits forever.
func Send(path string, msg ControlMessage, timeout time.Duration) (ControlReply, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return ControlReply{}, err
	}
	defer conn.Close()

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, fmt.Errorf("send: %w", err)
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
