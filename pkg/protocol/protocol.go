package protocol

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"
	"time"
)

// Broadcast addresses every shard on the hub.
const Broadcast = "ALL"

type Config struct {
	Shard     string
	URL       string
	Reconnect time.Duration
	// Handle receives messages addressed to Shard or to Broadcast.
	Handle func(*Message)
}

// Client is a shard connection to the hub. Frames are single-line messages
// of the form TO:VERB:NOUN[:ARG...]:FROM.
type Client struct {
	ws     *WebSocket
	shard  string
	handle func(*Message)
}

func Dial(cfg Config) (*Client, error) {
	if !isToken(cfg.Shard) {
		return nil, fmt.Errorf("invalid shard name %q", cfg.Shard)
	}

	ws, err := NewWebSocket(cfg.URL, cfg.Reconnect)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	return &Client{ws: ws, shard: cfg.Shard, handle: cfg.Handle}, nil
}

// Transmit sends m with this shard as the sender.
func (c *Client) Transmit(m Message) error {
	m.From = c.shard
	if err := m.Validate(); err != nil {
		return err
	}
	if err := c.ws.Write([]byte(m.String())); err != nil {
		log.Error("Failed to transmit", "msg", m.String(), "err", err)
		return err
	}
	return nil
}

// Publish broadcasts an event to every shard.
func (c *Client) Publish(verb, noun string, args ...string) error {
	return c.Transmit(Message{To: Broadcast, Verb: verb, Noun: noun, Args: args})
}

// Run reads from the hub until ctx is done, reconnecting when the
// connection drops.
func (c *Client) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.ws.Close()
	}()

	for ctx.Err() == nil {
		in := c.ws.Read()
		switch in.kind {
		case connClosed, readFailed:
			if ctx.Err() != nil {
				return
			}
			log.Warn("Hub connection lost, reconnecting", "url", c.ws.url, "err", in.err)
			if err := c.ws.Reconnect(ctx); err != nil {
				return
			}
			log.Info("Reconnected to hub")

		case readOK:
			msg, err := Parse(string(in.msg))
			if err != nil {
				log.Warn("Failed to parse", "msg", string(in.msg), "err", err)
				continue
			}
			if msg.To != c.shard && msg.To != Broadcast {
				continue
			}
			if msg.From == c.shard {
				continue
			}
			if c.handle != nil {
				c.handle(msg)
			}
		}
	}
}

func (c *Client) Close() error { return c.ws.Close() }

func Parse(line string) (*Message, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, errors.New("empty message")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return nil, errors.New("invalid whitespace present")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return nil, fmt.Errorf("too few fields: got %d, want >= 4", len(parts))
	}

	msg := &Message{
		To:   parts[0],
		Verb: strings.ToUpper(parts[1]),
		Noun: strings.ToUpper(parts[2]),
		Args: append([]string(nil), parts[3:len(parts)-1]...),
		From: parts[len(parts)-1],
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

var (
	tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	hexIDRe = regexp.MustCompile(`^[0-9A-F]{2}$`)
)

func isToken(s string) bool {
	return tokenRe.MatchString(s)
}

func isHexID(s string) bool {
	return hexIDRe.MatchString(strings.ToUpper(s))
}

type Message struct {
	To   string
	Verb string
	Noun string
	Args []string
	From string
}

func (m *Message) Validate() error {
	if !isToken(m.To) && !isHexID(m.To) {
		return fmt.Errorf("invalid TO token: %q", m.To)
	}
	if !isToken(m.From) && !isHexID(m.From) {
		return fmt.Errorf("invalid FROM token: %q", m.From)
	}
	if !isToken(m.Noun) || !isToken(m.Verb) {
		return fmt.Errorf("invalid NOUN/VERB: %q %q", m.Noun, m.Verb)
	}
	for i, a := range m.Args {
		if !isToken(a) {
			return fmt.Errorf("invalid ARG[%d]: %q", i, a)
		}
	}
	return nil
}

func (m *Message) String() string {
	parts := make([]string, 0, 4+len(m.Args))
	parts = append(parts, m.To, m.Verb, m.Noun)
	parts = append(parts, m.Args...)
	parts = append(parts, m.From)
	return strings.Join(parts, ":")
}

// Reply builds a response to m addressed back to its sender.
func (m *Message) Reply(verb, noun string, args ...string) Message {
	return Message{To: m.From, Verb: verb, Noun: noun, Args: args}
}
