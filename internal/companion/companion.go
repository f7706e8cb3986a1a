package companion

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"companion/internal/audio"
)

// Apology is spoken when a capture could not be turned into text.
const Apology = "Sorry I couldn't understand you"

var (
	// ErrExit is returned by Converse when the speaker said the exit word.
	ErrExit = errors.New("exit requested")
	// ErrNoSpeech means the transcript came back empty.
	ErrNoSpeech = errors.New("no speech recognised")
)

type Recorder interface {
	Record(path string, maxDuration time.Duration) (audio.Stats, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type Replier interface {
	Reply(ctx context.Context, utterance string) (string, error)
}

type Speaker interface {
	Speak(text string) error
}

type Player interface {
	Play(path string) error
}

type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

type Publisher interface {
	Publish(verb, noun string, args ...string) error
}

type Config struct {
	OutputDir   string
	MaxDuration time.Duration
	// Cue is a sound played before listening. Empty disables it.
	Cue      string
	ExitWord string
}

// Turn describes one finished interaction.
type Turn struct {
	Path       string
	Stats      audio.Stats
	Transcript string
	Reply      string
}

type Option func(*Companion)

func WithTranscriber(t Transcriber) Option { return func(c *Companion) { c.stt = t } }
func WithReplier(r Replier) Option { return func(c *Companion) { c.chat = r } }
func WithSpeaker(s Speaker) Option { return func(c *Companion) { c.voice = s } }
func WithPlayer(p Player) Option { return func(c *Companion) { c.player = p } }
func WithDucker(d Ducker) Option { return func(c *Companion) { c.duck = d } }
func WithPublisher(p Publisher) Option { return func(c *Companion) { c.pub = p } }

// Companion runs listen, echo and conversation turns against one microphone.
// Turns are serialised.
type Companion struct {
	cfg Config
	rec Recorder

	stt    Transcriber
	chat   Replier
	voice  Speaker
	player Player
	duck   Ducker
	pub    Publisher

	mu  sync.Mutex
	now func() time.Time
}

func New(cfg Config, rec Recorder, opts ...Option) *Companion {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "wav_output"
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = audio.DefaultMaxDuration
	}
	if cfg.ExitWord == "" {
		cfg.ExitWord = "exit"
	}

	c := &Companion{cfg: cfg, rec: rec, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Listen records one utterance into <OutputDir>/<name>.wav. An empty name is
// replaced with a timestamp.
func (c *Companion) Listen(ctx context.Context, name string) (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.listen(ctx, name)
}

// Echo records an utterance and plays it back. With a transcriber set, the
// transcript is spoken as well.
func (c *Companion) Echo(ctx context.Context, name string) (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.listen(ctx, name)
	if err != nil {
		return turn, err
	}

	if c.player != nil {
		if err := c.player.Play(turn.Path); err != nil {
			return turn, fmt.Errorf("play back: %w", err)
		}
	}

	if c.stt == nil {
		return turn, nil
	}

	text, err := c.transcribe(ctx, turn.Path)
	if err != nil {
		return turn, err
	}
	turn.Transcript = text

	if err := c.say(text); err != nil {
		return turn, err
	}
	return turn, nil
}

// Converse records an utterance, asks the chat model for a reply and speaks
// it. It returns ErrExit when the transcript contains the exit word.
func (c *Companion) Converse(ctx context.Context, name string) (Turn, error) {
	if c.stt == nil || c.chat == nil {
		return Turn{}, errors.New("conversation needs a transcriber and a replier")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.listen(ctx, name)
	if err != nil {
		return turn, err
	}

	text, err := c.transcribe(ctx, turn.Path)
	if err != nil {
		return turn, err
	}
	turn.Transcript = text
	log.Info("Heard", "text", text)

	if containsWord(text, c.cfg.ExitWord) {
		return turn, ErrExit
	}

	reply, err := c.chat.Reply(ctx, text)
	if err != nil {
		return turn, fmt.Errorf("reply: %w", err)
	}
	turn.Reply = reply
	log.Info("Replying", "text", reply)

	if err := c.say(reply); err != nil {
		return turn, err
	}
	return turn, nil
}

// Run executes the named turn command: listen, echo or converse.
func (c *Companion) Run(ctx context.Context, cmd, name string) (Turn, error) {
	switch strings.ToLower(cmd) {
	case "listen":
		return c.Listen(ctx, name)
	case "echo":
		return c.Echo(ctx, name)
	case "converse":
		return c.Converse(ctx, name)
	default:
		return Turn{}, fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *Companion) listen(ctx context.Context, name string) (Turn, error) {
	if name == "" {
		name = "capture-" + c.now().Format("20060102-150405")
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return Turn{}, fmt.Errorf("invalid capture name %q", name)
	}
	path := filepath.Join(c.cfg.OutputDir, name+".wav")

	if c.cfg.Cue != "" && c.player != nil {
		if err := c.player.Play(c.cfg.Cue); err != nil {
			log.Warn("Failed to play cue", "path", c.cfg.Cue, "err", err)
		}
	}

	if c.duck != nil {
		if err := c.duck.Duck(ctx); err != nil {
			log.Warn("Failed to duck playback", "err", err)
		}
		defer func() {
			// restore even when ctx was cancelled mid-turn
			if err := c.duck.Restore(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to restore playback", "err", err)
			}
		}()
	}

	log.Info("Listening", "path", path)
	stats, err := c.rec.Record(path, c.cfg.MaxDuration)
	if err != nil {
		return Turn{}, fmt.Errorf("record: %w", err)
	}

	c.publish(stats)
	return Turn{Path: path, Stats: stats}, nil
}

// transcribe turns the capture into text, apologising aloud when it can't.
func (c *Companion) transcribe(ctx context.Context, path string) (string, error) {
	text, err := c.stt.Transcribe(ctx, path)
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = ErrNoSpeech
		}
	}
	if err != nil {
		if serr := c.say(Apology); serr != nil {
			log.Warn("Failed to apologise", "err", serr)
		}
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return text, nil
}

func (c *Companion) say(text string) error {
	if c.voice == nil {
		return nil
	}
	if err := c.voice.Speak(text); err != nil {
		return fmt.Errorf("speak: %w", err)
	}
	return nil
}

func (c *Companion) publish(s audio.Stats) {
	if c.pub == nil {
		return
	}
	err := c.pub.Publish("CAPTURED", "SPEECH",
		strconv.Itoa(s.BlocksRead),
		strconv.Itoa(s.Voiced),
		string(s.Stop))
	if err != nil {
		log.Warn("Failed to publish capture", "err", err)
	}
}

func containsWord(text, word string) bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return slices.Contains(fields, strings.ToLower(word))
}
