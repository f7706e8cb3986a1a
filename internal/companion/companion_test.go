package companion

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/audio"
)

// calls records the order collaborators were used in.
type calls []string

func (c *calls) add(s string) { *c = append(*c, s) }

type fakeRecorder struct {
	log   *calls
	stats audio.Stats
	err   error
	paths []string
	max   time.Duration
}

func (r *fakeRecorder) Record(path string, d time.Duration) (audio.Stats, error) {
	r.log.add("record")
	r.paths = append(r.paths, path)
	r.max = d
	return r.stats, r.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t fakeTranscriber) Transcribe(context.Context, string) (string, error) {
	return t.text, t.err
}

type fakeReplier struct {
	got   string
	reply string
	err   error
}

func (r *fakeReplier) Reply(_ context.Context, utterance string) (string, error) {
	r.got = utterance
	return r.reply, r.err
}

type fakeSpeaker struct {
	said []string
	err  error
}

func (s *fakeSpeaker) Speak(text string) error {
	s.said = append(s.said, text)
	return s.err
}

type fakePlayer struct {
	log    *calls
	played []string
	err    error
}

func (p *fakePlayer) Play(path string) error {
	p.log.add("play " + filepath.Base(path))
	p.played = append(p.played, path)
	return p.err
}

type fakeDucker struct {
	log *calls
	err error
}

func (d *fakeDucker) Duck(context.Context) error {
	d.log.add("duck")
	return d.err
}

func (d *fakeDucker) Restore(context.Context) error {
	d.log.add("restore")
	return nil
}

type fakePublisher struct {
	events []string
	err    error
}

func (p *fakePublisher) Publish(verb, noun string, args ...string) error {
	p.events = append(p.events, strings.Join(append([]string{verb, noun}, args...), ":"))
	return p.err
}

var spoken = audio.Stats{BlocksRead: 5, Voiced: 2, Silent: 3, Stop: audio.StopSilence}

func TestListen(t *testing.T) {
	var log calls
	rec := &fakeRecorder{log: &log, stats: spoken}
	player := &fakePlayer{log: &log}
	pub := &fakePublisher{}

	c := New(Config{OutputDir: "out", Cue: "cue.mp3", MaxDuration: 2 * time.Second}, rec,
		WithPlayer(player),
		WithDucker(&fakeDucker{log: &log}),
		WithPublisher(pub),
	)

	turn, err := c.Listen(context.Background(), "turn1")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("out", "turn1.wav"), turn.Path)
	assert.Equal(t, spoken, turn.Stats)
	assert.Equal(t, 2*time.Second, rec.max)
	assert.Equal(t, calls{"play cue.mp3", "duck", "record", "restore"}, log)
	assert.Equal(t, []string{"CAPTURED:SPEECH:5:2:silence"}, pub.events)
}

func TestListenWithoutCue(t *testing.T) {
	var log calls
	player := &fakePlayer{log: &log}
	c := New(Config{}, &fakeRecorder{log: &log}, WithPlayer(player))

	_, err := c.Listen(context.Background(), "quiet")
	require.NoError(t, err)
	assert.Empty(t, player.played)
	assert.Equal(t, calls{"record"}, log)
}

func TestListenDefaults(t *testing.T) {
	rec := &fakeRecorder{log: &calls{}}
	c := New(Config{}, rec)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }

	turn, err := c.Listen(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("wav_output", "capture-20240301-093000.wav"), turn.Path)
	assert.Equal(t, audio.DefaultMaxDuration, rec.max)
}

func TestListenRejectsPathNames(t *testing.T) {
	rec := &fakeRecorder{log: &calls{}}
	c := New(Config{}, rec)

	for _, name := range []string{"../x", "a/b", ".."} {
		_, err := c.Listen(context.Background(), name)
		assert.Error(t, err, name)
	}
	assert.Empty(t, rec.paths)
}

func TestListenRecordFailureRestores(t *testing.T) {
	var log calls
	devErr := &audio.DeviceError{Op: "open", Err: audio.ErrNoBackend}
	rec := &fakeRecorder{log: &log, err: devErr}
	pub := &fakePublisher{}

	c := New(Config{}, rec, WithDucker(&fakeDucker{log: &log}), WithPublisher(pub))

	_, err := c.Listen(context.Background(), "x")
	require.Error(t, err)

	var de *audio.DeviceError
	assert.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, audio.ErrNoBackend)
	assert.Equal(t, calls{"duck", "record", "restore"}, log)
	assert.Empty(t, pub.events)
}

func TestListenSurvivesSideFailures(t *testing.T) {
	var log calls
	rec := &fakeRecorder{log: &log, stats: spoken}
	c := New(Config{Cue: "cue.wav"}, rec,
		WithPlayer(&fakePlayer{log: &log, err: errors.New("no speaker")}),
		WithDucker(&fakeDucker{log: &log, err: errors.New("no pactl")}),
		WithPublisher(&fakePublisher{err: errors.New("hub down")}),
	)

	_, err := c.Listen(context.Background(), "x")
	assert.NoError(t, err)
}

func TestEcho(t *testing.T) {
	var log calls
	player := &fakePlayer{log: &log}
	voice := &fakeSpeaker{}
	c := New(Config{}, &fakeRecorder{log: &log, stats: spoken},
		WithPlayer(player),
		WithSpeaker(voice),
		WithTranscriber(fakeTranscriber{text: " hello there \n"}),
	)

	turn, err := c.Echo(context.Background(), "e")
	require.NoError(t, err)

	assert.Equal(t, calls{"record", "play e.wav"}, log)
	assert.Equal(t, "hello there", turn.Transcript)
	assert.Equal(t, []string{"hello there"}, voice.said)
}

func TestEchoWithoutTranscriber(t *testing.T) {
	var log calls
	voice := &fakeSpeaker{}
	c := New(Config{}, &fakeRecorder{log: &log}, WithPlayer(&fakePlayer{log: &log}), WithSpeaker(voice))

	turn, err := c.Echo(context.Background(), "e")
	require.NoError(t, err)
	assert.Empty(t, turn.Transcript)
	assert.Empty(t, voice.said)
	assert.Equal(t, calls{"record", "play e.wav"}, log)
}

func TestConverse(t *testing.T) {
	voice := &fakeSpeaker{}
	chat := &fakeReplier{reply: "Fine, thanks!"}
	c := New(Config{}, &fakeRecorder{log: &calls{}, stats: spoken},
		WithTranscriber(fakeTranscriber{text: "How are you?"}),
		WithReplier(chat),
		WithSpeaker(voice),
	)

	turn, err := c.Converse(context.Background(), "c")
	require.NoError(t, err)

	assert.Equal(t, "How are you?", chat.got)
	assert.Equal(t, "How are you?", turn.Transcript)
	assert.Equal(t, "Fine, thanks!", turn.Reply)
	assert.Equal(t, []string{"Fine, thanks!"}, voice.said)
}

func TestConverseExitWord(t *testing.T) {
	chat := &fakeReplier{reply: "unused"}
	c := New(Config{}, &fakeRecorder{log: &calls{}},
		WithTranscriber(fakeTranscriber{text: "OK, Exit please."}),
		WithReplier(chat),
	)

	turn, err := c.Converse(context.Background(), "c")
	assert.ErrorIs(t, err, ErrExit)
	assert.Equal(t, "OK, Exit please.", turn.Transcript)
	assert.Empty(t, chat.got)
}

func TestConverseExitWordIsWholeWord(t *testing.T) {
	chat := &fakeReplier{reply: "it is"}
	c := New(Config{}, &fakeRecorder{log: &calls{}},
		WithTranscriber(fakeTranscriber{text: "is the exitcode zero"}),
		WithReplier(chat),
	)

	_, err := c.Converse(context.Background(), "c")
	assert.NoError(t, err)
}

func TestConverseApologises(t *testing.T) {
	for name, tr := range map[string]fakeTranscriber{
		"failure": {err: errors.New("model crashed")},
		"empty":   {text: "  "},
	} {
		t.Run(name, func(t *testing.T) {
			voice := &fakeSpeaker{}
			chat := &fakeReplier{}
			c := New(Config{}, &fakeRecorder{log: &calls{}},
				WithTranscriber(tr),
				WithReplier(chat),
				WithSpeaker(voice),
			)

			_, err := c.Converse(context.Background(), "c")
			require.Error(t, err)
			assert.Equal(t, []string{Apology}, voice.said)
			assert.Empty(t, chat.got)
		})
	}

	c := New(Config{}, &fakeRecorder{log: &calls{}},
		WithTranscriber(fakeTranscriber{text: ""}),
		WithReplier(&fakeReplier{}),
	)
	_, err := c.Converse(context.Background(), "c")
	assert.ErrorIs(t, err, ErrNoSpeech)
}

func TestConverseReplyFailure(t *testing.T) {
	voice := &fakeSpeaker{}
	c := New(Config{}, &fakeRecorder{log: &calls{}},
		WithTranscriber(fakeTranscriber{text: "hi"}),
		WithReplier(&fakeReplier{err: errors.New("429")}),
		WithSpeaker(voice),
	)

	_, err := c.Converse(context.Background(), "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reply: 429")
	assert.Empty(t, voice.said)
}

func TestConverseNeedsCollaborators(t *testing.T) {
	rec := &fakeRecorder{log: &calls{}}
	_, err := New(Config{}, rec).Converse(context.Background(), "c")
	assert.Error(t, err)
	assert.Empty(t, rec.paths)
}

func TestRun(t *testing.T) {
	var log calls
	c := New(Config{}, &fakeRecorder{log: &log}, WithPlayer(&fakePlayer{log: &log}))

	_, err := c.Run(context.Background(), "LISTEN", "a")
	require.NoError(t, err)
	_, err = c.Run(context.Background(), "echo", "b")
	require.NoError(t, err)
	assert.Equal(t, calls{"record", "record", "play b.wav"}, log)

	_, err = c.Run(context.Background(), "dance", "")
	assert.Error(t, err)
}
