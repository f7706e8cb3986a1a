package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id   int
	from int
	to   int
}

// DuckConfig controls how far other applications are turned down while the
// microphone is open.
type DuckConfig struct {
	// Factor scales the current volume of foreign streams.
	Factor float64
	// MinVolume is the floor, in percent, for a ducked stream.
	MinVolume int
	// Fade is the length of the volume ramp in both directions.
	Fade time.Duration
	// Self lists application.name values that are never ducked.
	Self []string
}

// Ducker fades PulseAudio sink inputs of other applications down during a
// capture and back up afterwards.
type Ducker struct {
	cfg DuckConfig
	run func(ctx context.Context, args ...string) ([]byte, error)

	mu     sync.Mutex
	ducked bool
	saved  map[int]int // sink input id -> volume before ducking
}

func NewDucker(cfg DuckConfig) *Ducker {
	cfg.MinVolume = clampVolume(cfg.MinVolume)
	if cfg.Factor < 0 {
		cfg.Factor = 0
	}
	return &Ducker{
		cfg:   cfg,
		run:   pactl,
		saved: make(map[int]int),
	}
}

// Duck lowers every foreign stream to Factor of its volume. Calling it
// twice without Restore is a no-op.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ducked {
		return nil
	}

	inputs, err := d.sinkInputs(ctx)
	if err != nil {
		return err
	}

	d.saved = make(map[int]int)
	var fades []fade
	for _, in := range inputs {
		if d.isSelf(in) {
			continue
		}
		d.saved[in.ID] = in.Volume
		fades = append(fades, fade{id: in.ID, from: in.Volume, to: d.duckedVolume(in.Volume)})
	}

	if err := d.ramp(ctx, fades); err != nil {
		return err
	}
	d.ducked = true
	return nil
}

// Restore brings ducked streams back to their saved volume. Streams that
// appeared after Duck are left alone.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ducked {
		return nil
	}

	inputs, err := d.sinkInputs(ctx)
	if err != nil {
		return err
	}

	var fades []fade
	for _, in := range inputs {
		orig, ok := d.saved[in.ID]
		if !ok || d.isSelf(in) {
			continue
		}
		fades = append(fades, fade{id: in.ID, from: in.Volume, to: orig})
	}

	if err := d.ramp(ctx, fades); err != nil {
		return err
	}
	d.saved = make(map[int]int)
	d.ducked = false
	return nil
}

func (d *Ducker) duckedVolume(from int) int {
	v := math.Round(float64(from) * d.cfg.Factor)
	return clampVolume(max(int(v), d.cfg.MinVolume))
}

func (d *Ducker) isSelf(in sinkInput) bool {
	for _, name := range d.cfg.Self {
		if in.AppName == name {
			return true
		}
	}
	return false
}

// ramp moves all fades to their target in 10ms steps over cfg.Fade.
func (d *Ducker) ramp(ctx context.Context, fades []fade) error {
	if len(fades) == 0 {
		return nil
	}

	steps := int(d.cfg.Fade / (10 * time.Millisecond))
	if steps < 1 {
		steps = 1
	}
	step := d.cfg.Fade / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := float64(i) / float64(steps)
		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if err := d.setVolume(ctx, f.id, v); err != nil {
				return err
			}
		}

		if i < steps && step > 0 {
			time.Sleep(step)
		}
	}
	return nil
}

func (d *Ducker) sinkInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	arg := fmt.Sprintf("%d%%", clampVolume(percent))
	if _, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), arg); err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}
	return nil
}

// parseSinkInputs extracts id, first channel volume and application.name
// from `pactl list sink-inputs` output.
func parseSinkInputs(text string) []sinkInput {
	parts := strings.Split(text, "Sink Input #")

	var res []sinkInput
	for _, block := range parts[1:] {
		head, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && in.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); m != nil {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			}

			if strings.HasPrefix(line, "application.name =") && in.AppName == "" {
				_, v, _ := strings.Cut(line, "=")
				in.AppName = strings.Trim(strings.TrimSpace(v), `"`)
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}
	return res
}

func clampVolume(v int) int {
	return min(max(v, 0), maxVolume)
}

func pactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}
