package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"companion/internal/audio"
	"companion/internal/notify"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	out := cli.StringP("out", "o", "wav_output/capture.wav", "Where to write the capture")
	seconds := cli.Float64P("seconds", "s", audio.DefaultMaxDuration.Seconds(), "Longest capture in seconds")
	threshold := cli.IntP("threshold", "t", audio.DefaultThreshold, "Peak amplitude that counts as speech, 0 means the default")
	silence := cli.Int("silent-blocks", audio.DefaultMaxSilentBlocks, "Silent blocks that end the capture, 0 means the default")
	monitor := cli.BoolP("monitor", "m", false, "Play the microphone through the speakers while capturing")
	echo := cli.Bool("echo", false, "Play the capture back when done")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	if *seconds < 0 {
		log.Error("Negative duration", "seconds", *seconds)
		os.Exit(2)
	}

	rec, err := audio.NewRecorder(audio.Config{
		Threshold:       *threshold,
		MaxSilentBlocks: *silence,
		Monitor:         *monitor,
	})
	if err != nil {
		log.Error("Failed to configure recorder", "err", err)
		os.Exit(2)
	}

	stats, err := rec.Record(*out, time.Duration(*seconds*float64(time.Second)))
	if err != nil {
		if errors.Is(err, audio.ErrNoBackend) {
			log.Error("No audio backend, rebuild with -tags portaudio")
		} else {
			log.Error("Failed to record", "err", err)
		}
		os.Exit(1)
	}

	fmt.Printf("%s: %d blocks read, %d voiced, stopped on %s (%s of audio)\n",
		*out, stats.BlocksRead, stats.Voiced, stats.Stop, stats.Duration(rec.Format()))

	if *echo {
		if err := notify.Play(*out); err != nil {
			log.Error("Failed to play back", "err", err)
			os.Exit(1)
		}
	}
}
