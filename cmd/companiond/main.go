package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"companion/internal/audio"
	"companion/internal/chat"
	"companion/internal/companion"
	"companion/internal/config"
	"companion/internal/ipc"
	"companion/internal/notify"
	"companion/internal/proxy"
	"companion/internal/tts"
	"companion/pkg/protocol"
	"companion/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "companion.yaml", "Config file path")
	hubURL := cli.StringP("url", "u", "", "Url of hub, overrides config")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address, overrides config")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	// the env file is optional, the environment may already be set
	if err := godotenv.Load(*envFile); err != nil {
		log.Debug("No env file loaded", "path", *envFile, "err", err)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Error("Failed to load config", "path", *cfgFile, "err", err)
		os.Exit(1)
	}
	if *hubURL != "" {
		cfg.Hub.URL = *hubURL
	}
	if *proxyAddr != "" {
		cfg.Chat.Proxy = *proxyAddr
	}

	rec, err := audio.NewRecorder(audio.Config{
		SampleRate:      cfg.Audio.SampleRate,
		BlockSize:       cfg.Audio.BlockSize,
		Threshold:       cfg.Audio.Threshold,
		MaxSilentBlocks: cfg.Audio.MaxSilentBlocks,
		Monitor:         cfg.Audio.Monitor,
	})
	if err != nil {
		log.Error("Failed to configure recorder", "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded recorder", "silence", cfg.Audio.SilenceWindow())

	opts := []companion.Option{
		companion.WithPlayer(notify.Player{}),
		companion.WithSpeaker(tts.Voice(cfg.TTS.Voice)),
	}

	if cfg.Duck.Enabled {
		opts = append(opts, companion.WithDucker(audio.NewDucker(audio.DuckConfig{
			Factor:    cfg.Duck.Factor,
			MinVolume: cfg.Duck.MinVolume,
			Fade:      cfg.Duck.Fade,
			Self:      cfg.Duck.Self,
		})))
	}

	if cfg.Whisper.ModelPath != "" {
		whisper, err := stt.NewTranscriber(cfg.Whisper.ModelPath, stt.Options{
			Language: cfg.Whisper.Language,
			Threads:  cfg.Whisper.Threads,
		})
		if err != nil {
			log.Error("Failed to init whisper", "model", cfg.Whisper.ModelPath, "err", err)
			os.Exit(1)
		}
		defer whisper.Close()

		opts = append(opts, companion.WithTranscriber(whisper))
		log.Debug("Loaded whisper")
	} else {
		log.Warn("No whisper model configured, conversation disabled")
	}

	apiKey := cfg.Chat.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey != "" {
		httpClient, err := proxy.NewHTTPClient(cfg.Chat.Proxy, cfg.Chat.Timeout)
		if err != nil {
			log.Error("Failed to dial socks proxy", "proxy", cfg.Chat.Proxy, "err", err)
			os.Exit(1)
		}

		opts = append(opts, companion.WithReplier(chat.NewClient(chat.Config{
			APIKey:       apiKey,
			BaseURL:      cfg.Chat.BaseURL,
			Model:        cfg.Chat.Model,
			SystemPrompt: cfg.Chat.SystemPrompt,
			MaxTokens:    cfg.Chat.MaxTokens,
			Temperature:  cfg.Chat.Temperature,
			HTTPClient:   httpClient,
		})))
		log.Debug("Loaded chat client", "model", cfg.Chat.Model)
	} else {
		log.Warn("OPENAI_API_KEY not set, conversation disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the hub handler needs the companion, which needs the hub as publisher
	var comp *companion.Companion
	turns := make(chan func(), 1)

	if cfg.Hub.URL != "" {
		hub, err := protocol.Dial(protocol.Config{
			Shard:     cfg.Hub.Shard,
			URL:       cfg.Hub.URL,
			Reconnect: cfg.Hub.Reconnect,
			Handle: func(m *protocol.Message) {
				name := ""
				if len(m.Args) > 0 {
					name = m.Args[0]
				}
				select {
				case turns <- func() { runTurn(ctx, comp, m.Verb, name) }:
				default:
					log.Warn("Busy, dropping hub trigger", "msg", m.String())
				}
			},
		})
		if err != nil {
			log.Error("Failed to connect to hub", "url", cfg.Hub.URL, "err", err)
			os.Exit(1)
		}
		defer hub.Close()

		opts = append(opts, companion.WithPublisher(hub))
		go hub.Run(ctx)
		log.Info("Connected to hub", "url", cfg.Hub.URL, "shard", cfg.Hub.Shard)
	}

	comp = companion.New(companion.Config{
		OutputDir:   cfg.Audio.OutputDir,
		MaxDuration: cfg.Audio.MaxDuration,
		Cue:         cfg.Cue.Path,
		ExitWord:    cfg.Control.ExitWord,
	}, rec, opts...)

	srv, err := ipc.Serve(cfg.Control.Socket, func(msg ipc.ControlMessage) ipc.ControlReply {
		turn, err := runTurn(ctx, comp, msg.Cmd, msg.Name)
		reply := ipc.ControlReply{Path: turn.Path, Text: turn.Reply}
		if reply.Text == "" {
			reply.Text = turn.Transcript
		}
		switch {
		case err == nil, errors.Is(err, companion.ErrExit):
			reply.OK = true
		default:
			reply.Error = err.Error()
		}
		return reply
	})
	if err != nil {
		log.Error("Failed ipc server", "socket", cfg.Control.Socket, "err", err)
		os.Exit(1)
	}
	defer srv.Close()

	log.Info("Boot up - successful", "socket", cfg.Control.Socket)

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			return
		case turn := <-turns:
			turn()
		}
	}
}

func runTurn(ctx context.Context, comp *companion.Companion, cmd, name string) (companion.Turn, error) {
	start := time.Now()
	turn, err := comp.Run(ctx, cmd, name)
	switch {
	case errors.Is(err, companion.ErrExit):
		log.Info("Exit word heard", "text", turn.Transcript)
	case err != nil:
		log.Error("Turn failed", "cmd", cmd, "err", err)
	default:
		log.Info("Turn done",
			"cmd", cmd,
			"path", turn.Path,
			"voiced", turn.Stats.Voiced,
			"stop", turn.Stats.Stop,
			"took", time.Since(start).Round(time.Millisecond))
	}
	return turn, err
}
