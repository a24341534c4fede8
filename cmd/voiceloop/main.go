// Command voiceloop runs a realtime voice conversation from the terminal:
// microphone in, synthesized speech out, live transcript on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verbably/voiceloop/internal/config"
	"github.com/verbably/voiceloop/internal/log"
	"github.com/verbably/voiceloop/pkg/audio"
	"github.com/verbably/voiceloop/pkg/audioio"
	"github.com/verbably/voiceloop/pkg/conversation"
	"github.com/verbably/voiceloop/pkg/playback"
	"github.com/verbably/voiceloop/pkg/session"
)

func main() {
	recordPath := flag.String("record", "", "write received assistant audio to this WAV file")
	textOnly := flag.Bool("text-only", false, "skip the microphone; type messages instead")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	if cfg.MetricsEnabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := ":" + cfg.MetricsPort
			logger.Info("metrics listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		logger.Error("provider setup failed", "error", err)
		os.Exit(1)
	}

	caps := provider.Capabilities()

	source, err := audioio.NewPortAudioSource(audioio.Config{
		Backend:    audioio.BackendPortAudio,
		SampleRate: caps.InputSampleRate,
		Channels:   1,
		FrameSize:  cfg.FrameSize,
		Device:     cfg.MicDevice,
	}, logger)
	if err != nil {
		logger.Error("microphone setup failed", "error", err)
		os.Exit(1)
	}

	speaker, err := audioio.NewPortAudioSink(audioio.Config{
		Backend:    audioio.BackendPortAudio,
		SampleRate: caps.OutputSampleRate,
		Channels:   1,
		FrameSize:  cfg.FrameSize,
	}, logger)
	if err != nil {
		logger.Error("speaker setup failed", "error", err)
		os.Exit(1)
	}
	if err := speaker.Start(context.Background()); err != nil {
		logger.Error("speaker start failed", "error", err)
		os.Exit(1)
	}

	var sink audioio.Sink = speaker
	var rec *recorder
	if *recordPath != "" {
		rec = &recorder{sampleRate: caps.OutputSampleRate}
		sink = &teeSink{Sink: speaker, rec: rec}
	}
	scheduler := playback.NewScheduler(sink, logger)

	ctrl := session.NewController(provider, source, scheduler, logger,
		session.WithCallbacks(session.Callbacks{
			OnAssistantText: func(delta string) {
				fmt.Print(delta)
			},
			OnTurn: func(turn session.Turn) {
				fmt.Printf("\n[%s] %s\n", turn.Role, turn.Text)
			},
			OnStateChange: func(s session.State) {
				logger.Info("session state", "state", s.String())
			},
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "\nsession error: %v\n", err)
			},
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeout)*time.Second)
	err = ctrl.Connect(connectCtx, cfg.SystemInstruction)
	cancel()
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	if !*textOnly {
		if _, err := ctrl.ToggleMicrophone(ctx); err != nil {
			logger.Error("microphone start failed", "error", err)
			ctrl.Disconnect()
			os.Exit(1)
		}
	}

	fmt.Printf("voiceloop connected (%s backend). Speak, or Ctrl-C to end.\n", caps.Name)

	<-ctx.Done()

	fmt.Println("\nending session...")
	ctrl.Disconnect()
	speaker.Close()

	if rec != nil {
		if err := rec.save(*recordPath); err != nil {
			logger.Error("recording save failed", "error", err)
		} else {
			logger.Info("recording saved", "path", *recordPath)
		}
	}

	turns := ctrl.Turns()
	if len(turns) > 0 {
		fmt.Println("\ntranscript:")
		for _, turn := range turns {
			fmt.Printf("  %s  %-9s  %s\n", turn.Timestamp.Format("15:04:05"), turn.Role, turn.Text)
		}
	}
	if avg := ctrl.Latency().Average(); avg > 0 {
		logger.Info("session summary", "turns", len(turns), "avg_turn_latency", avg)
	}
}

func buildProvider(cfg *config.Config) (conversation.Provider, error) {
	opts := []conversation.Option{
		conversation.WithLogger(log.L()),
		conversation.WithConnectTimeout(time.Duration(cfg.ConnectTimeout) * time.Second),
	}
	if cfg.Model != "" {
		opts = append(opts, conversation.WithModel(cfg.Model))
	}
	if cfg.Voice != "" {
		opts = append(opts, conversation.WithVoice(cfg.Voice))
	}

	switch cfg.Backend {
	case "rawsocket":
		opts = append(opts, conversation.WithRawSocketAddr(cfg.RawSocketAddr))
		return conversation.NewRawSocket(opts...)
	default:
		opts = append(opts,
			conversation.WithAPIKey(cfg.StreamRPCAPIKey),
			conversation.WithStreamRPCURL(cfg.StreamRPCURL),
		)
		return conversation.NewStreamRPC(opts...)
	}
}

// teeSink forwards frames to the speaker while the recorder keeps a copy.
// Flushed audio never reaches Write, so barge-in leftovers stay out of the
// recording.
type teeSink struct {
	audioio.Sink
	rec *recorder
}

func (t *teeSink) Write(ctx context.Context, frame audioio.Frame) error {
	t.rec.append(frame.Bytes())
	return t.Sink.Write(ctx, frame)
}

// recorder accumulates played PCM so the session can be saved as a WAV file.
type recorder struct {
	sampleRate int

	mu  sync.Mutex
	pcm []byte
}

func (r *recorder) append(pcm []byte) {
	r.mu.Lock()
	r.pcm = append(r.pcm, pcm...)
	r.mu.Unlock()
}

func (r *recorder) save(path string) error {
	r.mu.Lock()
	pcm := r.pcm
	r.mu.Unlock()

	if len(pcm) == 0 {
		return fmt.Errorf("no audio captured")
	}
	wav, err := audio.EncodeWAV(pcm, r.sampleRate)
	if err != nil {
		return err
	}
	return os.WriteFile(path, wav, 0o644)
}
