package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/adapters/microphone"
	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/internal/bootstrap"
	"github.com/satriahrh/livescribe/internal/config"
	"github.com/satriahrh/livescribe/internal/metrics"
)

func main() {
	var (
		configPath   string
		wavPath      string
		apiToken     string
		languageCode string
		realtime     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&wavPath, "file", "", "WAV file to transcribe")
	flag.StringVar(&apiToken, "token", os.Getenv("LIVESCRIBE_API_TOKEN"), "API token exchanged for service credentials")
	flag.StringVar(&languageCode, "language", "", "Language code, overrides configuration")
	flag.BoolVar(&realtime, "realtime", true, "Pace audio at playback speed")
	flag.Parse()

	if wavPath == "" || apiToken == "" {
		fmt.Fprintln(os.Stderr, "usage: livescribe -file speech.wav -token API_TOKEN")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, wavPath, apiToken, languageCode, realtime, logger); err != nil {
		logger.Error("Transcription failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, wavPath, apiToken, languageCode string, realtime bool, logger *zap.Logger) error {
	sampleRate, err := microphone.ProbeSampleRate(wavPath)
	if err != nil {
		return err
	}
	if languageCode == "" {
		languageCode = cfg.Transcription.LanguageCode
	}

	transcriber, err := bootstrap.NewTranscriber(cfg, metrics.NewMetrics(prometheus.NewRegistry()), logger)
	if err != nil {
		return err
	}

	mic := microphone.NewWAVFileMicrophone(microphone.WAVFileConfig{
		Path:     wavPath,
		Realtime: realtime,
	}, logger)

	session, err := transcriber.NewSession(entities.TranscriptionOptions{
		APIToken:             apiToken,
		LanguageCode:         languageCode,
		MediaSampleRateHertz: sampleRate,
	}, mic)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-session.Done():
		}
		session.Stop()
	}()

	for event := range session.Events() {
		switch event.Type {
		case entities.EventTypeStarted:
			logger.Info("Transcription started", zap.String("sessionID", event.SessionID))
		case entities.EventTypeChanged:
			fmt.Printf("\r%s", event.Text)
		case entities.EventTypeStopped:
			fmt.Printf("\r%s\n", event.Text)
		case entities.EventTypeError:
			fmt.Println()
			return fmt.Errorf("session failed: %s", event.Kind)
		}
	}
	return nil
}
