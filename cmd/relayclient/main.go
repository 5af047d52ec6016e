package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/adapters/microphone"
	"github.com/satriahrh/livescribe/domain/repositories"
	"github.com/satriahrh/livescribe/internal/config"
	"github.com/satriahrh/livescribe/internal/relayclient"
	relay "github.com/satriahrh/livescribe/internal/websocket"
)

func main() {
	var (
		configPath   string
		relayURL     string
		clientID     string
		clientSecret string
		wavPath      string
		apiToken     string
		languageCode string
		linger       time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&relayURL, "relay", "http://localhost:8080", "Relay base URL")
	flag.StringVar(&clientID, "client-id", "", "Relay client ID, leave empty for unauthenticated relays")
	flag.StringVar(&clientSecret, "client-secret", os.Getenv("LIVESCRIBE_CLIENT_SECRET"), "Relay client secret")
	flag.StringVar(&wavPath, "file", "", "WAV file to stream")
	flag.StringVar(&apiToken, "token", os.Getenv("LIVESCRIBE_API_TOKEN"), "API token exchanged for service credentials")
	flag.StringVar(&languageCode, "language", "", "Language code")
	flag.DurationVar(&linger, "linger", 2*time.Second, "Time to wait for trailing results after the audio ends")
	flag.Parse()

	if wavPath == "" || apiToken == "" {
		fmt.Fprintln(os.Stderr, "usage: relayclient -file speech.wav -token API_TOKEN")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	final, err := run(ctx, relayURL, clientID, clientSecret, wavPath, apiToken, languageCode, linger, logger)
	if err != nil {
		logger.Error("Relay transcription failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("\r%s\n", final)
}

func run(ctx context.Context, relayURL, clientID, clientSecret, wavPath, apiToken, languageCode string, linger time.Duration, logger *zap.Logger) (string, error) {
	sampleRate, err := microphone.ProbeSampleRate(wavPath)
	if err != nil {
		return "", err
	}

	var token string
	if clientID != "" {
		token, err = relayclient.Authenticate(ctx, relayURL, clientID, clientSecret)
		if err != nil {
			return "", err
		}
	}

	client, err := relayclient.Dial(ctx, relayURL, token, logger)
	if err != nil {
		return "", err
	}
	defer client.Close()
	client.Linger = linger

	mic := microphone.NewWAVFileMicrophone(microphone.WAVFileConfig{Path: wavPath, Realtime: true}, logger)
	capture, err := mic.Open(ctx, repositories.CaptureConfig{SampleRate: sampleRate})
	if err != nil {
		return "", err
	}
	defer capture.Stop()

	return client.Transcribe(ctx, relay.StartMessage{
		APIToken:     apiToken,
		LanguageCode: languageCode,
		SampleRate:   sampleRate,
	}, capture.Chunks(), func(text string) {
		fmt.Printf("\r%s", text)
	})
}
