package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	talkbase "github.com/talkbase/talkbase-go"
)

// getClient creates a signed-in TalkBase client from the stored config.
func getClient(ctx context.Context) (*talkbase.Client, func()) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.APIKey == "" {
		fmt.Fprintln(os.Stderr, "No API key. Run 'talkbase init <api-key>' first.")
		os.Exit(1)
	}
	if cfg.Auth.Email == "" || cfg.Auth.Password == "" {
		fmt.Fprintln(os.Stderr, "Not signed in. Run 'talkbase signin <email> <password>' first.")
		os.Exit(1)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	backend := talkbase.NewRemoteBackend(talkbase.RemoteConfig{
		BaseURL: cfg.Default.BaseURL,
		APIKey:  cfg.Default.APIKey,
		Logger:  logger,
	})
	client := talkbase.NewClient(backend, talkbase.WithLogger(logger))
	backend.BindGate(client.Gate())

	if err := backend.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: feed unavailable: %v\n", err)
	}
	if _, err := client.SignIn(ctx, cfg.Auth.Email, cfg.Auth.Password); err != nil {
		fmt.Fprintf(os.Stderr, "Sign-in failed: %v\n", err)
		os.Exit(1)
	}

	cleanup := func() {
		client.Close()
		backend.Close()
	}
	return client, cleanup
}

// cmdContext returns the standard command timeout context.
func cmdContext() (context.Context, context.CancelFunc) {
	return cmdContextWithTimeout(15 * time.Second)
}

func cmdContextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
