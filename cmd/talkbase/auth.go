package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	talkbase "github.com/talkbase/talkbase-go"
)

func init() {
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(signinCmd)
	rootCmd.AddCommand(signoutCmd)
}

// freshClient builds a client without requiring stored credentials, for the
// auth commands themselves.
func freshClient() (*talkbase.Client, *talkbase.RemoteBackend, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.APIKey == "" {
		fmt.Fprintln(os.Stderr, "No API key. Run 'talkbase init <api-key>' first.")
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
	return client, backend, cfg
}

var signupCmd = &cobra.Command{
	Use:   "signup <email> <password> [display-name]",
	Short: "Create a TalkBase account and sign in",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password := args[0], args[1]
		displayName := ""
		if len(args) == 3 {
			displayName = args[2]
		}

		client, backend, cfg := freshClient()
		defer client.Close()
		defer backend.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		sess, err := client.SignUp(ctx, email, password, displayName)
		if err != nil {
			return fmt.Errorf("signup failed: %w", err)
		}

		cfg.Auth.Email = email
		cfg.Auth.Password = password
		cfg.Auth.UID = sess.UID
		cfg.Auth.DisplayName = sess.DisplayName
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Account created.\n")
		fmt.Printf("  UID:          %s\n", sess.UID)
		fmt.Printf("  Display Name: %s\n", sess.DisplayName)
		return nil
	},
}

var signinCmd = &cobra.Command{
	Use:   "signin <email> <password>",
	Short: "Sign in and store the session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password := args[0], args[1]

		client, backend, cfg := freshClient()
		defer client.Close()
		defer backend.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		sess, err := client.SignIn(ctx, email, password)
		if err != nil {
			return fmt.Errorf("signin failed: %w", err)
		}

		cfg.Auth.Email = email
		cfg.Auth.Password = password
		cfg.Auth.UID = sess.UID
		cfg.Auth.DisplayName = sess.DisplayName
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Signed in as %s (%s)\n", sess.DisplayName, sess.UID)
		return nil
	},
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		if err := client.SignOut(ctx); err != nil {
			return fmt.Errorf("signout failed: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Signed out.")
		return nil
	},
}
