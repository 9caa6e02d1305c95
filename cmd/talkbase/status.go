package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the stored configuration and, when credentials are present, live account info.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		if cfg.Default.APIKey != "" {
			fmt.Printf("  API Key:  %s\n", maskKey(cfg.Default.APIKey))
		} else {
			fmt.Println("  API Key:  (not set)")
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Email != "" {
			fmt.Printf("  Email:        %s\n", cfg.Auth.Email)
			fmt.Printf("  UID:          %s\n", cfg.Auth.UID)
			fmt.Printf("  Display Name: %s\n", cfg.Auth.DisplayName)
		} else {
			fmt.Println("  Email: (not signed in)")
		}

		if cfg.Default.APIKey == "" || cfg.Auth.Email == "" {
			return nil
		}

		// Live status.
		fmt.Println()
		fmt.Println("Live status:")

		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		sess := client.CurrentSession()
		if sess == nil {
			fmt.Println("  Sign in failed")
			return nil
		}

		state := client.Gate().State()
		fmt.Printf("  Connection: online=%v backend=%v\n", state.Online, state.BackendOnline)

		rooms, err := client.Rooms().ListForUser(ctx, sess.UID, 0)
		if err != nil {
			fmt.Printf("  Error fetching rooms: %v\n", err)
			return nil
		}
		unread, err := client.Notifications().UnreadCount(ctx, sess.UID)
		if err != nil {
			fmt.Printf("  Error fetching unread count: %v\n", err)
			return nil
		}

		fmt.Printf("  Rooms:      %d\n", len(rooms))
		fmt.Printf("  Unread:     %d\n", unread)
		return nil
	},
}

// maskKey shows the first 12 and last 4 characters of a key.
func maskKey(key string) string {
	if len(key) <= 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:12] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
