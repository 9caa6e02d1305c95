package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var roomsJSON bool

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.Flags().BoolVar(&roomsJSON, "json", false, "Output raw JSON")
}

// ============================================================================
// rooms
// ============================================================================

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List your chat rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		sess := client.CurrentSession()
		if sess == nil {
			return fmt.Errorf("not signed in")
		}

		rooms, err := client.Rooms().ListForUser(ctx, sess.UID, 0)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if roomsJSON {
			return printJSON(rooms)
		}

		if len(rooms) == 0 {
			fmt.Println("No rooms found.")
			return nil
		}

		for _, room := range rooms {
			other := room.Other(sess.UID)
			name := other
			if p, ok := room.ParticipantDetails[other]; ok && p.DisplayName != "" {
				name = p.DisplayName
			}
			last := ""
			if room.LastMessage != nil {
				last = room.LastMessage.Text
				if len(last) > 48 {
					last = last[:48] + "..."
				}
			}
			fmt.Printf("  %s (%d messages) %s\n", name, room.MessageCount, last)
		}
		return nil
	},
}
