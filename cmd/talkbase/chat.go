package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	talkbase "github.com/talkbase/talkbase-go"
)

var (
	chatMessagesLimit int
	chatMessagesJSON  bool
	chatSearchJSON    bool
	chatSendFileText  string
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatMessagesCmd)
	chatCmd.AddCommand(chatEditCmd)
	chatCmd.AddCommand(chatDeleteCmd)
	chatCmd.AddCommand(chatReactCmd)
	chatCmd.AddCommand(chatSearchCmd)
	chatCmd.AddCommand(chatSendFileCmd)

	chatMessagesCmd.Flags().IntVar(&chatMessagesLimit, "limit", 0, "Maximum number of messages to fetch")
	chatMessagesCmd.Flags().BoolVar(&chatMessagesJSON, "json", false, "Output raw JSON")
	chatSearchCmd.Flags().BoolVar(&chatSearchJSON, "json", false, "Output raw JSON")
	chatSendFileCmd.Flags().StringVar(&chatSendFileText, "caption", "", "Caption text for the file")
}

// ============================================================================
// chat (parent command)
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Direct messaging",
	Long:  "Send, edit, and browse direct messages with another user.",
}

// peerRoom resolves the direct room shared with the given user, creating it
// on first contact.
func peerRoom(ctx context.Context, client *talkbase.Client, peerUID string) (*talkbase.Room, error) {
	sess := client.CurrentSession()
	if sess == nil {
		return nil, fmt.Errorf("not signed in")
	}
	room, err := client.Rooms().GetOrCreate(ctx, sess.UID, peerUID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve room: %w", err)
	}
	return room, nil
}

func formatTimestamp(ts talkbase.Timestamp) string {
	return ts.Time().Local().Format("2006-01-02 15:04:05")
}

// ============================================================================
// chat send
// ============================================================================

var chatSendCmd = &cobra.Command{
	Use:   "send <user-id> <text>",
	Short: "Send a direct message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerUID, text := args[0], args[1]

		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		room, err := peerRoom(ctx, client, peerUID)
		if err != nil {
			return err
		}

		msg, err := client.Messages().Append(ctx, room.ID, &talkbase.MessageInput{Text: text})
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Sent to %s\n", peerUID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Room:       %s\n", msg.RoomID)
		return nil
	},
}

// ============================================================================
// chat messages
// ============================================================================

var chatMessagesCmd = &cobra.Command{
	Use:   "messages <user-id>",
	Short: "Show recent messages with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerUID := args[0]

		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		room, err := peerRoom(ctx, client, peerUID)
		if err != nil {
			return err
		}

		var opts *talkbase.PageOptions
		if chatMessagesLimit > 0 {
			opts = &talkbase.PageOptions{Limit: chatMessagesLimit}
		}

		page, err := client.Messages().History(ctx, room.ID, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if chatMessagesJSON {
			return printJSON(page.Messages)
		}

		if len(page.Messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range page.Messages {
			edited := ""
			if msg.Edited {
				edited = " (edited)"
			}
			fmt.Printf("[%s] %s: %s%s\n", formatTimestamp(msg.SentAt), msg.SenderName, msg.Preview(), edited)
		}
		return nil
	},
}

// ============================================================================
// chat edit
// ============================================================================

var chatEditCmd = &cobra.Command{
	Use:   "edit <user-id> <message-id> <text>",
	Short: "Edit a previously sent message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerUID, messageID, text := args[0], args[1], args[2]

		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		room, err := peerRoom(ctx, client, peerUID)
		if err != nil {
			return err
		}

		if err := client.Messages().Edit(ctx, room.ID, messageID, text); err != nil {
			return fmt.Errorf("edit failed: %w", err)
		}

		fmt.Println("Message edited.")
		return nil
	},
}

// ============================================================================
// chat delete
// ============================================================================

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <user-id> <message-id>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerUID, messageID := args[0], args[1]

		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		room, err := peerRoom(ctx, client, peerUID)
		if err != nil {
			return err
		}

		if err := client.Messages().Delete(ctx, room.ID, messageID); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}

		fmt.Println("Message deleted.")
		return nil
	},
}

// ============================================================================
// chat react
// ============================================================================

var chatReactCmd = &cobra.Command{
	Use:   "react <user-id> <message-id> <emoji>",
	Short: "Toggle a reaction on a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerUID, messageID, emoji := args[0], args[1], args[2]

		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		room, err := peerRoom(ctx, client, peerUID)
		if err != nil {
			return err
		}

		if err := client.Messages().React(ctx, room.ID, messageID, emoji); err != nil {
			return fmt.Errorf("react failed: %w", err)
		}

		fmt.Println("Reaction toggled.")
		return nil
	},
}

// ============================================================================
// chat search
// ============================================================================

var chatSearchCmd = &cobra.Command{
	Use:   "search <user-id> <term>",
	Short: "Search recent messages with a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerUID, term := args[0], args[1]

		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		room, err := peerRoom(ctx, client, peerUID)
		if err != nil {
			return err
		}

		matches, err := client.Messages().Search(ctx, room.ID, term)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if chatSearchJSON {
			return printJSON(matches)
		}

		if len(matches) == 0 {
			fmt.Println("No matches found.")
			return nil
		}

		for _, msg := range matches {
			fmt.Printf("[%s] %s: %s\n", formatTimestamp(msg.SentAt), msg.SenderName, msg.Text)
		}
		return nil
	},
}

// ============================================================================
// chat sendfile
// ============================================================================

var chatSendFileCmd = &cobra.Command{
	Use:   "sendfile <user-id> <path>",
	Short: "Upload a file and send it as a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerUID, path := args[0], args[1]

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		ctx, cancel := cmdContextWithTimeout(60 * time.Second)
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		room, err := peerRoom(ctx, client, peerUID)
		if err != nil {
			return err
		}

		msg, err := client.Files().SendFile(ctx, room.ID, data, chatSendFileText, &talkbase.UploadOptions{
			FileName: filepath.Base(path),
		})
		if err != nil {
			return fmt.Errorf("sendfile failed: %w", err)
		}

		fmt.Printf("Sent %s to %s\n", filepath.Base(path), peerUID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		if msg.Attachment != nil {
			fmt.Printf("  URL:        %s\n", msg.Attachment.URL)
			fmt.Printf("  Size:       %d bytes\n", msg.Attachment.FileSize)
		}
		return nil
	},
}
