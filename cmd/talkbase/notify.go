package main

import (
	"fmt"

	"github.com/spf13/cobra"
	talkbase "github.com/talkbase/talkbase-go"
)

var (
	notifyListLimit int
	notifyListJSON  bool
)

func init() {
	rootCmd.AddCommand(notifyCmd)

	notifyCmd.AddCommand(notifyListCmd)
	notifyCmd.AddCommand(notifyUnreadCmd)
	notifyCmd.AddCommand(notifyReadCmd)
	notifyCmd.AddCommand(notifyReadAllCmd)
	notifyCmd.AddCommand(notifyDeleteCmd)

	notifyListCmd.Flags().IntVar(&notifyListLimit, "limit", 20, "Maximum number of notifications to fetch")
	notifyListCmd.Flags().BoolVar(&notifyListJSON, "json", false, "Output raw JSON")
}

// ============================================================================
// notifications (parent command)
// ============================================================================

var notifyCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Inspect and manage notifications",
}

func describeNotification(note talkbase.Notification) string {
	switch p := note.Payload.(type) {
	case talkbase.MessagePayload:
		return fmt.Sprintf("message from %s: %s", p.SenderName, p.Preview)
	case talkbase.CallPayload:
		return fmt.Sprintf("call from %s", p.CallerName)
	case talkbase.CommunityPayload:
		return fmt.Sprintf("community post from %s: %s", p.SenderName, p.Preview)
	case talkbase.StatusPayload:
		return fmt.Sprintf("%s is now %q", p.UserID, p.Status)
	default:
		return string(note.Kind)
	}
}

// ============================================================================
// notifications list
// ============================================================================

var notifyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		sess := client.CurrentSession()
		if sess == nil {
			return fmt.Errorf("not signed in")
		}

		notes, err := client.Notifications().List(ctx, sess.UID, notifyListLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if notifyListJSON {
			return printJSON(notes)
		}

		if len(notes) == 0 {
			fmt.Println("No notifications.")
			return nil
		}

		for _, note := range notes {
			marker := "*"
			if note.Read {
				marker = " "
			}
			fmt.Printf("%s [%s] %s  %s\n", marker, formatTimestamp(note.CreatedAt), note.ID, describeNotification(note))
		}
		return nil
	},
}

// ============================================================================
// notifications unread
// ============================================================================

var notifyUnreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show the unread notification count",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		sess := client.CurrentSession()
		if sess == nil {
			return fmt.Errorf("not signed in")
		}

		count, err := client.Notifications().UnreadCount(ctx, sess.UID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("%d unread\n", count)
		return nil
	},
}

// ============================================================================
// notifications read
// ============================================================================

var notifyReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		if err := client.Notifications().MarkRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Println("Marked as read.")
		return nil
	},
}

// ============================================================================
// notifications read-all
// ============================================================================

var notifyReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark all notifications as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		sess := client.CurrentSession()
		if sess == nil {
			return fmt.Errorf("not signed in")
		}

		if err := client.Notifications().MarkAllRead(ctx, sess.UID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Println("All notifications marked as read.")
		return nil
	},
}

// ============================================================================
// notifications delete
// ============================================================================

var notifyDeleteCmd = &cobra.Command{
	Use:   "delete <notification-id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		client, cleanup := getClient(ctx)
		defer cleanup()

		if err := client.Notifications().Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Println("Notification deleted.")
		return nil
	},
}
