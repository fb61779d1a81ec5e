package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sparkq/sparkq/internal/db"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage queues",
}

var queueCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a queue within a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session-id")
		instructions, _ := cmd.Flags().GetString("instructions")
		modelProfile, _ := cmd.Flags().GetString("model-profile")
		codexSessionID, _ := cmd.Flags().GetString("codex-session-id")

		c := newRESTClient(baseURL)
		req := map[string]string{
			"session_id":       sessionID,
			"name":             args[0],
			"instructions":     instructions,
			"model_profile":    modelProfile,
			"codex_session_id": codexSessionID,
		}
		var q db.Queue
		if err := c.post(cmd.Context(), "/api/queues", req, &q); err != nil {
			return err
		}
		fmt.Printf("queue created: %s (%s)\n", q.Name, q.ID)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queues",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session-id")
		status, _ := cmd.Flags().GetString("status")
		includeArchived, _ := cmd.Flags().GetBool("include-archived")

		c := newRESTClient(baseURL)
		path := fmt.Sprintf("/api/queues?session_id=%s&status=%s&include_archived=%v", sessionID, status, includeArchived)
		var body struct {
			Items []*db.Queue `json:"items"`
		}
		if err := c.get(cmd.Context(), path, &body); err != nil {
			return err
		}
		for _, q := range body.Items {
			fmt.Printf("%s\t%s\t%s\n", q.ID, q.Name, q.Status)
		}
		return nil
	},
}

var queueEndCmd = &cobra.Command{
	Use:   "end ID",
	Short: "End a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRESTClient(baseURL)
		var q db.Queue
		if err := c.put(cmd.Context(), "/api/queues/"+args[0], map[string]string{"status": db.QueueStatusEnded}, &q); err != nil {
			return err
		}
		fmt.Printf("queue ended: %s\n", q.ID)
		return nil
	},
}

var queueArchiveCmd = &cobra.Command{
	Use:   "archive ID",
	Short: "Archive a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRESTClient(baseURL)
		var q db.Queue
		if err := c.put(cmd.Context(), "/api/queues/"+args[0]+"/archive", nil, &q); err != nil {
			return err
		}
		fmt.Printf("queue archived: %s\n", q.ID)
		return nil
	},
}

var queueUnarchiveCmd = &cobra.Command{
	Use:   "unarchive ID",
	Short: "Unarchive a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRESTClient(baseURL)
		var q db.Queue
		if err := c.put(cmd.Context(), "/api/queues/"+args[0]+"/unarchive", nil, &q); err != nil {
			return err
		}
		fmt.Printf("queue unarchived: %s\n", q.ID)
		return nil
	},
}

func init() {
	queueCreateCmd.Flags().String("session-id", "", "owning session id (required)")
	queueCreateCmd.Flags().String("instructions", "", "free-text instructions passed to runners")
	queueCreateCmd.Flags().String("model-profile", "", "optional model profile label")
	queueCreateCmd.Flags().String("codex-session-id", "", "optional opaque runner continuation token")
	queueCreateCmd.MarkFlagRequired("session-id")

	queueListCmd.Flags().String("session-id", "", "filter by session id")
	queueListCmd.Flags().String("status", "", "filter by status")
	queueListCmd.Flags().Bool("include-archived", false, "include archived queues")

	queueCmd.AddCommand(queueCreateCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueEndCmd)
	queueCmd.AddCommand(queueArchiveCmd)
	queueCmd.AddCommand(queueUnarchiveCmd)
}
