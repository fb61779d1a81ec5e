package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sparkq/sparkq/internal/db"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a session within a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project-id")
		description, _ := cmd.Flags().GetString("description")

		c := newRESTClient(baseURL)
		req := map[string]string{"project_id": projectID, "name": args[0], "description": description}
		var s db.Session
		if err := c.post(cmd.Context(), "/api/sessions", req, &s); err != nil {
			return err
		}
		fmt.Printf("session created: %s (%s)\n", s.Name, s.ID)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project-id")
		status, _ := cmd.Flags().GetString("status")

		c := newRESTClient(baseURL)
		path := fmt.Sprintf("/api/sessions?project_id=%s&status=%s", projectID, status)
		var body struct {
			Items []*db.Session `json:"items"`
		}
		if err := c.get(cmd.Context(), path, &body); err != nil {
			return err
		}
		for _, s := range body.Items {
			fmt.Printf("%s\t%s\t%s\n", s.ID, s.Name, s.Status)
		}
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end ID",
	Short: "End a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRESTClient(baseURL)
		var s db.Session
		if err := c.put(cmd.Context(), "/api/sessions/"+args[0], map[string]string{"status": db.SessionStatusEnded}, &s); err != nil {
			return err
		}
		fmt.Printf("session ended: %s\n", s.ID)
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().String("project-id", "", "owning project id (required)")
	sessionCreateCmd.Flags().String("description", "", "free-text description")
	sessionCreateCmd.MarkFlagRequired("project-id")

	sessionListCmd.Flags().String("project-id", "", "filter by project id")
	sessionListCmd.Flags().String("status", "", "filter by status")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionEndCmd)
}
