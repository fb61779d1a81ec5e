package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sparkq/sparkq/internal/db"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a task on a queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		queueID, _ := cmd.Flags().GetString("queue-id")
		toolName, _ := cmd.Flags().GetString("tool-name")
		taskClass, _ := cmd.Flags().GetString("task-class")
		payload, _ := cmd.Flags().GetString("payload")
		timeout, _ := cmd.Flags().GetInt("timeout")

		req := map[string]any{
			"queue_id":   queueID,
			"tool_name":  toolName,
			"task_class": taskClass,
			"payload":    json.RawMessage(orEmptyObject(payload)),
			"timeout":    timeout,
		}
		c := newRESTClient(baseURL)
		var t db.Task
		if err := c.post(cmd.Context(), "/api/tasks", req, &t); err != nil {
			return err
		}
		fmt.Printf("task enqueued: %s\n", t.ID)
		return nil
	},
}

func orEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

var peekCmd = &cobra.Command{
	Use:   "peek",
	Short: "Show the oldest queued task for a queue without claiming it",
	RunE: func(cmd *cobra.Command, args []string) error {
		queueID, _ := cmd.Flags().GetString("queue-id")
		c := newRESTClient(baseURL)
		path := fmt.Sprintf("/api/tasks?queue_id=%s&status=%s&limit=1&sort_by=created_at&sort_dir=asc", queueID, db.TaskStatusQueued)
		var page struct {
			Items []*db.Task `json:"items"`
		}
		if err := c.get(cmd.Context(), path, &page); err != nil {
			return err
		}
		if len(page.Items) == 0 {
			fmt.Println("no queued task")
			return nil
		}
		printTask(page.Items[0])
		return nil
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim QUEUE_ID",
	Short: "Claim the oldest queued task for a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRESTClient(baseURL)
		var t db.Task
		if err := c.post(cmd.Context(), "/api/tasks/"+args[0]+"/claim", nil, &t); err != nil {
			return err
		}
		printTask(&t)
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete TASK_ID",
	Short: "Mark a claimed task succeeded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, _ := cmd.Flags().GetString("result")
		stdout, _ := cmd.Flags().GetString("stdout")
		stderr, _ := cmd.Flags().GetString("stderr")

		req := map[string]any{
			"result": json.RawMessage(orEmptyObject(result)),
			"stdout": stdout,
			"stderr": stderr,
		}
		c := newRESTClient(baseURL)
		var t db.Task
		if err := c.post(cmd.Context(), "/api/tasks/"+args[0]+"/complete", req, &t); err != nil {
			return err
		}
		fmt.Printf("task completed: %s\n", t.ID)
		return nil
	},
}

var failCmd = &cobra.Command{
	Use:   "fail TASK_ID",
	Short: "Mark a claimed task failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		errMsg, _ := cmd.Flags().GetString("error")
		stdout, _ := cmd.Flags().GetString("stdout")
		stderr, _ := cmd.Flags().GetString("stderr")

		req := map[string]string{"error": errMsg, "stdout": stdout, "stderr": stderr}
		c := newRESTClient(baseURL)
		var t db.Task
		if err := c.post(cmd.Context(), "/api/tasks/"+args[0]+"/fail", req, &t); err != nil {
			return err
		}
		fmt.Printf("task failed: %s\n", t.ID)
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue TASK_ID",
	Short: "Requeue a failed task as a new queued task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRESTClient(baseURL)
		var t db.Task
		if err := c.post(cmd.Context(), "/api/tasks/"+args[0]+"/requeue", nil, &t); err != nil {
			return err
		}
		fmt.Printf("task requeued as: %s\n", t.ID)
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		queueID, _ := cmd.Flags().GetString("queue-id")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		path := fmt.Sprintf("/api/tasks?queue_id=%s&status=%s&limit=%d", queueID, status, limit)
		c := newRESTClient(baseURL)
		var page struct {
			Items []*db.Task `json:"items"`
		}
		if err := c.get(cmd.Context(), path, &page); err != nil {
			return err
		}
		for _, t := range page.Items {
			fmt.Printf("%s\t%s\t%s\t%s\n", t.ID, t.ToolName, t.TaskClass, t.Status)
		}
		return nil
	},
}

var taskCmd = &cobra.Command{
	Use:   "task ID",
	Short: "Show a single task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRESTClient(baseURL)
		var t db.Task
		if err := c.get(cmd.Context(), "/api/tasks/"+args[0], &t); err != nil {
			return err
		}
		printTask(&t)
		return nil
	},
}

func printTask(t *db.Task) {
	fmt.Printf("id:         %s\n", t.ID)
	fmt.Printf("queue_id:   %s\n", t.QueueID)
	fmt.Printf("tool_name:  %s\n", t.ToolName)
	fmt.Printf("task_class: %s\n", t.TaskClass)
	fmt.Printf("status:     %s\n", t.Status)
	fmt.Printf("payload:    %s\n", string(t.Payload))
}

func init() {
	enqueueCmd.Flags().String("queue-id", "", "destination queue id (required)")
	enqueueCmd.Flags().String("tool-name", "", "tool name (required)")
	enqueueCmd.Flags().String("task-class", "", "task class (required)")
	enqueueCmd.Flags().String("payload", "", "JSON payload, defaults to {}")
	enqueueCmd.Flags().Int("timeout", 0, "explicit timeout in seconds; 0 uses the task class default")
	enqueueCmd.MarkFlagRequired("queue-id")
	enqueueCmd.MarkFlagRequired("tool-name")
	enqueueCmd.MarkFlagRequired("task-class")

	peekCmd.Flags().String("queue-id", "", "queue id (required)")
	peekCmd.MarkFlagRequired("queue-id")

	completeCmd.Flags().String("result", "", "JSON result, must include a non-empty \"summary\" field")
	completeCmd.Flags().String("stdout", "", "captured stdout")
	completeCmd.Flags().String("stderr", "", "captured stderr")

	failCmd.Flags().String("error", "", "failure message (required)")
	failCmd.Flags().String("stdout", "", "captured stdout")
	failCmd.Flags().String("stderr", "", "captured stderr")
	failCmd.MarkFlagRequired("error")

	tasksCmd.Flags().String("queue-id", "", "filter by queue id")
	tasksCmd.Flags().String("status", "", "filter by status")
	tasksCmd.Flags().Int("limit", 50, "page size")
}
