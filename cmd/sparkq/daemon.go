package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sparkq/sparkq/internal/db"
)

func pidFilePath() string {
	if p := os.Getenv("SPARKQ_PID_FILE"); p != "" {
		return p
	}
	return filepath.Join(os.TempDir(), "sparkqd.pid")
}

var setupCmd = &cobra.Command{
	Use:   "setup NAME",
	Short: "Create the single project sparkq manages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, _ := cmd.Flags().GetString("repo-path")
		prdPath, _ := cmd.Flags().GetString("prd-path")

		c := newRESTClient(baseURL)
		req := map[string]string{"name": args[0], "repo_path": repoPath, "prd_path": prdPath}
		var p db.Project
		if err := c.post(cmd.Context(), "/api/projects", req, &p); err != nil {
			return err
		}
		fmt.Printf("project created: %s (%s)\n", p.Name, p.ID)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the sparkqd daemon as a detached background process",
	RunE: func(cmd *cobra.Command, args []string) error {
		binPath, _ := cmd.Flags().GetString("bin")
		if binPath == "" {
			binPath = "sparkqd"
		}

		proc := exec.Command(binPath)
		proc.Stdout = os.Stdout
		proc.Stderr = os.Stderr
		proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := proc.Start(); err != nil {
			return fmt.Errorf("failed to start sparkqd: %w", err)
		}

		pidFile := pidFilePath()
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(proc.Process.Pid)), 0o644); err != nil {
			return fmt.Errorf("failed to write pid file %s: %w", pidFile, err)
		}
		fmt.Printf("sparkqd started (pid %d)\n", proc.Process.Pid)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the sparkqd daemon started by run",
	RunE: func(cmd *cobra.Command, args []string) error {
		pidFile := pidFilePath()
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return fmt.Errorf("no running sparkqd found (%s): %w", pidFile, err)
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("corrupt pid file %s: %w", pidFile, err)
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("failed to find process %d: %w", pid, err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to signal process %d: %w", pid, err)
		}
		_ = os.Remove(pidFile)
		fmt.Printf("sparkqd (pid %d) signalled to stop\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the sparkq daemon is reachable and healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRESTClient(baseURL)
		var body map[string]any
		if err := c.get(cmd.Context(), "/health", &body); err != nil {
			return err
		}
		fmt.Printf("status: %v\n", body["status"])
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the running daemon's configuration document",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRESTClient(baseURL)
		var body map[string]any
		if err := c.post(cmd.Context(), "/api/config/reload", nil, &body); err != nil {
			return err
		}
		fmt.Printf("configuration reloaded (database: %v)\n", body["database_path"])
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Trigger an on-demand run of the age-based purge sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThanDays, _ := cmd.Flags().GetInt("older-than-days")
		c := newRESTClient(baseURL)
		var body map[string]any
		if err := c.post(cmd.Context(), "/api/purge", map[string]int{"older_than_days": olderThanDays}, &body); err != nil {
			return err
		}
		fmt.Printf("purged %v tasks\n", body["deleted"])
		return nil
	},
}

func init() {
	setupCmd.Flags().String("repo-path", "", "working directory sparkq uses for the project")
	setupCmd.Flags().String("prd-path", "", "path to the project's requirements document")
	runCmd.Flags().String("bin", "", "path to the sparkqd binary (default: look up \"sparkqd\" on PATH)")
	purgeCmd.Flags().Int("older-than-days", 0, "age threshold override; 0 uses the daemon's configured default")
}
