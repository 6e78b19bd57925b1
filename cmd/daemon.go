// daemon.go — background process management for the gateway.
//
// Usage:
//
//	qqbridge gateway          — run in the foreground
//	qqbridge gateway start    — start as a background daemon
//	qqbridge gateway stop     — send SIGTERM and wait
//	qqbridge gateway restart  — stop + start
//	qqbridge gateway status   — check the running process
package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/qqbridge/internal/utils"
)

const (
	pidFileName = "qqbridge.pid"
	logFileName = "qqbridge.log"
)

func init() {
	gatewayCmd.AddCommand(startCmd)
	gatewayCmd.AddCommand(stopCmd)
	gatewayCmd.AddCommand(restartCmd)
	gatewayCmd.AddCommand(gatewayStatusCmd)
}

// --- PID file helpers ---

func pidFilePath() string {
	return filepath.Join(utils.GetDataPath(), pidFileName)
}

func gatewayLogPath() string {
	return filepath.Join(utils.GetDataPath(), logFileName)
}

func writePID(pid int) error {
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

// isRunning checks if a process with the given PID is alive.
func isRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// getRunningPID returns the gateway PID if one is alive.
func getRunningPID() (int, bool) {
	pid, err := readPID()
	if err != nil || pid <= 0 {
		return 0, false
	}
	if !isRunning(pid) {
		removePID()
		return 0, false
	}
	return pid, true
}

// spawnGateway starts `qqbridge gateway` detached, logging to the data dir.
func spawnGateway(exe string) (*os.Process, error) {
	outFile, err := os.OpenFile(gatewayLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file: %w", err)
	}
	defer outFile.Close()

	proc := exec.Command(exe, "gateway")
	proc.Stdout = outFile
	proc.Stderr = outFile
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	proc.Env = os.Environ()

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start gateway: %w", err)
	}
	return proc.Process, nil
}

// stopGateway sends SIGTERM and escalates to SIGKILL after the timeout.
func stopGateway(pid int, timeout time.Duration) {
	if proc, err := os.FindProcess(pid); err == nil {
		proc.Signal(syscall.SIGTERM)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isRunning(pid) {
			removePID()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}

	if proc, err := os.FindProcess(pid); err == nil {
		proc.Signal(syscall.SIGKILL)
	}
	time.Sleep(200 * time.Millisecond)
	removePID()
}

// --- Subcommands ---

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway as a background daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid, ok := getRunningPID(); ok {
			return fmt.Errorf("qqbridge gateway is already running (PID %d)", pid)
		}

		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cannot find executable: %w", err)
		}

		proc, err := spawnGateway(exe)
		if err != nil {
			return err
		}

		pid := proc.Pid
		writePID(pid)
		proc.Release()

		fmt.Printf("✅ Gateway started (PID %d)\n", pid)
		fmt.Printf("   PID file: %s\n", pidFilePath())
		fmt.Printf("   Log: %s\n", gatewayLogPath())
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, ok := getRunningPID()
		if !ok {
			fmt.Println("ℹ️ qqbridge gateway is not running")
			return nil
		}

		fmt.Printf("🛑 Stopping gateway (PID %d)...\n", pid)
		stopGateway(pid, 10*time.Second)
		fmt.Println("✅ Gateway stopped")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid, ok := getRunningPID(); ok {
			fmt.Printf("🔄 Restarting gateway (PID %d)...\n", pid)
			stopGateway(pid, 10*time.Second)
		}
		return startCmd.RunE(cmd, args)
	},
}

var gatewayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the gateway process",
	Run: func(cmd *cobra.Command, args []string) {
		pid, ok := getRunningPID()
		if !ok {
			fmt.Println("⚫ qqbridge gateway is not running")
			return
		}

		fmt.Printf("✅ qqbridge gateway running (PID %d)\n", pid)
		fmt.Printf("   PID file: %s\n", pidFilePath())

		if data, err := os.ReadFile(gatewayLogPath()); err == nil {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			start := len(lines) - 5
			if start < 0 {
				start = 0
			}
			fmt.Println("   Last log lines:")
			for _, l := range lines[start:] {
				fmt.Printf("     %s\n", l)
			}
		}
	},
}
