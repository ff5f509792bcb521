package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/exercise"
	"github.com/felixgeelhaar/gradebox/internal/sandbox"
)

const (
	startWait = 3 * time.Second
	stopWait  = 5 * time.Second
	pollEvery = 100 * time.Millisecond
)

func cmdStart() error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	if isRunning(cfg) {
		fmt.Println("✓ Daemon is already running")
		return nil
	}

	daemonPath, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}
	cmd := exec.Command(daemonPath)
	cmd.Dir = dir
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	// The daemon outlives this process.
	_ = cmd.Process.Release()

	fmt.Print("Starting daemon...")
	if !waitUntil(startWait, func() bool { return isRunning(cfg) }) {
		fmt.Println(" ✗")
		return fmt.Errorf("daemon failed to start (check logs with 'gradebox logs')")
	}
	fmt.Println(" ✓")
	fmt.Printf("Daemon running at %s\n", daemonURL(cfg))
	return nil
}

func cmdStop() error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	if !isRunning(cfg) {
		fmt.Println("Daemon is not running")
		return nil
	}

	pid, err := readPID(filepath.Join(dir, pidFile))
	if err != nil {
		return err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}

	fmt.Print("Stopping daemon...")
	if err := requestStop(process); err != nil {
		return fmt.Errorf("stop process %d: %w", pid, err)
	}
	if !waitUntil(stopWait, func() bool { return !isRunning(cfg) }) {
		fmt.Println(" ✗")
		return fmt.Errorf("daemon did not stop gracefully")
	}
	fmt.Println(" ✓")
	return nil
}

// readPID parses the PID file the daemon writes on startup.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}

// waitUntil polls cond, printing a dot per miss, until it holds or the
// deadline passes.
func waitUntil(limit time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		time.Sleep(pollEvery)
		if cond() {
			return true
		}
		fmt.Print(".")
	}
	return false
}

// cmdStatus shows daemon status
func cmdStatus() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if !isRunning(cfg) {
		fmt.Println("Status: stopped")
		return nil
	}

	resp, err := http.Get(daemonURL(cfg) + "/v1/status")
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	var status struct {
		Status    string                 `json:"status"`
		Version   string                 `json:"version"`
		Uptime    string                 `json:"uptime"`
		Storage   string                 `json:"storage"`
		Sandbox   string                 `json:"sandbox"`
		Hosts     []sandbox.HostInfo     `json:"hosts"`
		Exercises exercise.RegistryStats `json:"exercises"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("parse status: %w", err)
	}

	fmt.Printf("Status:    %s\n", status.Status)
	fmt.Printf("Version:   %s\n", status.Version)
	fmt.Printf("Uptime:    %s\n", status.Uptime)
	fmt.Printf("Storage:   %s\n", status.Storage)
	fmt.Printf("Sandbox:   %s (%d hosts)\n", status.Sandbox, len(status.Hosts))
	fmt.Printf("Exercises: %d in %d packs\n", status.Exercises.ExerciseCount, status.Exercises.PackCount)
	fmt.Printf("Address:   %s\n", daemonURL(cfg))

	return nil
}

// logTailBytes bounds how much of the log cmdLogs prints.
const logTailBytes = 4096

func cmdLogs() error {
	_, dir, err := loadConfig()
	if err != nil {
		return err
	}

	lines, err := tailLines(filepath.Join(dir, "logs", "gradeboxd.log"), logTailBytes)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Println("No log file found. Start the daemon first.")
		return nil
	}
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

// tailLines returns the complete lines in the last limit bytes of path.
func tailLines(path string, limit int64) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	offset := max(0, info.Size()-limit)
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek log file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if offset > 0 && len(lines) > 0 {
		lines = lines[1:]
	}
	return lines, scanner.Err()
}

// findDaemonBinary locates the gradeboxd binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("gradeboxd"); err == nil {
		return path, nil
	}

	// Next to this binary
	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), "gradeboxd")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, path := range []string{"/usr/local/bin/gradeboxd", "./gradeboxd", "./cmd/gradeboxd/gradeboxd"} {
		if _, err := os.Stat(path); err == nil {
			return filepath.Abs(path)
		}
	}

	return "", fmt.Errorf("gradeboxd binary not found (build with 'go build ./cmd/gradeboxd')")
}
