package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const pidFileName = "kitool.pid"

var errNotRunning = errors.New("server is not running")

func pidFilePath(dataDir string) string {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), pidFileName)
		}
		dataDir = filepath.Join(home, ".kitool")
	}
	return filepath.Join(dataDir, pidFileName)
}

// serverProcess is a live "kitool serve" found through its PID file
type serverProcess struct {
	pid     int
	pidFile string
	started time.Time
	proc    *os.Process
}

// findServer reads pidFile and checks the process behind it. A PID file
// left by a dead process is removed and reported as errNotRunning.
func findServer(pidFile string) (*serverProcess, error) {
	info, err := os.Stat(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotRunning
		}
		return nil, err
	}
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("%w: invalid PID file %s", errNotRunning, pidFile)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to find process: %w", err)
	}
	p := &serverProcess{pid: pid, pidFile: pidFile, started: info.ModTime(), proc: proc}
	if !p.alive() {
		_ = os.Remove(pidFile)
		return nil, errNotRunning
	}
	return p, nil
}

// alive probes the process with signal 0
func (p *serverProcess) alive() bool {
	return p.proc.Signal(syscall.Signal(0)) == nil
}

// stop sends SIGTERM and waits for the process to exit, escalating to
// SIGKILL after timeout.
func (p *serverProcess) stop(timeout time.Duration) (killed bool, err error) {
	if err := p.proc.Signal(syscall.SIGTERM); err != nil {
		return false, fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		select {
		case <-ticker.C:
			if !p.alive() {
				_ = os.Remove(p.pidFile)
				return false, nil
			}
		case <-deadline:
			if err := p.proc.Signal(syscall.SIGKILL); err != nil {
				return false, fmt.Errorf("failed to send SIGKILL: %w", err)
			}
			_ = os.Remove(p.pidFile)
			return true, nil
		}
	}
}

// claimPIDFile records this process as the server. It fails when another
// server owns the file.
func claimPIDFile(pidFile string) (release func(), err error) {
	if p, err := findServer(pidFile); err == nil {
		return nil, fmt.Errorf("server is already running (PID %d, PID file: %s)", p.pid, pidFile)
	}
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return func() { _ = os.Remove(pidFile) }, nil
}

// healthReport mirrors the body of GET /health
type healthReport struct {
	Status string                    `json:"status"`
	Uptime float64                   `json:"uptime"`
	Tools  int                       `json:"tools"`
	Lanes  map[string]map[string]int `json:"lanes"`
}

// probeHealth asks the server at host:port for its health. A wildcard
// listen address is probed on loopback.
func probeHealth(ctx context.Context, host string, port int) (*healthReport, error) {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %s", resp.Status)
	}

	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("invalid health response: %w", err)
	}
	return &report, nil
}
