// Package supervisor manages the broker as a child process on behalf of
// a host UI: it launches the binary, learns the ephemeral port from the
// stdout handshake, fans out log lines, and stops the child gracefully
// before resorting to a kill.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/r2browser/r2browser/internal/constants"
	"github.com/r2browser/r2browser/internal/events"
	"github.com/r2browser/r2browser/internal/logging"
)

// listeningLine is the broker's readiness handshake on stdout.
var listeningLine = regexp.MustCompile(`^LISTENING PORT=(\d+)$`)

// Status is the supervisor's view of the broker lifecycle.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusFailed   Status = "failed"
)

// StatusInfo is a snapshot of the supervised process.
type StatusInfo struct {
	Status Status `json:"status"`
	Port   int    `json:"port"`
	PID    int    `json:"pid"`
}

// LogLine is one captured line of broker output.
type LogLine struct {
	Line   string    `json:"line"`
	Stderr bool      `json:"stderr"`
	Time   time.Time `json:"time"`
}

// Config tunes the supervisor. Zero values use the shared defaults.
type Config struct {
	// Command is the broker binary; Args are passed verbatim.
	Command string
	Args    []string

	// Env entries appended to the inherited environment. PORT=0 is
	// always set so the OS picks the port.
	Env []string

	StartTimeout time.Duration
	StopGrace    time.Duration
	LogBuffer    int
}

func (c *Config) applyDefaults() {
	if c.StartTimeout <= 0 {
		c.StartTimeout = constants.SupervisorStartTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = constants.SupervisorStopGrace
	}
	if c.LogBuffer <= 0 {
		c.LogBuffer = constants.SupervisorLogBuffer
	}
}

// Supervisor runs and watches one broker child process.
type Supervisor struct {
	cfg Config
	bus *events.EventBus
	log *logging.Logger

	mu       sync.Mutex
	status   Status
	port     int
	cmd      *exec.Cmd
	waitDone chan struct{}
	lines    []LogLine // ring, oldest dropped on overflow
}

// New creates a supervisor for the given broker command.
func New(cfg Config, bus *events.EventBus, log *logging.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:    cfg,
		bus:    bus,
		log:    log,
		status: StatusStopped,
	}
}

// Start launches the broker and blocks until the LISTENING PORT
// handshake arrives or the start timeout expires. Returns the port.
func (s *Supervisor) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.status == StatusStarting || s.status == StatusRunning {
		port := s.port
		s.mu.Unlock()
		return port, fmt.Errorf("broker already %s on port %d", s.status, port)
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Env = append(os.Environ(), "PORT=0")
	cmd.Env = append(cmd.Env, s.cfg.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		s.setStatus(StatusFailed, 0, err)
		return 0, fmt.Errorf("start broker: %w", err)
	}

	s.cmd = cmd
	s.port = 0
	s.status = StatusStarting
	s.waitDone = make(chan struct{})
	waitDone := s.waitDone
	s.mu.Unlock()

	s.publishStatus(StatusStarting, 0, nil)

	portCh := make(chan int, 1)
	go s.scanStdout(stdout, portCh)
	go s.scanStderr(stderr)
	go func() {
		cmd.Wait()
		close(waitDone)

		s.mu.Lock()
		interrupted := s.status == StatusStopping
		s.mu.Unlock()
		if interrupted {
			s.setStatus(StatusStopped, 0, nil)
		} else {
			s.setStatus(StatusFailed, 0, errors.New("broker exited unexpectedly"))
		}
	}()

	select {
	case port := <-portCh:
		s.setStatus(StatusRunning, port, nil)
		return port, nil
	case <-waitDone:
		return 0, errors.New("broker exited before announcing its port")
	case <-time.After(s.cfg.StartTimeout):
		s.kill()
		return 0, fmt.Errorf("broker did not announce a port within %s", s.cfg.StartTimeout)
	case <-ctx.Done():
		s.kill()
		return 0, ctx.Err()
	}
}

// Stop asks the broker to shut down over HTTP, waits the grace period,
// then kills the process if it is still alive.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusRunning && s.status != StatusStarting {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusStopping
	port := s.port
	waitDone := s.waitDone
	s.mu.Unlock()

	s.publishStatus(StatusStopping, port, nil)

	if port > 0 {
		s.postShutdown(ctx, port)
	}

	select {
	case <-waitDone:
		return nil
	case <-time.After(s.cfg.StopGrace):
	case <-ctx.Done():
	}

	s.kill()
	select {
	case <-waitDone:
	case <-time.After(time.Second):
	}
	return nil
}

// Restart stops a running broker (if any) and starts a fresh one.
func (s *Supervisor) Restart(ctx context.Context) (int, error) {
	if err := s.Stop(ctx); err != nil {
		return 0, err
	}
	return s.Start(ctx)
}

// GetStatus returns a snapshot of the supervised process.
func (s *Supervisor) GetStatus() StatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := StatusInfo{Status: s.status, Port: s.port}
	if s.cmd != nil && s.cmd.Process != nil {
		info.PID = s.cmd.Process.Pid
	}
	return info
}

// Logs returns a copy of the retained output lines, oldest first.
func (s *Supervisor) Logs() []LogLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogLine(nil), s.lines...)
}

// postShutdown delivers POST /shutdown with short retries; a dead
// broker just falls through to the kill path.
func (s *Supervisor) postShutdown(ctx context.Context, port int) {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.HTTPClient.Timeout = 2 * time.Second
	client.Logger = nil

	url := fmt.Sprintf("http://127.0.0.1:%d/shutdown", port)
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", url, nil)
	if err != nil {
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		s.log.Debug().Err(err).Msg("shutdown request failed, will kill")
		return
	}
	resp.Body.Close()
}

func (s *Supervisor) kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// scanStdout consumes the child's stdout. The first line matching the
// handshake carries the port; everything else is log output.
func (s *Supervisor) scanStdout(r io.Reader, portCh chan<- int) {
	scanner := bufio.NewScanner(r)
	announced := false
	for scanner.Scan() {
		line := scanner.Text()
		if !announced {
			if m := listeningLine.FindStringSubmatch(line); m != nil {
				port, err := strconv.Atoi(m[1])
				if err == nil {
					announced = true
					portCh <- port
					continue
				}
			}
		}
		s.appendLine(line, false)
	}
}

func (s *Supervisor) scanStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.appendLine(scanner.Text(), true)
	}
}

// appendLine stores a line in the ring and fans it out on the bus.
// Oldest lines drop when the ring is full.
func (s *Supervisor) appendLine(line string, stderr bool) {
	entry := LogLine{Line: line, Stderr: stderr, Time: time.Now()}

	s.mu.Lock()
	s.lines = append(s.lines, entry)
	if over := len(s.lines) - s.cfg.LogBuffer; over > 0 {
		s.lines = s.lines[over:]
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(&events.ServerLogEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventServerLog, Time: entry.Time},
			Line:      line,
			Stderr:    stderr,
		})
	}
}

func (s *Supervisor) setStatus(status Status, port int, err error) {
	s.mu.Lock()
	s.status = status
	if port > 0 {
		s.port = port
	}
	if status == StatusStopped || status == StatusFailed {
		s.port = 0
	}
	s.mu.Unlock()

	s.publishStatus(status, port, err)
}

func (s *Supervisor) publishStatus(status Status, port int, err error) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&events.ServerStatusEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventServerStatus, Time: time.Now()},
		Status:    string(status),
		Port:      port,
		Err:       err,
	})
}
