package i3block

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// sigrtmin is SIGRTMIN on Linux; i3blocks numbers its signals from it
	sigrtmin = 34

	DefaultSignal          = 21
	DefaultRefreshInterval = 10 * time.Second
)

// Controller tracks the i3blocks process and signals it so the lyrics block
// re-reads the widget file.
type Controller struct {
	signal   int
	interval time.Duration
	pid      int
	pidMutex sync.RWMutex
	logger   zerolog.Logger
}

// NewController creates a controller that sends SIGRTMIN+signal.
func NewController(signal int, interval time.Duration) *Controller {
	if signal <= 0 {
		signal = DefaultSignal
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Controller{
		signal:   signal,
		interval: interval,
		pid:      -1,
		logger:   log.With().Str("component", "i3block").Logger(),
	}
}

// Run refreshes the i3blocks PID until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.refreshPID(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("i3blocks not found yet")
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.refreshPID(ctx); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to refresh i3blocks PID")
			}
		}
	}
}

func (c *Controller) refreshPID(ctx context.Context) error {
	pid := -1
	output, err := exec.CommandContext(ctx, "pgrep", "-x", "i3blocks").Output()
	if err == nil {
		pid = firstPID(string(output))
	} else {
		output, err = exec.CommandContext(ctx, "ps", "aux").Output()
		if err != nil {
			return fmt.Errorf("failed to run ps command: %w", err)
		}
		pid = pidFromPS(string(output))
	}

	c.pidMutex.Lock()
	oldPID := c.pid
	c.pid = pid
	c.pidMutex.Unlock()

	if oldPID != pid {
		c.logger.Info().Int("old_pid", oldPID).Int("pid", pid).Msg("i3blocks PID updated")
	}
	if pid <= 0 {
		return fmt.Errorf("i3blocks process not found")
	}
	return nil
}

func firstPID(output string) int {
	for _, line := range strings.Split(output, "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			return pid
		}
	}
	return -1
}

func pidFromPS(output string) int {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 11 || !strings.HasSuffix(fields[10], "i3blocks") {
			continue
		}
		if pid, err := strconv.Atoi(fields[1]); err == nil {
			return pid
		}
	}
	return -1
}

func (c *Controller) PID() int {
	c.pidMutex.RLock()
	defer c.pidMutex.RUnlock()
	return c.pid
}

// Notify signals i3blocks that the block content changed.
func (c *Controller) Notify() error {
	pid := c.PID()
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d, i3blocks process not found", pid)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.Signal(sigrtmin + c.signal)); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	return nil
}
