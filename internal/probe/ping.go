package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// PingProber shells out to the system ping binary for a single echo request.
type PingProber struct {
	Binary string
	// Wait is the per-echo reply timeout handed to ping itself.
	Wait time.Duration
}

// NewPingProber returns a prober using the ping binary found on PATH.
func NewPingProber(wait time.Duration) *PingProber {
	if wait <= 0 {
		wait = DefaultTimeout
	}
	return &PingProber{Binary: "ping", Wait: wait}
}

// Probe runs ping once; a zero exit status means reachable.
func (p *PingProber) Probe(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("empty address")
	}
	cmd := exec.CommandContext(ctx, p.Binary, pingArgs(runtime.GOOS, address, p.Wait)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ping %s: %w", address, ctx.Err())
		}
		return fmt.Errorf("ping %s: %w: %s", address, err, strings.TrimSpace(lastLine(out)))
	}
	return nil
}

func pingArgs(goos, address string, wait time.Duration) []string {
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.FormatInt(wait.Milliseconds(), 10), address}
	case "darwin", "freebsd", "openbsd", "netbsd":
		return []string{"-c", "1", "-t", strconv.Itoa(ceilSeconds(wait)), address}
	default:
		return []string{"-c", "1", "-W", strconv.Itoa(ceilSeconds(wait)), address}
	}
}

func ceilSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return lines[len(lines)-1]
}
