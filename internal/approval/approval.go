// Package approval is the human-in-the-loop gate for low-confidence
// containment.
//
// The pipeline depends only on the Approver interface. Tests inject
// AlwaysApprove, AlwaysReject or a Func; the CLI injects a Console.
package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Outcome is the answer to an approval request.
type Outcome string

const (
	Approved  Outcome = "approved"
	Rejected  Outcome = "rejected"
	Cancelled Outcome = "cancelled"
)

// Request describes the action awaiting approval.
type Request struct {
	EpisodeID  int
	RunID      string
	IP         string
	Decision   string
	Confidence float64
	Reason     string
}

// Approver asks for a synchronous accept/reject.
//
// Approve blocks until an answer arrives or ctx is done. An error means the
// approval channel itself failed.
type Approver interface {
	Approve(ctx context.Context, req Request) (Outcome, error)
}

// Func adapts a function to Approver.
type Func func(ctx context.Context, req Request) (Outcome, error)

// Approve implements Approver.
func (f Func) Approve(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// AlwaysApprove approves every request.
type AlwaysApprove struct{}

// Approve implements Approver.
func (AlwaysApprove) Approve(context.Context, Request) (Outcome, error) { return Approved, nil }

// AlwaysReject rejects every request.
type AlwaysReject struct{}

// Approve implements Approver.
func (AlwaysReject) Approve(context.Context, Request) (Outcome, error) { return Rejected, nil }

// Console prompts on out and reads a y/n answer from in.
//
// Only "y" and "yes" (any case) approve. End of input, a timeout or a done
// context cancel. A single reader goroutine owns in for the life of the
// Console; an answer that arrives after its prompt was abandoned is dropped
// before the next prompt.
type Console struct {
	in      *bufio.Reader
	out     io.Writer
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex // one prompt at a time
	start     sync.Once
	lines     chan answer // closed after the read error is delivered
	abandoned bool
}

// NewConsole creates a console approver. timeout <= 0 waits indefinitely.
func NewConsole(in io.Reader, out io.Writer, timeout time.Duration, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		in:      bufio.NewReader(in),
		out:     out,
		timeout: timeout,
		logger:  logger,
		lines:   make(chan answer),
	}
}

// Prompt renders the question shown to the operator.
func Prompt(req Request) string {
	return fmt.Sprintf("[GATING] block ip %s? confidence=%.2f (y/n): ", req.IP, req.Confidence)
}

type answer struct {
	line string
	err  error
}

func (c *Console) readLoop() {
	defer close(c.lines)
	for {
		line, err := c.in.ReadString('\n')
		c.lines <- answer{line: line, err: err}
		if err != nil {
			return
		}
	}
}

// dropStale discards answers already read for an abandoned prompt.
func (c *Console) dropStale() {
	if !c.abandoned {
		return
	}
	c.abandoned = false
	for {
		select {
		case a, ok := <-c.lines:
			if !ok || a.err != nil {
				return
			}
			c.logger.Debug("dropped late approval answer", "answer", strings.TrimSpace(a.line))
		default:
			return
		}
	}
}

// Approve implements Approver.
//
// A timeout or a done context returns while the terminal read is still
// pending. The read is not restarted; the next call picks it up.
func (c *Console) Approve(ctx context.Context, req Request) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropStale()
	c.logger.Info("awaiting approval", "episode_id", req.EpisodeID, "ip", req.IP, "confidence", req.Confidence)
	if _, err := io.WriteString(c.out, Prompt(req)); err != nil {
		return Cancelled, fmt.Errorf("write prompt: %w", err)
	}
	c.start.Do(func() { go c.readLoop() })

	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case a, ok := <-c.lines:
		if !ok {
			c.logger.Info("approval input closed", "episode_id", req.EpisodeID)
			return Cancelled, nil
		}
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return Cancelled, fmt.Errorf("read approval: %w", a.err)
		}
		if a.err != nil && strings.TrimSpace(a.line) == "" {
			c.logger.Info("approval input closed", "episode_id", req.EpisodeID)
			return Cancelled, nil
		}
		return parseAnswer(a.line), nil
	case <-timeout:
		c.abandoned = true
		fmt.Fprintln(c.out)
		c.logger.Info("approval timed out", "episode_id", req.EpisodeID, "timeout", c.timeout)
		return Cancelled, nil
	case <-ctx.Done():
		c.abandoned = true
		return Cancelled, nil
	}
}

func parseAnswer(line string) Outcome {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return Approved
	default:
		return Rejected
	}
}
