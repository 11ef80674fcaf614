package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/triage/internal/approval"
	"github.com/roach88/triage/internal/assets"
	"github.com/roach88/triage/internal/audit"
	"github.com/roach88/triage/internal/clock"
	"github.com/roach88/triage/internal/config"
	"github.com/roach88/triage/internal/enforce"
	"github.com/roach88/triage/internal/logquery"
	"github.com/roach88/triage/internal/memory"
	"github.com/roach88/triage/internal/metrics"
	"github.com/roach88/triage/internal/pipeline"
	"github.com/roach88/triage/internal/runs"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	EpisodeIDs      []int
	RunID           string
	Clean           bool
	LogsDir         string
	RunsDir         string
	MemoryDir       string
	ConfigPath      string
	Delay           int
	NonInteractive  bool
	ApprovalTimeout time.Duration
	Parallel        int

	// Approver overrides the console approver (for testing).
	Approver approval.Approver

	// Clock overrides the system clock (for testing).
	Clock clock.Clock

	// IDGenerator overrides the random run id suffix (for testing).
	IDGenerator runs.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Triage one or more episodes",
		Long: `Run the decision pipeline over episodes and record the outcome.

Every execution appends one decision record to <runs-dir>/<run-id>/decisions.jsonl.
Executed blocks are appended to enforcement_actions.jsonl, and counters are
written to metrics.prom. Blocks below the gating threshold are put to the
operator on stdin unless --non-interactive is set.

Example:
  triage run --episode-id 1
  triage run --episode-id 1,2,3 --run-id baseline --clean --non-interactive --parallel 3
  triage run --episode-id 2 --memory-dir data/memory --approval-timeout 30s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTriage(opts, cmd)
		},
	}

	cmd.Flags().IntSliceVar(&opts.EpisodeIDs, "episode-id", nil, "episode id(s) to triage (required)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id (default: generated)")
	cmd.Flags().BoolVar(&opts.Clean, "clean", false, "truncate the run's logs and rewrite its metadata")
	cmd.Flags().StringVar(&opts.LogsDir, "logs-dir", "", "episode logs directory (default: config paths.logs_dir)")
	cmd.Flags().StringVar(&opts.RunsDir, "runs-dir", "", "runs directory (default: config paths.runs_dir)")
	cmd.Flags().StringVar(&opts.MemoryDir, "memory-dir", "", "case memory directory (default: <run dir>/memory)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config")
	cmd.Flags().IntVar(&opts.Delay, "delay", 0, "seconds between detection and response (default: config policy.response_delay_seconds)")
	cmd.Flags().BoolVar(&opts.NonInteractive, "non-interactive", false, "never prompt; low-confidence blocks execute")
	cmd.Flags().DurationVar(&opts.ApprovalTimeout, "approval-timeout", 0, "cancel an unanswered prompt after this long (0 waits)")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "episodes triaged concurrently (forced to 1 when interactive)")

	return cmd
}

// runSummary is the result of one run command.
type runSummary struct {
	RunID    string           `json:"run_id"`
	RunDir   string           `json:"run_dir"`
	Fresh    bool             `json:"fresh"`
	Episodes []episodeSummary `json:"episodes"`
}

type episodeSummary struct {
	EpisodeID        int     `json:"episode_id"`
	TDetect          *string `json:"t_detect"`
	ProposedDecision string  `json:"proposed_decision"`
	Decision         string  `json:"decision"`
	Confidence       float64 `json:"confidence"`
	Prompted         bool    `json:"prompted"`
	Reason           string  `json:"reason"`
	BlockedIP        string  `json:"blocked_ip,omitempty"`
	BlockedAt        string  `json:"blocked_at,omitempty"`
}

func (r runSummary) renderText(w io.Writer) error {
	state := "existing"
	if r.Fresh {
		state = "new"
	}
	if _, err := fmt.Fprintf(w, "run %s (%s, %s)\n", r.RunID, state, r.RunDir); err != nil {
		return err
	}
	for _, e := range r.Episodes {
		tDetect := "none"
		if e.TDetect != nil {
			tDetect = *e.TDetect
		}
		fmt.Fprintf(w, "episode %03d: %s (proposed %s, confidence %.2f, t_detect %s)\n",
			e.EpisodeID, e.Decision, e.ProposedDecision, e.Confidence, tDetect)
		fmt.Fprintf(w, "  reason: %s\n", e.Reason)
		if e.BlockedIP != "" {
			fmt.Fprintf(w, "  action: block_ip %s at %s\n", e.BlockedIP, e.BlockedAt)
		}
	}
	return nil
}

func summarize(s *pipeline.State) episodeSummary {
	out := episodeSummary{
		EpisodeID:        s.EpisodeID,
		TDetect:          s.TDetect,
		ProposedDecision: s.ProposedDecision,
		Decision:         s.FinalDecision,
		Confidence:       s.Confidence,
		Prompted:         s.Gating.Prompted,
	}
	if s.Record != nil {
		out.Reason = s.Record.Reason
	}
	if s.ActionResult != nil {
		out.BlockedIP = s.ActionResult.Action.IP
		out.BlockedAt = s.ActionResult.Action.Timestamp
	}
	return out
}

func runTriage(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)

	if len(opts.EpisodeIDs) == 0 {
		return out.fail(ExitCommandError, "at least one --episode-id is required", nil)
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return out.fail(ExitCommandError, "failed to load config", err)
	}

	delay := cfg.Policy.ResponseDelaySeconds
	if cmd.Flags().Changed("delay") {
		delay = opts.Delay
	}
	if delay < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--delay must be non-negative, got %d", delay))
	}
	interactive := !opts.NonInteractive
	parallel := max(opts.Parallel, 1)
	if interactive {
		parallel = 1
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	runID := opts.RunID
	if runID == "" {
		gen := opts.IDGenerator
		if gen == nil {
			gen = runs.RandomSuffix{}
		}
		runID = runs.NewRunID("run", clk, gen)
	}
	logsDir := orDefault(opts.LogsDir, cfg.Paths.LogsDir)

	mgr := runs.NewManager(orDefault(opts.RunsDir, cfg.Paths.RunsDir), clk)
	run, err := mgr.Prepare(runID, runs.PrepareOptions{
		Clean:     opts.Clean,
		MemoryDir: opts.MemoryDir,
		Meta: map[string]any{
			"episode_ids": opts.EpisodeIDs,
			"logs_dir":    logsDir,
			"interactive": interactive,
		},
	})
	if err != nil {
		return out.fail(exitCodeFor(err), "failed to prepare run", err)
	}
	logger = logger.With("run_id", runID)
	logger.Info("run prepared", "dir", run.Paths.BaseDir, "fresh", run.Fresh, "memory_dir", run.Paths.MemoryDir)

	// Signal handling mirrors a long-running service: Ctrl-C cancels the
	// pending stage and any waiting approval prompt.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	mem, err := memory.Open(ctx, run.Paths.MemoryDir, memory.Options{
		Embedder: memory.NewHashingEmbedder(cfg.Memory.Dim),
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return out.fail(ExitFailure, "failed to open case memory", err)
	}
	defer func() {
		if closeErr := mem.Close(); closeErr != nil {
			logger.Error("error closing case memory", "error", closeErr)
		}
	}()

	m := metrics.New()
	approver := opts.Approver
	if approver == nil && interactive {
		approver = approval.NewConsole(cmd.InOrStdin(), cmd.ErrOrStderr(), opts.ApprovalTimeout, logger)
	}

	p, err := pipeline.New(pipeline.Deps{
		Logs:     logquery.New(logsDir),
		Assets:   assets.NewStatic(cfg.Assets.Inventory, cfg.Assets.Allowlists),
		Memory:   mem,
		Approver: approver,
		Executor: enforce.NewSimulated(mgr, clk),
		Audit: audit.NewSink(run.Decisions, mem, audit.Options{
			Window:  cfg.Policy.DedupWindow,
			Logger:  logger,
			Metrics: m,
		}),
		Policy:  &cfg.Policy,
		Clock:   clk,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return out.fail(ExitFailure, "failed to build pipeline", err)
	}

	states, runErr := triageEpisodes(ctx, p, opts.EpisodeIDs, parallel, pipeline.Input{
		RunID:                runID,
		ResponseDelaySeconds: delay,
		Interactive:          interactive,
		ActionsPath:          run.Paths.Actions,
	})
	writeMetrics(m, run.Paths.Metrics, logger)
	if runErr != nil {
		return out.fail(ExitFailure, "triage failed", runErr)
	}

	summary := runSummary{RunID: runID, RunDir: run.Paths.BaseDir, Fresh: run.Fresh}
	for _, s := range states {
		summary.Episodes = append(summary.Episodes, summarize(s))
	}
	return out.Success(summary)
}

// triageEpisodes runs the pipeline once per episode with at most parallel
// executions in flight. The first failure cancels the rest.
func triageEpisodes(ctx context.Context, p *pipeline.Pipeline, episodes []int, parallel int, base pipeline.Input) ([]*pipeline.State, error) {
	states := make([]*pipeline.State, len(episodes))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, ep := range episodes {
		g.Go(func() error {
			in := base
			in.EpisodeID = ep
			s, err := p.Run(ctx, in)
			if err != nil {
				return fmt.Errorf("episode %d: %w", ep, err)
			}
			states[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

func writeMetrics(m *metrics.Metrics, path string, logger *slog.Logger) {
	if err := m.WriteTextfile(path); err != nil {
		logger.Error("failed to write metrics", "path", path, "error", err)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
