package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/triage/internal/config"
	"github.com/roach88/triage/internal/judge"
	"github.com/roach88/triage/internal/runs"
)

// JudgeReportFile is the report name written inside a run directory.
const JudgeReportFile = "judge_mttd_mttr.csv"

// JudgeOptions holds flags for the judge command.
type JudgeOptions struct {
	*RootOptions
	RunID          string
	RunsDir        string
	Decisions      string
	Actions        string
	GroundTruthDir string
	Out            string
	ConfigPath     string
}

// NewJudgeCommand creates the judge command.
func NewJudgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JudgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Score a run's detection and response times",
		Long: `Compute MTTD and MTTR per episode against generated ground truth.

With --run-id the decision and action logs of that run are read and the
report is written into the run directory. Explicit --decisions, --actions
and --out override those paths.

Example:
  triage judge --run-id baseline
  triage judge --decisions d.jsonl --actions a.jsonl --ground-truth data/ground_truth --out results.csv`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJudge(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run whose logs are judged")
	cmd.Flags().StringVar(&opts.RunsDir, "runs-dir", "", "runs directory (default: config paths.runs_dir)")
	cmd.Flags().StringVar(&opts.Decisions, "decisions", "", "decision log (default: the run's decisions.jsonl)")
	cmd.Flags().StringVar(&opts.Actions, "actions", "", "action log (default: the run's enforcement_actions.jsonl)")
	cmd.Flags().StringVar(&opts.GroundTruthDir, "ground-truth", "", "ground truth directory (default: config paths.ground_truth_dir)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "CSV report path (default: <run dir>/"+JudgeReportFile+")")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config")

	return cmd
}

type judgeOutput struct {
	Report  string        `json:"report"`
	Summary judge.Summary `json:"summary"`
	Rows    []judge.Row   `json:"rows"`
}

func (j judgeOutput) renderText(w io.Writer) error {
	fmt.Fprintf(w, "report: %s\n", j.Report)
	fmt.Fprintf(w, "episodes=%d detected=%d blocked=%d\n", j.Summary.Episodes, j.Summary.Detected, j.Summary.Blocked)
	if j.Summary.MeanMTTD != nil {
		fmt.Fprintf(w, "mean MTTD: %.1fs\n", *j.Summary.MeanMTTD)
	}
	if j.Summary.MeanMTTR != nil {
		fmt.Fprintf(w, "mean MTTR: %.1fs\n", *j.Summary.MeanMTTR)
	}
	return nil
}

func runJudge(opts *JudgeOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return out.fail(ExitCommandError, "failed to load config", err)
	}

	decisions, actions, report := opts.Decisions, opts.Actions, opts.Out
	if opts.RunID != "" {
		paths := runs.NewManager(orDefault(opts.RunsDir, cfg.Paths.RunsDir), nil).PathsFor(opts.RunID)
		decisions = orDefault(decisions, paths.Decisions)
		actions = orDefault(actions, paths.Actions)
		report = orDefault(report, filepath.Join(paths.BaseDir, JudgeReportFile))
	}
	if decisions == "" || actions == "" || report == "" {
		return out.fail(ExitCommandError, "either --run-id or all of --decisions, --actions and --out are required", nil)
	}

	rows, err := judge.Report(judge.Options{
		GroundTruthDir: orDefault(opts.GroundTruthDir, cfg.Paths.GroundTruthDir),
		Decisions:      decisions,
		Actions:        actions,
		Logger:         logger,
	}, report)
	if err != nil {
		return out.fail(exitCodeFor(err), "judge failed", err)
	}
	logger.Info("report written", "path", report, "episodes", len(rows))
	return out.Success(judgeOutput{Report: report, Summary: judge.Summarize(rows), Rows: rows})
}
