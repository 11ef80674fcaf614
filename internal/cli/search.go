package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/triage/internal/config"
	"github.com/roach88/triage/internal/logquery"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	LogsDir    string
	ConfigPath string
	EpisodeID  int
	Query      string
	Start      string
	End        string
	Filters    []string
	TagsAny    []string
	TagsAll    []string
	Limit      int
	Agg        string
	Field      string
	K          int
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query episode logs",
		Long: `Search episode logs with time, field, tag and free-text predicates.

Without --episode-id every episode_*.jsonl file in the logs directory is
scanned in name order. --query accepts "field:value" for an exact match on
one field, or free text matched case-insensitively against the event.

Example:
  triage search --episode-id 2 --tags-any burst --limit 5
  triage search --query host:db-01 --start 2026-02-19T10:20:00Z --end 2026-02-19T10:25:00Z
  triage search --episode-id 1 --filter severity=low --limit 0 --agg top_k --field user --k 3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.LogsDir, "logs-dir", "", "episode logs directory (default: config paths.logs_dir)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config")
	cmd.Flags().IntVar(&opts.EpisodeID, "episode-id", 0, "episode to search (default: all)")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", `"field:value" or free text`)
	cmd.Flags().StringVar(&opts.Start, "start", "", "inclusive lower timestamp bound")
	cmd.Flags().StringVar(&opts.End, "end", "", "inclusive upper timestamp bound")
	cmd.Flags().StringArrayVar(&opts.Filters, "filter", nil, "exact field match key=value (repeatable)")
	cmd.Flags().StringSliceVar(&opts.TagsAny, "tags-any", nil, "match events carrying any of these tags")
	cmd.Flags().StringSliceVar(&opts.TagsAll, "tags-all", nil, "match events carrying all of these tags")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum events returned (0 returns only aggregates)")
	cmd.Flags().StringVar(&opts.Agg, "agg", "", "aggregation: count|top_k")
	cmd.Flags().StringVar(&opts.Field, "field", "", "field to rank for top_k")
	cmd.Flags().IntVar(&opts.K, "k", logquery.DefaultTopK, "number of top_k buckets")

	return cmd
}

// searchOutput wraps a result for text rendering.
type searchOutput struct {
	*logquery.Result
}

func (s searchOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Result)
}

func (s searchOutput) renderText(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, ev := range s.Events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "matched=%d returned=%d\n", s.Matched, s.Returned)
	if agg := s.Aggregation; agg != nil {
		if agg.Count != nil {
			fmt.Fprintf(w, "count=%d\n", *agg.Count)
		}
		for _, b := range agg.TopK {
			fmt.Fprintf(w, "%s\t%d\n", b.Value, b.Count)
		}
	}
	return nil
}

func buildRequest(opts *SearchOptions, cmd *cobra.Command) (logquery.Request, error) {
	fields, err := logquery.ParseFilters(opts.Filters)
	if err != nil {
		return logquery.Request{}, err
	}
	req := logquery.Request{
		Query: opts.Query,
		Start: opts.Start,
		End:   opts.End,
		Filters: logquery.Filters{
			Fields:  fields,
			TagsAny: opts.TagsAny,
			TagsAll: opts.TagsAll,
		},
		Limit: opts.Limit,
	}
	if cmd.Flags().Changed("episode-id") {
		req.EpisodeID = logquery.Episode(opts.EpisodeID)
	}
	if opts.Agg != "" {
		req.Aggregation = &logquery.Aggregation{
			Type:  logquery.AggregationType(opts.Agg),
			Field: opts.Field,
			K:     logquery.Buckets(opts.K),
		}
	}
	return req, nil
}

func runSearch(opts *SearchOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)

	logsDir := opts.LogsDir
	if logsDir == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return out.fail(ExitCommandError, "failed to load config", err)
		}
		logsDir = cfg.Paths.LogsDir
	}

	req, err := buildRequest(opts, cmd)
	if err != nil {
		return out.fail(ExitCommandError, "invalid search", err)
	}
	logger.Debug("search", "logs_dir", logsDir, "query", req.Query, "limit", req.Limit)

	res, err := logquery.New(logsDir).Search(cmd.Context(), req)
	if err != nil {
		return out.fail(exitCodeFor(err), "search failed", err)
	}
	return out.Success(searchOutput{res})
}
