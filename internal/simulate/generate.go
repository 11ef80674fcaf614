package simulate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/triage/internal/assets"
	"github.com/roach88/triage/internal/clock"
	"github.com/roach88/triage/internal/logquery"
	"github.com/roach88/triage/internal/model"
)

// Defaults.
const (
	DefaultEpisodes = 10
	DefaultBaseSeed = 1337
	DefaultNoise    = 2000
)

// BaseStart is the start of episode 0; episode n starts 10 minutes per
// episode later.
var BaseStart = time.Date(2026, 2, 19, 10, 0, 0, 0, time.UTC)

// DefaultUsers are the identities background noise is attributed to.
var DefaultUsers = []string{"alice", "bob", "svc_backup", "admin"}

// Window is an inclusive time interval.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Indicators are the observables an analyst should find for the scenario.
type Indicators struct {
	SrcIPs []string `json:"src_ips"`
	DstIPs []string `json:"dst_ips"`
	Hosts  []string `json:"hosts"`
	Users  []string `json:"users"`
}

// GroundTruth describes what was injected into one episode.
type GroundTruth struct {
	EpisodeID          int        `json:"episode_id"`
	Seed               int64      `json:"seed"`
	ScenarioName       string     `json:"scenario_name"`
	TechniqueIDs       []string   `json:"technique_ids"`
	T0                 string     `json:"t0"`
	InjectedWindow     Window     `json:"injected_window"`
	ExpectedIndicators Indicators `json:"expected_indicators"`
}

// Episode is one generated episode.
type Episode struct {
	Events      []model.Event
	GroundTruth GroundTruth
}

// Options configures a Generator.
type Options struct {
	// BaseSeed is added to the episode id to seed each episode.
	BaseSeed int64

	// Noise is the number of benign events per episode.
	Noise int

	// Inventory defaults to assets.DefaultInventory().
	Inventory []model.Asset

	// Users defaults to DefaultUsers.
	Users []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Generator produces deterministic episodes.
//
// Thread-safety: Generator is immutable; Episode and Write are safe for
// concurrent use.
type Generator struct {
	opts Options
}

// New creates a generator.
func New(opts Options) *Generator {
	if opts.Inventory == nil {
		opts.Inventory = assets.DefaultInventory()
	}
	if opts.Users == nil {
		opts.Users = DefaultUsers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Generator{opts: opts}
}

// Episode generates episode ep.
func (g *Generator) Episode(ep int) Episode {
	seed := g.opts.BaseSeed + int64(ep)
	r := &rng{r: rand.New(rand.NewPCG(uint64(seed), 0))}
	start := BaseStart.Add(time.Duration(ep) * 10 * time.Minute)
	sc := ScenarioFor(ep)

	events := g.noise(r, ep, seed, start)
	injected, window, ind := g.inject(r, ep, seed, start, sc)
	events = append(events, injected...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })

	return Episode{
		Events: events,
		GroundTruth: GroundTruth{
			EpisodeID:          ep,
			Seed:               seed,
			ScenarioName:       sc.Name,
			TechniqueIDs:       append([]string(nil), sc.TechniqueIDs...),
			T0:                 clock.Format(start),
			InjectedWindow:     window,
			ExpectedIndicators: ind,
		},
	}
}

func (g *Generator) noise(r *rng, ep int, seed int64, start time.Time) []model.Event {
	processes := []*string{model.Str("chrome.exe"), model.Str("sshd"), model.Str("systemd"), model.Str("python"), nil}

	events := make([]model.Event, 0, max(g.opts.Noise, 0))
	for range g.opts.Noise {
		ts := start.Add(time.Duration(r.between(1, 600)) * time.Second)
		asset := pick(r, g.opts.Inventory)
		user := pick(r, g.opts.Users)

		eventType := pick(r, []string{"auth", "network", "process"})
		var action, outcome string
		switch eventType {
		case "auth":
			action = pick(r, []string{"login_attempt", "logout"})
			outcome = pick(r, []string{"success", "fail"})
		case "network":
			action = pick(r, []string{"connect", "dns_query"})
			outcome = "success"
		default:
			action = pick(r, []string{"process_start", "process_end"})
			outcome = "success"
		}

		events = append(events, model.Event{
			Timestamp:   clock.Format(ts),
			EpisodeID:   ep,
			Seed:        seed,
			EventType:   eventType,
			Host:        asset.Host,
			User:        model.Str(user),
			SrcIP:       model.Str(asset.IP),
			Action:      action,
			Outcome:     outcome,
			Severity:    model.SeverityLow,
			ProcessName: pick(r, processes),
			Tags:        []string{"benign"},
		})
	}
	return events
}

func (g *Generator) inject(r *rng, ep int, seed int64, start time.Time, sc Scenario) ([]model.Event, Window, Indicators) {
	injectStart := start.Add(60 * time.Second)
	injectEnd := start.Add(180 * time.Second)

	src := pick(r, byRole(g.opts.Inventory, "workstation"))
	dst := pick(r, byRole(g.opts.Inventory, pick(r, []string{"web", "db", "jumpbox"})))
	user := pick(r, []string{"admin", "alice", "bob"})

	at := func(offset int) string {
		return clock.Format(injectStart.Add(time.Duration(offset) * time.Second))
	}
	base := func(offset int, eventType, host, srcIP string, dstIP *string) model.Event {
		return model.Event{
			Timestamp: at(offset),
			EpisodeID: ep,
			Seed:      seed,
			EventType: eventType,
			Host:      host,
			User:      model.Str(user),
			SrcIP:     model.Str(srcIP),
			DstIP:     dstIP,
			Outcome:   "success",
		}
	}

	var events []model.Event
	switch sc.Name {
	case ScenarioValidAccount:
		login := base(0, "auth", dst.Host, src.IP, model.Str(dst.IP))
		login.Action, login.Severity = "login_success", model.SeverityHigh
		login.Tags = []string{"suspicious", "auth"}

		proc := base(30, "process", dst.Host, dst.IP, nil)
		proc.Action, proc.Severity = "process_start", model.SeverityMedium
		proc.ProcessName = model.Str("unknown_tool")
		proc.Tags = []string{"post_auth"}
		events = append(events, login, proc)

	case ScenarioBruteforce:
		for k := range 6 {
			ev := base(10*k, "auth", dst.Host, src.IP, model.Str(dst.IP))
			ev.Action, ev.Outcome, ev.Severity = "login_attempt", "fail", model.SeverityMedium
			ev.Tags = []string{"auth", "burst"}
			events = append(events, ev)
		}
		ok := base(65, "auth", dst.Host, src.IP, model.Str(dst.IP))
		ok.Action, ok.Severity = "login_success", model.SeverityHigh
		ok.Tags = []string{"auth", "success_after_fail"}
		events = append(events, ok)

	case ScenarioLateralMovement:
		conn := base(20, "network", src.Host, src.IP, model.Str(dst.IP))
		conn.Action, conn.Severity = "connect_remote_service", model.SeverityHigh
		conn.Tags = []string{"lateral_like"}

		auth := base(45, "auth", dst.Host, src.IP, model.Str(dst.IP))
		auth.Action, auth.Severity = "remote_auth_success", model.SeverityHigh
		auth.Tags = []string{"lateral_like", "auth"}
		events = append(events, conn, auth)
	}

	window := Window{Start: clock.Format(injectStart), End: clock.Format(injectEnd)}
	ind := Indicators{
		SrcIPs: []string{src.IP},
		DstIPs: []string{dst.IP},
		Hosts:  []string{src.Host, dst.Host},
		Users:  []string{user},
	}
	return events, window, ind
}

// Write generates episodes 1..episodes, writing logsDir/episode_NNN.jsonl
// and groundTruthDir/episode_NNN.json. Existing files are replaced.
func (g *Generator) Write(logsDir, groundTruthDir string, episodes int) error {
	if episodes < 1 {
		return model.Validation("generate", "episodes must be positive, got %d", episodes)
	}
	if g.opts.Noise < 0 {
		return model.Validation("generate", "noise must be non-negative, got %d", g.opts.Noise)
	}
	for _, dir := range []string{logsDir, groundTruthDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	for ep := 1; ep <= episodes; ep++ {
		e := g.Episode(ep)

		logPath := logquery.EpisodePath(logsDir, ep)
		if err := writeEvents(logPath, e.Events); err != nil {
			return err
		}

		gt, err := json.MarshalIndent(e.GroundTruth, "", "  ")
		if err != nil {
			return fmt.Errorf("encode ground truth: %w", err)
		}
		gtPath := GroundTruthPath(groundTruthDir, ep)
		if err := os.WriteFile(gtPath, append(gt, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", gtPath, err)
		}

		g.opts.Logger.Info("episode generated",
			"episode_id", ep,
			"scenario", e.GroundTruth.ScenarioName,
			"events", len(e.Events),
			"log", logPath,
			"ground_truth", gtPath,
		)
	}
	return nil
}

// GroundTruthPath returns dir/episode_NNN.json.
func GroundTruthPath(dir string, ep int) string {
	return filepath.Join(dir, fmt.Sprintf("episode_%03d.json", ep))
}

func writeEvents(path string, events []model.Event) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func byRole(inventory []model.Asset, role string) []model.Asset {
	var out []model.Asset
	for _, a := range inventory {
		if a.Role == role {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return inventory
	}
	return out
}

// rng wraps a seeded source with the two draws the generator needs.
type rng struct {
	r *rand.Rand
}

// between returns a uniform integer in [lo, hi].
func (r *rng) between(lo, hi int) int {
	return lo + r.r.IntN(hi-lo+1)
}

func pick[T any](r *rng, items []T) T {
	return items[r.r.IntN(len(items))]
}
