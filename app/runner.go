package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"connectomix/adapters/bids"
	"connectomix/domain/core"
	"connectomix/domain/region"
	"connectomix/domain/run"
	"connectomix/internal"
	"connectomix/internal/config"
	"connectomix/ports"

	"golang.org/x/sync/semaphore"
)

// RunnerDeps bundles the invocation-level collaborators. Ledger is
// always set and feeds the report; Archive is an optional second sink
// (the database) and may be nil.
type RunnerDeps struct {
	Walker   *bids.Walker
	Layout   *bids.Layout
	Resolver *RegionResolver
	Service  *ParticipantService
	Ledger   ports.LedgerPort
	Archive  ports.LedgerWriterPort
	Reporter ports.ReportPort
}

// RunResult summarizes a finished invocation for the CLI
type RunResult struct {
	Invocation core.InvocationID
	Total      int
	Succeeded  int
	Partial    int
	Failed     int
	ReportPath string
	Elapsed    time.Duration
}

// Runner drives one participant-level invocation end to end: discovery,
// region resolution, parallel unit processing, ledger records and the
// report
type Runner struct {
	deps RunnerDeps
	cfg  *config.Config
	env  config.Environment
	log  *internal.Logger
}

// NewRunner creates a runner for one invocation
func NewRunner(deps RunnerDeps, cfg *config.Config, env config.Environment, logger *internal.Logger) *Runner {
	return &Runner{deps: deps, cfg: cfg, env: env, log: logger.WithPrefix("runner")}
}

// Run executes the analysis over every unit the dataset and filters
// yield. The returned error covers invocation-level problems only;
// per-unit failures land in the result counts and the ledger.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	started := time.Now()

	files, err := r.deps.Walker.Discover(ctx, bids.Filters{
		Subjects: r.cfg.Subjects,
		Tasks:    r.cfg.Tasks,
		Sessions: r.cfg.Sessions,
		Runs:     r.cfg.Runs,
		Spaces:   r.cfg.Spaces,
	})
	if err != nil {
		return nil, err
	}

	spec, atlasName, err := r.deps.Resolver.Resolve(ctx, r.cfg, r.env.AtlasDir)
	if err != nil {
		return nil, err
	}

	hash, err := r.cfg.Hash()
	if err != nil {
		return nil, err
	}
	units := make([]run.Unit, len(files))
	for i, rf := range files {
		units[i] = rf.Unit
	}
	fp := run.NewFingerprint(hash, r.cfg.Method, strings.Join(r.cfg.Measures, ","), internal.Version)
	manifest := run.NewManifest(fp, r.deps.Walker.Root(), r.deps.Layout.Root(), units)
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	r.log.Info("invocation %s: %d units, config %s", manifest.InvocationID, len(units), hash.Short())

	if err := r.deps.Layout.WriteDescription(internal.Version); err != nil {
		return nil, err
	}
	resolved, err := r.cfg.Marshal()
	if err != nil {
		return nil, err
	}
	if _, err := r.deps.Layout.WriteConfigBackup(ctx, manifest.InvocationID, resolved); err != nil {
		return nil, err
	}

	r.record("invocation record", func(sink ports.LedgerWriterPort) error {
		return sink.RecordInvocation(ctx, manifest)
	})

	results := r.processAll(ctx, manifest, files, spec, atlasName, hash)

	inv := manifest.InvocationID
	outcomes, err := r.deps.Ledger.ListOutcomes(ctx, ports.OutcomeFilters{Invocation: &inv})
	if err != nil {
		r.log.Warn("ledger read-back failed, reporting from in-flight results: %v", err)
		outcomes = make([]run.Outcome, 0, len(results))
		for _, res := range results {
			outcomes = append(outcomes, *res.Outcome)
		}
	}

	quality := make(map[core.RunKey]string, len(results))
	for _, res := range results {
		if res.Quality != "" {
			quality[res.Outcome.Unit.Key()] = res.Quality
		}
	}

	data := ports.ReportData{
		Manifest: manifest,
		Outcomes: outcomes,
		Settings: reportSettings(r.cfg, r.env),
		Quality:  quality,
		Elapsed:  time.Since(started),
		Version:  internal.Version,
	}
	data.Count()

	r.record("completion record", func(sink ports.LedgerWriterPort) error {
		return sink.CompleteInvocation(ctx, inv, data.Succeeded, data.Failed)
	})

	reportPath := ""
	if r.cfg.Outputs.Report {
		reportPath = r.deps.Layout.ReportPath(inv)
		if err := r.deps.Reporter.WriteReport(ctx, reportPath, data); err != nil {
			r.log.Warn("report generation failed: %v", err)
			reportPath = ""
		}
	}

	r.log.Info("invocation %s: %d/%d units succeeded (%d partial, %d failed) in %s",
		inv, data.Succeeded, len(results), data.Partial, data.Failed,
		data.Elapsed.Round(time.Millisecond))

	return &RunResult{
		Invocation: inv,
		Total:      len(results),
		Succeeded:  data.Succeeded,
		Partial:    data.Partial,
		Failed:     data.Failed,
		ReportPath: reportPath,
		Elapsed:    data.Elapsed,
	}, nil
}

type indexedResult struct {
	idx    int
	result UnitResult
}

// processAll fans units out across the configured worker count. Each
// result carries its unit's discovery index, so results parallel files.
func (r *Runner) processAll(ctx context.Context, manifest *run.Manifest, files []bids.RunFiles, spec region.Spec, atlasName string, hash core.ConfigHash) []UnitResult {
	workers := r.env.Workers
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	results := make([]UnitResult, len(files))
	resultCh := make(chan indexedResult, len(files))

	dispatched := 0
	for i, rf := range files {
		if err := sem.Acquire(ctx, 1); err != nil {
			// cancelled: the remaining units never start
			for j := i; j < len(files); j++ {
				outcome := run.NewOutcome(files[j].Unit)
				outcome.RecordFailure(err, "", "")
				outcome.Finish(0)
				results[j] = UnitResult{Outcome: outcome}
			}
			break
		}
		dispatched++
		go func(i int, rf bids.RunFiles) {
			defer sem.Release(1)
			result := r.deps.Service.ProcessUnit(ctx, UnitRequest{
				Files:      rf,
				Spec:       spec,
				AtlasName:  atlasName,
				Invocation: manifest.InvocationID,
				ConfigHash: hash,
			})
			r.record("outcome record", func(sink ports.LedgerWriterPort) error {
				return sink.RecordOutcome(ctx, manifest.InvocationID, result.Outcome)
			})
			resultCh <- indexedResult{idx: i, result: result}
		}(i, rf)
	}

	for n := 0; n < dispatched; n++ {
		ir := <-resultCh
		results[ir.idx] = ir.result
	}
	return results
}

// record applies one write to every ledger sink. Ledger failures never
// stop the analysis; artifacts stay file-based.
func (r *Runner) record(op string, write func(ports.LedgerWriterPort) error) {
	sinks := []ports.LedgerWriterPort{r.deps.Ledger}
	if r.deps.Archive != nil {
		sinks = append(sinks, r.deps.Archive)
	}
	for _, sink := range sinks {
		if err := write(sink); err != nil {
			r.log.Warn("%s failed: %v", op, err)
		}
	}
}

// reportSettings lists the resolved options a reader of the report needs
// to interpret the outputs
func reportSettings(cfg *config.Config, env config.Environment) []ports.Setting {
	settings := []ports.Setting{
		{Name: "method", Value: cfg.Method},
		{Name: "connectivity kinds", Value: strings.Join(cfg.Measures, ", ")},
	}
	switch {
	case cfg.ParsedMethod().UsesSeeds():
		source := cfg.SeedsFile
		if source == "" {
			source = fmt.Sprintf("%d inline seeds", len(cfg.Seeds))
		}
		settings = append(settings,
			ports.Setting{Name: "seeds", Value: source},
			ports.Setting{Name: "radius", Value: fmt.Sprintf("%g mm", cfg.Radius)})
	case len(cfg.RoiMasks) > 0:
		settings = append(settings,
			ports.Setting{Name: "roi masks", Value: fmt.Sprintf("%d files", len(cfg.RoiMasks))})
	default:
		settings = append(settings, ports.Setting{Name: "atlas", Value: cfg.Atlas})
	}
	if cfg.Denoising != "" {
		settings = append(settings, ports.Setting{Name: "denoising", Value: cfg.Denoising})
	}
	if len(cfg.ConfoundColumns) > 0 {
		settings = append(settings,
			ports.Setting{Name: "confound columns", Value: strings.Join(cfg.ConfoundColumns, ", ")})
	}
	if cfg.HighPass > 0 || cfg.LowPass > 0 {
		settings = append(settings, ports.Setting{Name: "band", Value: formatBand(cfg.HighPass, cfg.LowPass)})
	}
	if cfg.Censoring.FDThreshold > 0 {
		settings = append(settings,
			ports.Setting{Name: "fd threshold", Value: fmt.Sprintf("%g mm", cfg.Censoring.FDThreshold)})
	}
	if cfg.Censoring.DropInitialVolumes > 0 {
		settings = append(settings,
			ports.Setting{Name: "drop initial volumes", Value: strconv.Itoa(cfg.Censoring.DropInitialVolumes)})
	}
	if cs := cfg.Censoring.ConditionSelection; cs.Enabled {
		settings = append(settings,
			ports.Setting{Name: "conditions", Value: strings.Join(cs.Conditions, ", ")})
	}
	return append(settings,
		ports.Setting{Name: "standardize", Value: strconv.FormatBool(cfg.Standardize)},
		ports.Setting{Name: "shrinkage", Value: cfg.Shrinkage},
		ports.Setting{Name: "workers", Value: strconv.Itoa(env.Workers)})
}

func formatBand(hp, lp float64) string {
	switch {
	case hp > 0 && lp > 0:
		return fmt.Sprintf("%g to %g Hz", hp, lp)
	case hp > 0:
		return fmt.Sprintf("high-pass %g Hz", hp)
	default:
		return fmt.Sprintf("low-pass %g Hz", lp)
	}
}
