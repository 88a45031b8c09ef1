package app

import (
	"context"
	"time"

	"connectomix/adapters/bids"
	"connectomix/domain/connectivity"
	"connectomix/domain/core"
	"connectomix/domain/region"
	"connectomix/domain/run"
	"connectomix/domain/series"
	"connectomix/domain/volume"
	"connectomix/internal"
	"connectomix/internal/censor"
	"connectomix/internal/config"
	"connectomix/internal/estimator"
	"connectomix/internal/extraction"
	"connectomix/internal/geometry"
	"connectomix/internal/qc"
	"connectomix/internal/signal"
	"connectomix/ports"
)

// Deps bundles the IO ports the participant pipeline reads and writes
// through. The engines stay internal; only the edges are injected.
type Deps struct {
	Volumes   ports.VolumePort
	Tables    ports.TableReaderPort
	Series    ports.TableWriterPort
	Masks     ports.MaskReaderPort
	Matrices  ports.MatrixWriterPort
	Sidecars  ports.SidecarWriterPort
	Workbooks ports.WorkbookExporterPort
}

// UnitRequest is one unit of work handed to the pipeline, together with
// the invocation-level inputs it shares with its siblings
type UnitRequest struct {
	Files      bids.RunFiles
	Spec       region.Spec
	AtlasName  string
	Invocation core.InvocationID
	ConfigHash core.ConfigHash
}

// UnitResult pairs the outcome record with the quality line the report
// shows for the unit. Quality is empty when the unit failed before a
// censoring plan existed.
type UnitResult struct {
	Outcome *run.Outcome
	Quality string
}

// ParticipantService runs the first-level analysis for single
// subject-run units: load, censor, extract, clean, estimate, write
type ParticipantService struct {
	deps   Deps
	layout *bids.Layout
	cfg    *config.Config

	guard     *geometry.Guard
	censorer  *censor.Engine
	extractor *extraction.Extractor
	cleaner   *signal.Cleaner
	estimate  *estimator.Estimator
	voxels    *estimator.VoxelMapper

	log *internal.Logger
}

// NewParticipantService wires the pipeline engines for one invocation.
// workers caps the voxelwise correlation fan-out inside a single unit.
func NewParticipantService(deps Deps, layout *bids.Layout, cfg *config.Config, workers int, logger *internal.Logger) (*ParticipantService, error) {
	shrink := cfg.Shrinkage
	if shrink == "" {
		shrink = string(estimator.ShrinkageAuto)
	}
	mode, err := estimator.ParseShrinkageMode(shrink)
	if err != nil {
		return nil, err
	}
	return &ParticipantService{
		deps:      deps,
		layout:    layout,
		cfg:       cfg,
		guard:     geometry.NewGuard(logger),
		censorer:  censor.NewEngine(logger),
		extractor: extraction.NewExtractor(logger),
		cleaner:   signal.NewCleaner(logger),
		estimate:  estimator.NewEstimator(logger, mode),
		voxels:    estimator.NewVoxelMapper(logger, workers),
		log:       logger.WithPrefix("participant"),
	}, nil
}

// ProcessUnit runs the pipeline for one subject-run. Errors never
// propagate: every failure is classified and recorded on the outcome.
// Narrow failures (one region, one measure, one artifact) degrade the
// unit to partial; anything earlier fails it outright.
func (s *ParticipantService) ProcessUnit(ctx context.Context, req UnitRequest) UnitResult {
	started := time.Now()
	outcome := run.NewOutcome(req.Files.Unit)
	outcome.Fingerprint = run.UnitFingerprint(req.Invocation, req.Files.Bold, req.ConfigHash, internal.Version)
	base := req.Files.Unit.Basename()

	if err := ctx.Err(); err != nil {
		return s.fail(outcome, started, err)
	}

	f, err := s.deps.Volumes.ReadFunctional(ctx, req.Files.Bold, req.Files.RepetitionTime)
	if err != nil {
		return s.fail(outcome, started, err)
	}
	s.log.Info("%s: %d volumes, TR %.3gs, grid %dx%dx%d",
		base, f.NumVolumes, f.TR, f.Grid.Nx, f.Grid.Ny, f.Grid.Nz)

	confounds, err := s.loadConfounds(ctx, req.Files)
	if err != nil {
		return s.fail(outcome, started, err)
	}
	events, err := s.loadEvents(ctx, req.Files)
	if err != nil {
		return s.fail(outcome, started, err)
	}
	crit, err := s.buildCriteria(ctx)
	if err != nil {
		return s.fail(outcome, started, err)
	}

	var brain *volume.Volume
	if req.Files.BrainMask != "" {
		brain, err = s.deps.Volumes.ReadVolume(ctx, req.Files.BrainMask)
		if err != nil {
			return s.fail(outcome, started, err)
		}
		brain, err = s.guard.ReconcileVolume(f.Grid, brain, "brain mask")
		if err != nil {
			return s.fail(outcome, started, err)
		}
	}

	spec, err := s.guard.Reconcile(f.Grid, req.Spec)
	if err != nil {
		return s.fail(outcome, started, err)
	}

	plan, err := s.censorer.Compute(f.NumVolumes, f.TR, confounds, events, crit)
	if err != nil {
		return s.fail(outcome, started, err)
	}
	outcome.OriginalVolumes = plan.Original
	outcome.RetainedVolumes = plan.Retained

	extracted, err := s.extractor.Extract(f, spec, brain, false)
	if err != nil {
		return s.fail(outcome, started, err)
	}
	for _, failure := range extracted.Failed {
		outcome.RecordFailure(failure.Err, failure.Name, "")
	}
	outcome.Regions = len(extracted.Regions)
	outcome.EmptyRegions = len(extracted.Failed)

	censored, confCensored, err := s.applyCensoring(extracted.Matrix, confounds, plan.Mask)
	if err != nil {
		return s.fail(outcome, started, err)
	}

	band := signal.Band{HighPassHz: s.cfg.HighPass, LowPassHz: s.cfg.LowPass}
	cleaned, err := s.cleaner.Clean(censored, confCensored, band, s.cfg.ConfoundColumns, f.TR, s.cfg.Standardize)
	if err != nil {
		return s.fail(outcome, started, err)
	}

	if s.cfg.Outputs.Timeseries {
		s.writeTimeSeries(ctx, outcome, cleaned)
	}

	prov := connectivity.Provenance{
		Method:          s.cfg.ParsedMethod(),
		HighPassHz:      s.cfg.HighPass,
		LowPassHz:       s.cfg.LowPass,
		OriginalVolumes: plan.Original,
		RetainedVolumes: plan.Retained,
		AtlasName:       req.AtlasName,
	}
	if s.cfg.ParsedMethod().IsVoxelwise() {
		s.produceVoxelMaps(ctx, outcome, req, spec, f, plan, cleaned, brain, prov)
	} else {
		s.produceMatrices(ctx, outcome, req, spec, cleaned, prov)
	}

	// a unit that wrote nothing has failed even when each recorded
	// failure alone was narrow
	if len(outcome.Artifacts) == 0 && outcome.Status != run.StatusFailed {
		outcome.Status = run.StatusFailed
	}

	quality := qc.Compute(confounds, plan.Mask, s.cfg.Censoring.FDColumn, s.cfg.Censoring.FDThreshold)
	s.log.Info("%s: %s", base, quality.Describe())

	outcome.Finish(time.Since(started))
	return UnitResult{Outcome: outcome, Quality: quality.Describe()}
}

// fail stamps a unit-level failure and finishes the outcome
func (s *ParticipantService) fail(outcome *run.Outcome, started time.Time, err error) UnitResult {
	outcome.RecordFailure(err, "", "")
	outcome.Finish(time.Since(started))
	s.log.Error("%s: %v", outcome.Unit.Basename(), err)
	return UnitResult{Outcome: outcome}
}

// loadConfounds reads the confound table when discovery found one. A
// missing table only matters when the config regresses confounds or
// censors on motion.
func (s *ParticipantService) loadConfounds(ctx context.Context, rf bids.RunFiles) (*series.ConfoundTable, error) {
	if rf.Confounds == "" {
		if len(s.cfg.ConfoundColumns) > 0 || s.cfg.Censoring.FDThreshold > 0 {
			return nil, core.NewNotFoundError("confounds table", rf.Unit.Basename())
		}
		return nil, nil
	}
	return s.deps.Tables.ReadConfounds(ctx, rf.Confounds)
}

// loadEvents reads the events table, required only when condition
// selection is enabled
func (s *ParticipantService) loadEvents(ctx context.Context, rf bids.RunFiles) (*series.EventTable, error) {
	if !s.cfg.Censoring.ConditionSelection.Enabled {
		return nil, nil
	}
	if rf.Events == "" {
		return nil, core.NewNotFoundError("events table", rf.Unit.Basename())
	}
	return s.deps.Tables.ReadEvents(ctx, rf.Events)
}

// buildCriteria maps the censoring config onto engine criteria, loading
// the custom retain vector when one is configured
func (s *ParticipantService) buildCriteria(ctx context.Context) (censor.Criteria, error) {
	cs := s.cfg.Censoring
	crit := censor.Criteria{
		DropInitial:      cs.DropInitialVolumes,
		MinSegmentLength: cs.MinSegmentLength,
		MinVolumes:       cs.ConditionSelection.MinVolumesRetained,
		MinFraction:      cs.ConditionSelection.MinFractionRetained,
		WarnFraction:     cs.ConditionSelection.WarnFractionRetained,
	}
	if cs.FDThreshold > 0 {
		crit.MotionColumn = cs.FDColumn
		crit.MotionThreshold = cs.FDThreshold
	}
	if cs.ConditionSelection.Enabled {
		crit.Conditions = cs.ConditionSelection.Conditions
		crit.TransitionBuffer = cs.ConditionSelection.TransitionBuffer
	}
	if cs.CustomMaskFile != "" {
		keep, err := s.deps.Masks.ReadMask(ctx, cs.CustomMaskFile)
		if err != nil {
			return censor.Criteria{}, err
		}
		crit.CustomMask = keep
	}
	return crit, nil
}

// applyCensoring drops censored rows from the signals and, when present,
// the confound table, keeping the two index-aligned
func (s *ParticipantService) applyCensoring(m *series.TimeSeriesMatrix, confounds *series.ConfoundTable, mask series.CensorMask) (*series.TimeSeriesMatrix, *series.ConfoundTable, error) {
	if confounds == nil {
		censored, err := m.Retain(mask)
		return censored, nil, err
	}
	return series.ApplyCensor(m, confounds, mask)
}

func (s *ParticipantService) writeTimeSeries(ctx context.Context, outcome *run.Outcome, m *series.TimeSeriesMatrix) {
	path := s.layout.TimeSeriesPath(outcome.Unit, s.cfg.ParsedMethod())
	if err := s.deps.Series.WriteTimeSeries(ctx, path, m); err != nil {
		outcome.RecordFailure(err, "", "timeseries")
		return
	}
	outcome.AddArtifact(path)
}

// produceMatrices estimates every configured measure and writes each
// surviving matrix with its sidecar, plus the optional workbook
func (s *ParticipantService) produceMatrices(ctx context.Context, outcome *run.Outcome, req UnitRequest, spec region.Spec, cleaned *series.TimeSeriesMatrix, prov connectivity.Provenance) {
	method := s.cfg.ParsedMethod()
	measures := s.cfg.ParsedMeasures()

	estimates, failures := s.estimate.Estimate(cleaned, measures, prov)
	written := make([]*connectivity.Matrix, 0, len(estimates))
	for _, measure := range measures {
		if err, ok := failures[measure]; ok {
			outcome.RecordFailure(err, "", string(measure))
			continue
		}
		m, ok := estimates[measure]
		if !ok {
			continue
		}
		path := s.layout.MatrixPath(outcome.Unit, method, measure)
		if err := s.deps.Matrices.WriteMatrix(ctx, path, m); err != nil {
			outcome.RecordFailure(err, "", string(measure))
			continue
		}
		outcome.AddArtifact(path)
		sidecar := s.buildSidecar(string(measure), m.Labels, spec, m.Provenance, req)
		if err := s.deps.Sidecars.WriteSidecar(ctx, s.layout.SidecarPath(path), sidecar); err != nil {
			outcome.RecordFailure(err, "", string(measure))
			continue
		}
		written = append(written, m)
	}

	if s.cfg.Outputs.Xlsx && len(written) > 0 {
		path := s.layout.WorkbookPath(outcome.Unit, method)
		if err := s.deps.Workbooks.ExportMatrices(ctx, path, written); err != nil {
			outcome.RecordFailure(err, "", "workbook")
			return
		}
		outcome.AddArtifact(path)
	}
}

// produceVoxelMaps correlates each region signal against every in-brain
// voxel and writes one map per region
func (s *ParticipantService) produceVoxelMaps(ctx context.Context, outcome *run.Outcome, req UnitRequest, spec region.Spec, f *volume.Functional, plan *censor.Plan, cleaned *series.TimeSeriesMatrix, brain *volume.Volume, prov connectivity.Provenance) {
	var brainIdx []int
	if brain != nil {
		brainIdx = brain.Binarize(0)
	}
	maps, err := s.voxels.Map(ctx, f, plan.Mask, cleaned, brainIdx, prov)
	if err != nil {
		outcome.RecordFailure(err, "", "")
		return
	}

	method := s.cfg.ParsedMethod()
	for _, vm := range maps {
		path := s.layout.MapPath(outcome.Unit, method, vm.RegionName)
		if err := s.deps.Volumes.WriteVolume(ctx, path, vm.Values); err != nil {
			outcome.RecordFailure(err, vm.RegionName, "")
			continue
		}
		outcome.AddArtifact(path)
		sidecar := s.buildSidecar(string(vm.Measure), []string{vm.RegionName}, spec, vm.Provenance, req)
		if err := s.deps.Sidecars.WriteSidecar(ctx, s.layout.SidecarPath(path), sidecar); err != nil {
			outcome.RecordFailure(err, vm.RegionName, "")
		}
	}
}

// buildSidecar assembles the provenance payload for one artifact.
// labels lists the regions the artifact covers, in artifact order; for
// seed methods each label's center travels along.
func (s *ParticipantService) buildSidecar(kind string, labels []string, spec region.Spec, prov connectivity.Provenance, req UnitRequest) bids.Sidecar {
	sc := bids.Sidecar{
		Method:             string(prov.Method),
		ConnectivityKind:   kind,
		RegionLabels:       labels,
		OriginalVolumes:    prov.OriginalVolumes,
		RetainedVolumes:    prov.RetainedVolumes,
		HighPassHz:         prov.HighPassHz,
		LowPassHz:          prov.LowPassHz,
		ConfoundColumns:    s.cfg.ConfoundColumns,
		ShrinkageApplied:   prov.ShrinkageApplied,
		ShrinkageIntensity: prov.ShrinkageIntensity,
		Atlas:              prov.AtlasName,
		InvocationID:       req.Invocation.String(),
		ConfigHash:         req.ConfigHash.String(),
		SoftwareVersion:    internal.Version,
	}
	if spec.Kind == region.KindSeeds {
		sc.SeedRadiusMM = s.cfg.Radius
		byName := make(map[string]region.Seed, len(spec.Seeds))
		for _, seed := range spec.Seeds {
			byName[seed.Name] = seed
		}
		coords := make([][3]float64, 0, len(labels))
		for _, label := range labels {
			if seed, ok := byName[label]; ok {
				coords = append(coords, [3]float64{seed.X, seed.Y, seed.Z})
			}
		}
		sc.RegionCoordinates = coords
	}
	return sc
}
