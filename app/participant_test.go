package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"connectomix/adapters/bids"
	"connectomix/adapters/nifti"
	"connectomix/adapters/npy"
	"connectomix/domain/connectivity"
	"connectomix/domain/core"
	"connectomix/domain/region"
	"connectomix/domain/run"
	"connectomix/internal/config"
	"connectomix/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type matrixWriterFunc func(ctx context.Context, path string, m *connectivity.Matrix) error

func (f matrixWriterFunc) WriteMatrix(ctx context.Context, path string, m *connectivity.Matrix) error {
	return f(ctx, path, m)
}

type workbookExporterFunc func(ctx context.Context, path string, matrices []*connectivity.Matrix) error

func (f workbookExporterFunc) ExportMatrices(ctx context.Context, path string, matrices []*connectivity.Matrix) error {
	return f(ctx, path, matrices)
}

func writeTestUnit(t *testing.T, root string) (bids.RunFiles, []testkit.Cluster) {
	t.Helper()
	gen := testkit.NewGenerator(testkit.DefaultSyntheticConfig())
	unit := run.Unit{Subject: "01", Task: "rest", Space: "MNI152NLin2009cAsym"}
	clusters, err := gen.WriteUnit(context.Background(), root, unit)
	require.NoError(t, err)

	walker := bids.NewWalker(root, quietLogger())
	files, err := walker.Discover(context.Background(), bids.Filters{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	return files[0], clusters
}

func seedsFromClusters(t *testing.T, clusters []testkit.Cluster) region.Spec {
	t.Helper()
	seeds := make([]region.Seed, len(clusters))
	for i, c := range clusters {
		seeds[i] = region.Seed{Name: c.Name, X: c.CenterMM[0], Y: c.CenterMM[1], Z: c.CenterMM[2], Radius: 4}
	}
	spec, err := region.NewSeedsSpec(seeds)
	require.NoError(t, err)
	return spec
}

func unitConfig(measures ...string) *config.Config {
	cfg := config.Default()
	cfg.Method = string(connectivity.MethodSeedToSeed)
	cfg.Measures = measures
	cfg.Atlas = ""
	cfg.Standardize = false
	cfg.Outputs = config.OutputsConfig{}
	return cfg
}

func buildService(t *testing.T, deps Deps, outRoot string, cfg *config.Config) *ParticipantService {
	t.Helper()
	svc, err := NewParticipantService(deps, bids.NewLayout(outRoot), cfg, 1, quietLogger())
	require.NoError(t, err)
	return svc
}

func unitRequest(t *testing.T, cfg *config.Config, files bids.RunFiles, spec region.Spec) UnitRequest {
	t.Helper()
	hash, err := cfg.Hash()
	require.NoError(t, err)
	return UnitRequest{
		Files:      files,
		Spec:       spec,
		Invocation: core.NewInvocationID(),
		ConfigHash: hash,
	}
}

func TestProcessUnitPartialOnMatrixWriteFailure(t *testing.T) {
	files, clusters := writeTestUnit(t, t.TempDir())
	spec := seedsFromClusters(t, clusters)

	codec := nifti.NewCodec(quietLogger())
	tables := bids.NewTables(quietLogger())
	store := npy.NewStore(quietLogger())

	var wrote []string
	deps := Deps{
		Volumes: codec,
		Tables:  tables,
		Series:  tables,
		Masks:   store,
		Matrices: matrixWriterFunc(func(ctx context.Context, path string, m *connectivity.Matrix) error {
			if m.Measure == connectivity.MeasureCovariance {
				return fmt.Errorf("write %s: disk full", path)
			}
			wrote = append(wrote, path)
			return store.WriteMatrix(ctx, path, m)
		}),
		Sidecars:  bids.NewSidecarWriter(),
		Workbooks: workbookExporterFunc(func(context.Context, string, []*connectivity.Matrix) error { return nil }),
	}

	cfg := unitConfig("correlation", "covariance")
	svc := buildService(t, deps, t.TempDir(), cfg)
	res := svc.ProcessUnit(context.Background(), unitRequest(t, cfg, files, spec))

	assert.Equal(t, run.StatusPartial, res.Outcome.Status)
	require.Len(t, res.Outcome.Failures, 1)
	assert.Equal(t, string(connectivity.MeasureCovariance), res.Outcome.Failures[0].Measure)
	assert.Equal(t, core.FailureIO, res.Outcome.Failures[0].Class)
	assert.Len(t, wrote, 1)
	assert.Equal(t, wrote, res.Outcome.Artifacts)
}

func TestProcessUnitFailsWhenNothingWritten(t *testing.T) {
	files, clusters := writeTestUnit(t, t.TempDir())
	spec := seedsFromClusters(t, clusters)

	deps := Deps{
		Volumes: nifti.NewCodec(quietLogger()),
		Tables:  bids.NewTables(quietLogger()),
		Series:  bids.NewTables(quietLogger()),
		Masks:   npy.NewStore(quietLogger()),
		Matrices: matrixWriterFunc(func(ctx context.Context, path string, m *connectivity.Matrix) error {
			return fmt.Errorf("write %s: disk full", path)
		}),
		Sidecars:  bids.NewSidecarWriter(),
		Workbooks: workbookExporterFunc(func(context.Context, string, []*connectivity.Matrix) error { return nil }),
	}

	cfg := unitConfig("correlation")
	svc := buildService(t, deps, t.TempDir(), cfg)
	res := svc.ProcessUnit(context.Background(), unitRequest(t, cfg, files, spec))

	assert.Equal(t, run.StatusFailed, res.Outcome.Status)
	assert.Empty(t, res.Outcome.Artifacts)
	require.Len(t, res.Outcome.Failures, 1)
	assert.Equal(t, string(connectivity.MeasureCorrelation), res.Outcome.Failures[0].Measure)
}

func TestProcessUnitWorkbookFailureIsNarrow(t *testing.T) {
	files, clusters := writeTestUnit(t, t.TempDir())
	spec := seedsFromClusters(t, clusters)

	store := npy.NewStore(quietLogger())
	deps := Deps{
		Volumes:  nifti.NewCodec(quietLogger()),
		Tables:   bids.NewTables(quietLogger()),
		Series:   bids.NewTables(quietLogger()),
		Masks:    store,
		Matrices: store,
		Sidecars: bids.NewSidecarWriter(),
		Workbooks: workbookExporterFunc(func(context.Context, string, []*connectivity.Matrix) error {
			return fmt.Errorf("workbook render failed")
		}),
	}

	cfg := unitConfig("correlation", "covariance")
	cfg.Outputs.Xlsx = true
	svc := buildService(t, deps, t.TempDir(), cfg)
	res := svc.ProcessUnit(context.Background(), unitRequest(t, cfg, files, spec))

	assert.Equal(t, run.StatusPartial, res.Outcome.Status)
	require.Len(t, res.Outcome.Failures, 1)
	assert.Equal(t, "workbook", res.Outcome.Failures[0].Measure)
	assert.Len(t, res.Outcome.Artifacts, 2, "both matrices should survive the workbook failure")
}

func TestProcessUnitFailsOnMissingBold(t *testing.T) {
	files, clusters := writeTestUnit(t, t.TempDir())
	spec := seedsFromClusters(t, clusters)
	files.Bold = filepath.Join(t.TempDir(), "missing_bold.nii.gz")

	store := npy.NewStore(quietLogger())
	deps := Deps{
		Volumes:   nifti.NewCodec(quietLogger()),
		Tables:    bids.NewTables(quietLogger()),
		Series:    bids.NewTables(quietLogger()),
		Masks:     store,
		Matrices:  store,
		Sidecars:  bids.NewSidecarWriter(),
		Workbooks: workbookExporterFunc(func(context.Context, string, []*connectivity.Matrix) error { return nil }),
	}

	cfg := unitConfig("correlation")
	svc := buildService(t, deps, t.TempDir(), cfg)
	res := svc.ProcessUnit(context.Background(), unitRequest(t, cfg, files, spec))

	assert.Equal(t, run.StatusFailed, res.Outcome.Status)
	assert.Empty(t, res.Outcome.Artifacts)
	assert.Empty(t, res.Quality)
	require.NotEmpty(t, res.Outcome.Failures)
	assert.Equal(t, core.FailureIO, res.Outcome.Failures[0].Class)
}
