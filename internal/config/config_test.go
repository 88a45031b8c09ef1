package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"connectomix/domain/connectivity"
	"connectomix/domain/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Method != "roiToRoi" {
		t.Errorf("method = %q, want roiToRoi", cfg.Method)
	}
	if len(cfg.Measures) != 1 || cfg.Measures[0] != "correlation" {
		t.Errorf("measures = %v, want [correlation]", cfg.Measures)
	}
	if cfg.Radius != 5.0 {
		t.Errorf("radius = %v, want 5.0", cfg.Radius)
	}
	if cfg.Atlas != "schaefer2018n100" {
		t.Errorf("atlas = %q, want schaefer2018n100", cfg.Atlas)
	}
	if cfg.Standardize {
		t.Error("standardize should default to false")
	}
	cs := cfg.Censoring.ConditionSelection
	if cs.MinVolumesRetained != 50 || cs.MinFractionRetained != 0.3 || cs.WarnFractionRetained != 0.5 {
		t.Errorf("retention floors = %d/%v/%v, want 50/0.3/0.5",
			cs.MinVolumesRetained, cs.MinFractionRetained, cs.WarnFractionRetained)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
method: seedToSeed
seeds_file: seeds.tsv
radius: 8.0
connectivity_kinds:
  - correlation
  - precision
high_pass: 0.008
low_pass: 0.1
subjects: ["01", "02"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Method != "seedToSeed" || cfg.Radius != 8.0 {
		t.Errorf("method/radius = %q/%v", cfg.Method, cfg.Radius)
	}
	if len(cfg.Measures) != 2 {
		t.Errorf("measures = %v, want two", cfg.Measures)
	}
	if cfg.Atlas != "schaefer2018n100" {
		t.Errorf("unset atlas should keep its default, got %q", cfg.Atlas)
	}
	if got := cfg.ParsedMethod(); got != connectivity.MethodSeedToSeed {
		t.Errorf("ParsedMethod = %v", got)
	}
}

func TestNormalizeStripsWhitespaceAndTrailingCommas(t *testing.T) {
	path := writeConfig(t, `
method: " seedToSeed,"
seeds:
  - {name: " PCC, ", x: 0, y: -53, z: 26}
connectivity_kinds: ["correlation, ", "  "]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Method != "seedToSeed" {
		t.Errorf("method = %q, want seedToSeed", cfg.Method)
	}
	if cfg.Seeds[0].Name != "PCC" {
		t.Errorf("seed name = %q, want PCC", cfg.Seeds[0].Name)
	}
	if len(cfg.Measures) != 1 || cfg.Measures[0] != "correlation" {
		t.Errorf("measures = %v, want [correlation]", cfg.Measures)
	}
}

func TestStrategyExpandsConfounds(t *testing.T) {
	path := writeConfig(t, "denoising: csfwm_6p\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"csf", "white_matter", "trans_x", "trans_y", "trans_z", "rot_x", "rot_y", "rot_z"}
	if len(cfg.ConfoundColumns) != len(want) {
		t.Fatalf("confound columns = %v, want %v", cfg.ConfoundColumns, want)
	}
	for i, col := range want {
		if cfg.ConfoundColumns[i] != col {
			t.Errorf("column %d = %q, want %q", i, cfg.ConfoundColumns[i], col)
		}
	}
}

func TestRigidStrategySetsCensoring(t *testing.T) {
	cfg, err := Load(writeConfig(t, "denoising: scrubbing5\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Censoring.FDThreshold != 0.5 {
		t.Errorf("fd_threshold = %v, want 0.5 from the strategy", cfg.Censoring.FDThreshold)
	}
	if cfg.Censoring.MinSegmentLength != 5 {
		t.Errorf("min_segment_length = %v, want 5 from the strategy", cfg.Censoring.MinSegmentLength)
	}

	// explicit censoring settings beat the strategy's
	cfg, err = Load(writeConfig(t, `
denoising: scrubbing5
censoring:
  fd_threshold: 0.2
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Censoring.FDThreshold != 0.2 {
		t.Errorf("fd_threshold = %v, explicit value should win", cfg.Censoring.FDThreshold)
	}
}

func TestStrategyAndExplicitColumnsConflict(t *testing.T) {
	_, err := Load(writeConfig(t, `
denoising: minimal
confound_columns: ["csf"]
`))
	if !core.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := Load(writeConfig(t, "denoising: aggressive\n"))
	if !core.IsConfigurationError(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if !strings.Contains(err.Error(), "minimal") {
		t.Errorf("error should list available strategies, got %v", err)
	}
}

func TestVoxelwiseMethodRejectsMatrixMeasures(t *testing.T) {
	_, err := Load(writeConfig(t, `
method: seedToVoxel
seeds_file: seeds.tsv
connectivity_kinds: [correlation, partial_correlation]
`))
	if !core.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestMethodRequiresRegionSource(t *testing.T) {
	if _, err := Load(writeConfig(t, "method: seedToSeed\n")); !core.IsConfigurationError(err) {
		t.Errorf("seed method without seeds: err = %v, want configuration error", err)
	}
	if _, err := Load(writeConfig(t, "method: roiToRoi\natlas: \"\"\n")); !core.IsConfigurationError(err) {
		t.Errorf("roi method without atlas or masks: err = %v, want configuration error", err)
	}
}

func TestInvertedBandRejected(t *testing.T) {
	_, err := Load(writeConfig(t, `
high_pass: 0.2
low_pass: 0.1
`))
	if !core.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestConditionSelectionRequiresConditions(t *testing.T) {
	_, err := Load(writeConfig(t, `
censoring:
  condition_selection:
    enabled: true
`))
	if !core.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestFDThresholdRequiresColumn(t *testing.T) {
	_, err := Load(writeConfig(t, `
censoring:
  fd_threshold: 0.5
  fd_column: ""
`))
	if !core.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestUnknownMeasureRejected(t *testing.T) {
	_, err := Load(writeConfig(t, "connectivity_kinds: [tangent]\n"))
	if !core.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestHashIsDeterministicAndSensitive(t *testing.T) {
	a, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ha, err := a.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	hb, _ := b.Hash()
	if ha != hb {
		t.Error("identical configs must hash identically")
	}

	b.Radius = 6.0
	hc, _ := b.Hash()
	if ha == hc {
		t.Error("changing a field must change the hash")
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "analysis.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("the starter template must load cleanly: %v", err)
	}
	if cfg.Method != "roiToRoi" || !cfg.Outputs.Report || cfg.Outputs.Xlsx {
		t.Errorf("template defaults: method=%q outputs=%+v", cfg.Method, cfg.Outputs)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault must refuse to overwrite an existing file")
	}
}

func TestStrategyNamesSorted(t *testing.T) {
	names := StrategyNames()
	if len(names) != 9 {
		t.Fatalf("got %d strategies, want 9", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("names not sorted at %d: %q >= %q", i, names[i-1], names[i])
		}
	}
}
