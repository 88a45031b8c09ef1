package app

import (
	"context"
	"path/filepath"
	"testing"

	"connectomix/adapters/bids"
	"connectomix/adapters/nifti"
	"connectomix/domain/core"
	"connectomix/domain/region"
	"connectomix/domain/volume"
	"connectomix/internal/config"
	"connectomix/internal/testkit"
)

func testResolver(t *testing.T) *RegionResolver {
	t.Helper()
	logger := quietLogger()
	return NewRegionResolver(nifti.NewCodec(logger), bids.NewTables(logger), logger)
}

func writeMask(t *testing.T, path string, voxels ...[3]int) {
	t.Helper()
	g := volume.Grid{Nx: 6, Ny: 6, Nz: 4, Affine: volume.ScalingAffine(3, 3, 3)}
	vol := volume.NewVolume(g)
	for _, v := range voxels {
		vol.Set(v[0], v[1], v[2], 1)
	}
	codec := nifti.NewCodec(quietLogger())
	if err := codec.WriteVolume(context.Background(), path, vol); err != nil {
		t.Fatalf("WriteVolume() error = %v", err)
	}
}

func TestResolveInlineSeeds(t *testing.T) {
	cfg := config.Default()
	cfg.Method = "seedToSeed"
	cfg.Atlas = ""
	cfg.Radius = 6.0
	cfg.Seeds = []config.SeedConfig{
		{Name: "PCC left", X: 0, Y: -52, Z: 26},
		{Name: "mPFC", X: 0, Y: 52, Z: -2},
	}

	spec, atlasName, err := testResolver(t).Resolve(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if spec.Kind != region.KindSeeds || atlasName != "" {
		t.Fatalf("Resolve() = kind %s atlas %q, want seeds without atlas", spec.Kind, atlasName)
	}
	if len(spec.Seeds) != 2 {
		t.Fatalf("Resolve() returned %d seeds, want 2", len(spec.Seeds))
	}
	if spec.Seeds[0].Name != "PCCleft" {
		t.Errorf("seed name = %q, want sanitized PCCleft", spec.Seeds[0].Name)
	}
	if spec.Seeds[0].Radius != 6.0 || spec.Seeds[1].Radius != 6.0 {
		t.Errorf("seed radii = %g, %g, want the configured 6", spec.Seeds[0].Radius, spec.Seeds[1].Radius)
	}
	if spec.Seeds[0].Y != -52 {
		t.Errorf("seed y = %g, want -52", spec.Seeds[0].Y)
	}
}

func TestResolveMaskFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "pcc_mask.nii.gz")
	second := filepath.Join(dir, "mpfc_mask.nii.gz")
	writeMask(t, first, [3]int{2, 2, 2})
	writeMask(t, second, [3]int{3, 3, 2})

	cfg := config.Default()
	cfg.Atlas = ""
	cfg.RoiMasks = []string{first, second}

	spec, atlasName, err := testResolver(t).Resolve(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if spec.Kind != region.KindMask || atlasName != "" {
		t.Fatalf("Resolve() = kind %s atlas %q, want mask without atlas", spec.Kind, atlasName)
	}
	// config order, names derived from the filenames
	want := []string{"pccmask", "mpfcmask"}
	for i, name := range want {
		if spec.MaskNames[i] != name {
			t.Errorf("mask name[%d] = %q, want %q", i, spec.MaskNames[i], name)
		}
	}

	// explicit labels win over filenames
	cfg.RoiLabels = []string{"PCC", "mPFC"}
	spec, _, err = testResolver(t).Resolve(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Resolve() with labels error = %v", err)
	}
	if spec.MaskNames[0] != "PCC" || spec.MaskNames[1] != "mPFC" {
		t.Errorf("labeled mask names = %v, want [PCC mPFC]", spec.MaskNames)
	}
}

func TestResolveMasksRejectsLabelCountMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "only.nii.gz")
	writeMask(t, path, [3]int{1, 1, 1})

	cfg := config.Default()
	cfg.Atlas = ""
	cfg.RoiMasks = []string{path}
	cfg.RoiLabels = []string{"a", "b"}

	_, _, err := testResolver(t).Resolve(context.Background(), cfg, "")
	if !core.IsConfigurationError(err) {
		t.Fatalf("Resolve() error = %v, want configuration error", err)
	}
}

func TestResolveAtlasByName(t *testing.T) {
	atlasDir := t.TempDir()
	gen := testkit.NewGenerator(testkit.DefaultSyntheticConfig())
	_, clusters := gen.GenerateBOLD()
	if _, err := gen.WriteAtlas(context.Background(), atlasDir, "dmn4", clusters); err != nil {
		t.Fatalf("WriteAtlas() error = %v", err)
	}

	cfg := config.Default()
	cfg.Atlas = "dmn4"

	spec, atlasName, err := testResolver(t).Resolve(context.Background(), cfg, atlasDir)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if spec.Kind != region.KindAtlas {
		t.Fatalf("Resolve() kind = %s, want atlas", spec.Kind)
	}
	if atlasName != "dmn4" {
		t.Errorf("atlas name = %q, want dmn4", atlasName)
	}
	if len(spec.AtlasLabels) != len(clusters) {
		t.Errorf("atlas has %d labels, want %d", len(spec.AtlasLabels), len(clusters))
	}
	if spec.AtlasLabels[1] != "PCC" {
		t.Errorf("label 1 = %q, want PCC", spec.AtlasLabels[1])
	}
}

func TestResolveAtlasMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Atlas = "nosuchatlas"

	_, _, err := testResolver(t).Resolve(context.Background(), cfg, t.TempDir())
	if err == nil {
		t.Fatal("Resolve() succeeded for a missing atlas")
	}
}

func TestAtlasDisplayName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"schaefer2018n100", "schaefer2018n100"},
		{"/data/atlases/aal.nii.gz", "aal"},
		{"custom.nii", "custom"},
	}
	for _, tc := range cases {
		if got := atlasDisplayName(tc.in); got != tc.want {
			t.Errorf("atlasDisplayName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
