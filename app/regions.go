package app

import (
	"context"
	"path/filepath"
	"strings"

	"connectomix/adapters/bids"
	"connectomix/domain/core"
	"connectomix/domain/region"
	"connectomix/domain/volume"
	"connectomix/internal"
	"connectomix/internal/config"
	"connectomix/ports"
)

// RegionResolver loads the region definition an invocation shares across
// all of its units: spherical seeds, a list of mask files, or an atlas
// parcellation, selected by the configured method.
type RegionResolver struct {
	volumes ports.VolumeReaderPort
	tables  ports.TableReaderPort
	log     *internal.Logger
}

// NewRegionResolver creates a resolver reading through the given ports
func NewRegionResolver(volumes ports.VolumeReaderPort, tables ports.TableReaderPort, logger *internal.Logger) *RegionResolver {
	return &RegionResolver{volumes: volumes, tables: tables, log: logger.WithPrefix("regions")}
}

// Resolve builds the region spec for the configured method. The second
// return is the atlas name for provenance, empty unless the regions came
// from an atlas. Volumes are loaded on their native grids; geometry
// reconciliation happens per unit.
func (r *RegionResolver) Resolve(ctx context.Context, cfg *config.Config, atlasDir string) (region.Spec, string, error) {
	if err := ctx.Err(); err != nil {
		return region.Spec{}, "", err
	}
	if cfg.ParsedMethod().UsesSeeds() {
		spec, err := r.resolveSeeds(ctx, cfg)
		return spec, "", err
	}
	if len(cfg.RoiMasks) > 0 {
		spec, err := r.resolveMasks(ctx, cfg)
		return spec, "", err
	}
	return r.resolveAtlas(ctx, cfg, atlasDir)
}

func (r *RegionResolver) resolveSeeds(ctx context.Context, cfg *config.Config) (region.Spec, error) {
	if cfg.SeedsFile != "" {
		seeds, err := r.tables.ReadSeeds(ctx, cfg.SeedsFile, cfg.Radius)
		if err != nil {
			return region.Spec{}, err
		}
		r.log.Info("loaded %d seeds from %s (radius %.1f mm)", len(seeds), cfg.SeedsFile, cfg.Radius)
		return region.NewSeedsSpec(seeds)
	}

	seeds := make([]region.Seed, 0, len(cfg.Seeds))
	for _, s := range cfg.Seeds {
		seeds = append(seeds, region.Seed{
			Name:   region.SanitizeLabel(s.Name),
			X:      s.X,
			Y:      s.Y,
			Z:      s.Z,
			Radius: cfg.Radius,
		})
	}
	r.log.Info("using %d inline seeds (radius %.1f mm)", len(seeds), cfg.Radius)
	return region.NewSeedsSpec(seeds)
}

// resolveMasks loads one region per configured mask file, in config
// order. Names come from roi_labels when given, otherwise from the mask
// filenames.
func (r *RegionResolver) resolveMasks(ctx context.Context, cfg *config.Config) (region.Spec, error) {
	if len(cfg.RoiLabels) > 0 && len(cfg.RoiLabels) != len(cfg.RoiMasks) {
		return region.Spec{}, core.NewConfigurationError(
			"roi_labels lists %d names for %d roi_masks", len(cfg.RoiLabels), len(cfg.RoiMasks))
	}

	masks := make([]*volume.Volume, 0, len(cfg.RoiMasks))
	names := make([]string, 0, len(cfg.RoiMasks))
	for i, path := range cfg.RoiMasks {
		vol, err := r.volumes.ReadVolume(ctx, path)
		if err != nil {
			return region.Spec{}, err
		}
		masks = append(masks, vol)
		names = append(names, maskName(cfg, i, path))
	}
	r.log.Info("loaded %d roi masks", len(masks))
	return region.NewMasksSpec(masks, names)
}

func maskName(cfg *config.Config, i int, path string) string {
	if i < len(cfg.RoiLabels) {
		return region.SanitizeLabel(cfg.RoiLabels[i])
	}
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".nii")
	return region.SanitizeLabel(base)
}

// resolveAtlas resolves the atlas value to an image, loads it and its
// label table when one sits next to the image
func (r *RegionResolver) resolveAtlas(ctx context.Context, cfg *config.Config, atlasDir string) (region.Spec, string, error) {
	imagePath, err := bids.ResolveAtlas(atlasDir, cfg.Atlas)
	if err != nil {
		return region.Spec{}, "", err
	}
	vol, err := r.volumes.ReadVolume(ctx, imagePath)
	if err != nil {
		return region.Spec{}, "", err
	}

	var labels map[int]string
	if tablePath, ok := bids.FindLabelTable(imagePath); ok {
		labels, err = r.tables.ReadAtlasLabels(ctx, tablePath)
		if err != nil {
			return region.Spec{}, "", err
		}
		r.log.Info("atlas %s with %d labels from %s", imagePath, len(labels), tablePath)
	} else {
		r.log.Warn("no label table next to atlas %s, parcels get numeric fallback names", imagePath)
	}

	spec, err := region.NewAtlasSpec(vol, labels)
	return spec, atlasDisplayName(cfg.Atlas), err
}

// atlasDisplayName reduces a configured atlas value to the short name
// recorded in provenance: a bare name stays as is, a path keeps only the
// image basename without extensions
func atlasDisplayName(nameOrPath string) string {
	base := filepath.Base(nameOrPath)
	base = strings.TrimSuffix(base, ".gz")
	return strings.TrimSuffix(base, ".nii")
}
