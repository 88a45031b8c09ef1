package region

import (
	"fmt"

	"connectomix/domain/core"
	"connectomix/domain/volume"
)

// Kind discriminates the three ways a set of regions can be defined
type Kind string

const (
	KindSeeds Kind = "seeds"  // spherical seeds at mm coordinates
	KindMask  Kind = "mask"   // one region from a binary mask
	KindAtlas Kind = "atlas"  // one region per positive atlas label
)

// Spec defines the regions to extract. Exactly one definition is
// populated, selected by Kind; use the constructors rather than building
// the struct literally.
type Spec struct {
	Kind Kind

	Seeds []Seed

	Masks     []*volume.Volume
	MaskNames []string

	Atlas       *volume.Volume
	AtlasLabels map[int]string
}

// NewSeedsSpec defines regions as spheres around mm coordinates. Seed
// names must already be sanitized and unique.
func NewSeedsSpec(seeds []Seed) (Spec, error) {
	if len(seeds) == 0 {
		return Spec{}, core.NewConfigurationError("seed list is empty")
	}
	if err := ValidateUniqueNames(seeds); err != nil {
		return Spec{}, err
	}
	return Spec{Kind: KindSeeds, Seeds: seeds}, nil
}

// NewMaskSpec defines a single region from a binary volume
func NewMaskSpec(mask *volume.Volume, name string) (Spec, error) {
	if name == "" {
		name = "mask"
	}
	return NewMasksSpec([]*volume.Volume{mask}, []string{name})
}

// NewMasksSpec defines one region per binary volume, in list order.
// Masks may overlap; each keeps its own voxel membership.
func NewMasksSpec(masks []*volume.Volume, names []string) (Spec, error) {
	if len(masks) == 0 {
		return Spec{}, core.NewConfigurationError("mask list is empty")
	}
	if len(names) != len(masks) {
		return Spec{}, core.NewConfigurationError("%d masks but %d names", len(masks), len(names))
	}
	seen := make(map[string]bool, len(names))
	for i, m := range masks {
		if m == nil {
			return Spec{}, core.NewConfigurationError("mask %q is nil", names[i])
		}
		if names[i] == "" {
			return Spec{}, core.NewConfigurationError("mask %d has no name", i)
		}
		if seen[names[i]] {
			return Spec{}, core.NewConfigurationError("duplicate mask name %q", names[i])
		}
		seen[names[i]] = true
	}
	return Spec{Kind: KindMask, Masks: masks, MaskNames: names}, nil
}

// NewAtlasSpec defines one region per positive integer label in the
// atlas volume. labels maps label value to display name and may be nil
// or partial; unmapped labels fall back to FallbackName.
func NewAtlasSpec(atlas *volume.Volume, labels map[int]string) (Spec, error) {
	if atlas == nil {
		return Spec{}, core.NewConfigurationError("atlas volume is nil")
	}
	return Spec{Kind: KindAtlas, Atlas: atlas, AtlasLabels: labels}, nil
}

// FallbackName names an atlas parcel that has no entry in the label
// table. The name embeds the integer label value so the parcel stays
// traceable back to the atlas.
func FallbackName(label int) string {
	return fmt.Sprintf("ROI_%d", label)
}

// AtlasRegionName resolves a label to its display name, falling back to
// FallbackName when the table has no entry.
func (s Spec) AtlasRegionName(label int) string {
	if name, ok := s.AtlasLabels[label]; ok && name != "" {
		return name
	}
	return FallbackName(label)
}

// VolumetricComponents returns the volumes that must share the
// functional grid, or nil for seed specs (seeds are defined in mm space
// and need no grid of their own). Mask volumes may each come from a
// different file and carry different grids.
func (s Spec) VolumetricComponents() []*volume.Volume {
	switch s.Kind {
	case KindMask:
		return s.Masks
	case KindAtlas:
		return []*volume.Volume{s.Atlas}
	}
	return nil
}

// WithVolumetricComponents returns a copy of the spec with its volumes
// replaced, used after resampling onto the functional grid. The slice
// must parallel VolumetricComponents.
func (s Spec) WithVolumetricComponents(vols []*volume.Volume) Spec {
	switch s.Kind {
	case KindMask:
		s.Masks = vols
	case KindAtlas:
		if len(vols) > 0 {
			s.Atlas = vols[0]
		}
	}
	return s
}

// Region is one named set of voxels on the functional grid
type Region struct {
	Name    string
	Indices []int
}

// IsEmpty reports whether the region covers no in-brain voxels
func (r Region) IsEmpty() bool {
	return len(r.Indices) == 0
}
