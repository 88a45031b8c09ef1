package region

import (
	"strings"

	"connectomix/domain/core"
)

// Seed is a spherical region defined in millimeter space
type Seed struct {
	Name    string
	X, Y, Z float64 // center, mm
	Radius  float64 // mm
}

// SanitizeLabel normalizes a region label for use in output filenames:
// underscores, spaces and hyphens are removed so the label survives as a
// single BIDS entity value.
func SanitizeLabel(label string) string {
	r := strings.NewReplacer("_", "", " ", "", "-", "")
	return r.Replace(strings.TrimSpace(label))
}

// ValidateUniqueNames rejects seed lists whose sanitized names collide.
// Two seeds that differ only in stripped characters would otherwise
// overwrite each other's outputs.
func ValidateUniqueNames(seeds []Seed) error {
	seen := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		if s.Name == "" {
			return core.NewConfigurationError("seed at (%.1f, %.1f, %.1f) has no name", s.X, s.Y, s.Z)
		}
		if seen[s.Name] {
			return core.NewConfigurationError("duplicate seed name %q after label cleanup", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
