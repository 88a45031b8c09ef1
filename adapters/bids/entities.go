// Package bids discovers analysis inputs in a denoised-derivatives tree
// and lays out outputs under the BIDS derivatives convention. Discovery
// is purely file based: entity key-value segments in filenames decide
// what belongs to which run, no index or database is consulted.
package bids

import (
	"path/filepath"
	"strings"
)

// entities holds the key-value segments of one BIDS filename, e.g.
// sub-01_ses-pre_task-rest_run-1_space-MNI_desc-denoised_bold.nii.gz
// parses to {sub:01 ses:pre task:rest run:1 space:MNI desc:denoised}.
type entities map[string]string

// parseEntities extracts the key-value segments from a filename. The
// trailing suffix segment (no dash) and the extension are ignored.
func parseEntities(name string) entities {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, ".gz")
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	ents := make(entities)
	for _, part := range strings.Split(base, "_") {
		if k, v, ok := strings.Cut(part, "-"); ok && k != "" && v != "" {
			ents[k] = v
		}
	}
	return ents
}

// suffix returns the final underscore segment of a filename without its
// extension, e.g. "bold" for *_desc-denoised_bold.nii.gz.
func suffix(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, ".gz")
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	parts := strings.Split(base, "_")
	last := parts[len(parts)-1]
	if strings.Contains(last, "-") {
		return ""
	}
	return last
}

// matches reports whether every non-empty entity in want is present
// with the same value
func (e entities) matches(want entities) bool {
	for k, v := range want {
		if v == "" {
			continue
		}
		if e[k] != v {
			return false
		}
	}
	return true
}

// allowed reports whether the entity value passes a filter list. An
// empty list allows everything.
func allowed(value string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if value == f {
			return true
		}
	}
	return false
}
