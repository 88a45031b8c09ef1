// Package qc summarizes motion and data retention for one subject-run.
// The summary travels into the outcome sidecar and the invocation report
// so a reader can judge data quality without opening the inputs.
package qc

import (
	"fmt"
	"math"

	"connectomix/domain/series"

	"github.com/montanaflynn/stats"
)

// FDColumn is the fMRIPrep confound column holding framewise displacement
const FDColumn = "framewise_displacement"

// Summary holds per-run quality indicators. FD fields are meaningful
// only when HasFD is set.
type Summary struct {
	HasFD            bool    `json:"has_fd"`
	MeanFD           float64 `json:"mean_fd,omitempty"`
	MedianFD         float64 `json:"median_fd,omitempty"`
	MaxFD            float64 `json:"max_fd,omitempty"`
	VolumesAboveFD   int     `json:"volumes_above_fd,omitempty"`
	OriginalVolumes  int     `json:"original_volumes"`
	RetainedVolumes  int     `json:"retained_volumes"`
	RetainedFraction float64 `json:"retained_fraction"`
}

// Compute derives the summary from the confound table and the final
// censor mask. A nil table, or one without the displacement column,
// yields retention figures only. An empty column name means FDColumn.
// The threshold counts volumes whose FD exceeds it; pass 0 to skip the
// count.
func Compute(confounds *series.ConfoundTable, mask series.CensorMask, column string, fdThreshold float64) Summary {
	s := Summary{
		OriginalVolumes: mask.Len(),
		RetainedVolumes: mask.RetainedCount(),
	}
	if s.OriginalVolumes > 0 {
		s.RetainedFraction = float64(s.RetainedVolumes) / float64(s.OriginalVolumes)
	}

	if confounds == nil {
		return s
	}
	if column == "" {
		column = FDColumn
	}
	raw, ok := confounds.Column(column)
	if !ok {
		return s
	}
	fd := finite(raw)
	if len(fd) == 0 {
		return s
	}

	s.HasFD = true
	s.MeanFD, _ = stats.Mean(fd)
	s.MedianFD, _ = stats.Median(fd)
	s.MaxFD, _ = stats.Max(fd)
	if fdThreshold > 0 {
		for _, v := range fd {
			if v > fdThreshold {
				s.VolumesAboveFD++
			}
		}
	}
	return s
}

// Describe renders the summary as a single human-readable line for logs
// and the report outcome table
func (s Summary) Describe() string {
	line := fmt.Sprintf("retained %d/%d volumes (%.1f%%)",
		s.RetainedVolumes, s.OriginalVolumes, 100*s.RetainedFraction)
	if s.HasFD {
		line += fmt.Sprintf(", mean FD %.3f mm, max FD %.3f mm", s.MeanFD, s.MaxFD)
	}
	return line
}

// finite drops NaN and infinite entries, which fMRIPrep emits as n/a for
// the first volume
func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
