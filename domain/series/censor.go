package series

import "connectomix/domain/core"

// CensorMask is a retain/drop decision per original timepoint: true
// means retained. Exclusion criteria each produce their own mask and the
// final mask is their conjunction, so criterion order never changes the
// result.
type CensorMask struct {
	keep []bool
}

// NewCensorMask returns a mask of length n retaining every timepoint
func NewCensorMask(n int) CensorMask {
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	return CensorMask{keep: keep}
}

// FromKeep wraps an explicit retain vector
func FromKeep(keep []bool) CensorMask {
	return CensorMask{keep: keep}
}

// Len returns the original timepoint count
func (m CensorMask) Len() int {
	return len(m.keep)
}

// Retained reports whether timepoint t survives
func (m CensorMask) Retained(t int) bool {
	return m.keep[t]
}

// RetainedCount returns the number of surviving timepoints
func (m CensorMask) RetainedCount() int {
	n := 0
	for _, k := range m.keep {
		if k {
			n++
		}
	}
	return n
}

// RetainedIndices returns the surviving timepoint indices in order
func (m CensorMask) RetainedIndices() []int {
	out := make([]int, 0, m.RetainedCount())
	for t, k := range m.keep {
		if k {
			out = append(out, t)
		}
	}
	return out
}

// Drop returns a copy with timepoint t excluded
func (m CensorMask) Drop(t int) CensorMask {
	out := make([]bool, len(m.keep))
	copy(out, m.keep)
	out[t] = false
	return CensorMask{keep: out}
}

// And returns the conjunction of two masks of equal length
func (m CensorMask) And(other CensorMask) (CensorMask, error) {
	if len(m.keep) != len(other.keep) {
		return CensorMask{}, core.NewConfigurationError("censor mask lengths differ: %d vs %d", len(m.keep), len(other.keep))
	}
	out := make([]bool, len(m.keep))
	for t := range out {
		out[t] = m.keep[t] && other.keep[t]
	}
	return CensorMask{keep: out}, nil
}

// ApplyCensor applies one mask to the time series and its confound table
// in a single step. The two stay index-aligned only if they are always
// censored together, so callers never apply a mask to one side alone.
func ApplyCensor(m *TimeSeriesMatrix, c *ConfoundTable, mask CensorMask) (*TimeSeriesMatrix, *ConfoundTable, error) {
	censored, err := m.Retain(mask)
	if err != nil {
		return nil, nil, err
	}
	confounds, err := c.Retain(mask)
	if err != nil {
		return nil, nil, err
	}
	return censored, confounds, nil
}
