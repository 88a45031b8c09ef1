package series

import (
	"path"
	"strings"

	"connectomix/domain/core"

	"gonum.org/v1/gonum/mat"
)

// ConfoundTable holds nuisance regressors: timepoints on rows, one named
// column per confound. Row count must match the functional series it was
// recorded alongside.
type ConfoundTable struct {
	Names []string
	Data  *mat.Dense
}

// NewConfoundTable wraps a timepoints x confounds matrix with its column
// names
func NewConfoundTable(names []string, data *mat.Dense) (*ConfoundTable, error) {
	_, cols := data.Dims()
	if cols != len(names) {
		return nil, core.NewConfigurationError("confound table has %d columns but %d names", cols, len(names))
	}
	return &ConfoundTable{Names: names, Data: data}, nil
}

// NumTimepoints returns the row count
func (c *ConfoundTable) NumTimepoints() int {
	rows, _ := c.Data.Dims()
	return rows
}

// NumColumns returns the confound count
func (c *ConfoundTable) NumColumns() int {
	_, cols := c.Data.Dims()
	return cols
}

// Column copies the named column. The second return is false when the
// column does not exist.
func (c *ConfoundTable) Column(name string) ([]float64, bool) {
	for j, n := range c.Names {
		if n == name {
			rows, _ := c.Data.Dims()
			out := make([]float64, rows)
			mat.Col(out, j, c.Data)
			return out, true
		}
	}
	return nil, false
}

// HasColumn reports whether the named column exists
func (c *ConfoundTable) HasColumn(name string) bool {
	_, ok := c.columnIndex(name)
	return ok
}

// Select returns a table restricted to the columns named by selectors,
// in selector order. Each selector is either an exact column name or a
// shell-style pattern using * and ?. An exact name that is absent, or a
// pattern that matches nothing, is a configuration error: silently
// dropping a requested regressor would change results without any
// visible sign.
func (c *ConfoundTable) Select(selectors []string) (*ConfoundTable, error) {
	if len(selectors) == 0 {
		return nil, core.NewConfigurationError("confound selection is empty")
	}

	var picked []int
	seen := make(map[int]bool)
	for _, sel := range selectors {
		matches, err := c.matchSelector(sel)
		if err != nil {
			return nil, err
		}
		for _, j := range matches {
			if !seen[j] {
				seen[j] = true
				picked = append(picked, j)
			}
		}
	}

	rows, _ := c.Data.Dims()
	names := make([]string, len(picked))
	out := mat.NewDense(rows, len(picked), nil)
	for dst, j := range picked {
		names[dst] = c.Names[j]
		col := make([]float64, rows)
		mat.Col(col, j, c.Data)
		out.SetCol(dst, col)
	}
	return &ConfoundTable{Names: names, Data: out}, nil
}

// Retain returns a new table containing only the rows the mask keeps
func (c *ConfoundTable) Retain(mask CensorMask) (*ConfoundTable, error) {
	rows, cols := c.Data.Dims()
	if mask.Len() != rows {
		return nil, core.NewConfigurationError("censor mask length %d does not match %d confound rows", mask.Len(), rows)
	}
	kept := mask.RetainedIndices()
	if len(kept) == 0 {
		return nil, core.NewInsufficientDataError("censoring", 0, 1)
	}
	out := mat.NewDense(len(kept), cols, nil)
	for r, src := range kept {
		out.SetRow(r, c.Data.RawRowView(src))
	}
	return &ConfoundTable{Names: c.Names, Data: out}, nil
}

func (c *ConfoundTable) columnIndex(name string) (int, bool) {
	for j, n := range c.Names {
		if n == name {
			return j, true
		}
	}
	return 0, false
}

func (c *ConfoundTable) matchSelector(sel string) ([]int, error) {
	if !strings.ContainsAny(sel, "*?[") {
		j, ok := c.columnIndex(sel)
		if !ok {
			return nil, core.NewConfigurationError("confound column %q not present in table", sel)
		}
		return []int{j}, nil
	}

	var matches []int
	for j, n := range c.Names {
		ok, err := path.Match(sel, n)
		if err != nil {
			return nil, core.NewConfigurationError("bad confound pattern %q: %v", sel, err)
		}
		if ok {
			matches = append(matches, j)
		}
	}
	if len(matches) == 0 {
		return nil, core.NewConfigurationError("confound pattern %q matches no columns", sel)
	}
	return matches, nil
}
