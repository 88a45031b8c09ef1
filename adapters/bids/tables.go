package bids

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"connectomix/domain/region"
	"connectomix/domain/series"
	"connectomix/internal"
	"connectomix/internal/errors"

	"gonum.org/v1/gonum/mat"
)

// Tables reads and writes the tab-separated sidecars of the BIDS
// convention. It satisfies the table ports.
type Tables struct {
	log *internal.Logger
}

// NewTables creates a table codec
func NewTables(logger *internal.Logger) *Tables {
	return &Tables{log: logger.WithPrefix("tables")}
}

// ReadConfounds loads a confound table. Cells that do not parse as
// finite numbers, like the n/a leaders of derivative columns, read as
// zero so downstream regression sees a complete matrix.
func (t *Tables) ReadConfounds(ctx context.Context, path string) (*series.ConfoundTable, error) {
	records, err := readDelimited(ctx, path, '\t')
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New(errors.CodeParseFailed, path+" has no confound rows")
	}

	names := records[0]
	rows := len(records) - 1
	data := mat.NewDense(rows, len(names), nil)
	zeroed := 0
	for r, rec := range records[1:] {
		for c, cell := range rec {
			if c >= len(names) {
				break
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
				zeroed++
			}
			data.Set(r, c, v)
		}
	}
	if zeroed > 0 {
		t.log.Debug("%s: %d non-numeric cells read as zero", filepath.Base(path), zeroed)
	}
	return series.NewConfoundTable(names, data)
}

// ReadEvents loads a task events table. The onset, duration and
// trial_type columns are required.
func (t *Tables) ReadEvents(ctx context.Context, path string) (*series.EventTable, error) {
	records, err := readDelimited(ctx, path, '\t')
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New(errors.CodeParseFailed, path+" is empty")
	}

	header := records[0]
	onset, duration, condition := -1, -1, -1
	for i, name := range header {
		switch name {
		case "onset":
			onset = i
		case "duration":
			duration = i
		case "trial_type":
			condition = i
		}
	}
	if onset < 0 || duration < 0 {
		return nil, errors.New(errors.CodeParseFailed, path+" lacks the onset or duration column")
	}
	if condition < 0 {
		return nil, errors.New(errors.CodeParseFailed, path+" has no trial_type column, condition selection needs one")
	}

	events := make([]series.Event, 0, len(records)-1)
	for r, rec := range records[1:] {
		if len(rec) <= onset || len(rec) <= duration || len(rec) <= condition {
			return nil, errors.New(errors.CodeParseFailed, fmt.Sprintf("%s row %d is truncated", path, r+2))
		}
		on, err := strconv.ParseFloat(rec[onset], 64)
		if err != nil {
			return nil, errors.New(errors.CodeParseFailed, fmt.Sprintf("%s row %d: bad onset %q", path, r+2, rec[onset]))
		}
		dur, err := strconv.ParseFloat(rec[duration], 64)
		if err != nil {
			return nil, errors.New(errors.CodeParseFailed, fmt.Sprintf("%s row %d: bad duration %q", path, r+2, rec[duration]))
		}
		events = append(events, series.Event{Onset: on, Duration: dur, Condition: rec[condition]})
	}
	t.log.Debug("%s: %d events, %d conditions", filepath.Base(path), len(events), len((&series.EventTable{Events: events}).Conditions()))
	return &series.EventTable{Events: events}, nil
}

// ReadSeeds loads a seed list: name then x y z in millimeters, tab
// separated, with or without a header row. Labels are cleaned for
// filename use and must stay unique afterwards.
func (t *Tables) ReadSeeds(ctx context.Context, path string, radius float64) ([]region.Seed, error) {
	records, err := readDelimited(ctx, path, '\t')
	if err != nil {
		return nil, err
	}
	if len(records) > 0 && looksLikeSeedHeader(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, errors.New(errors.CodeParseFailed, path+" contains no seeds")
	}

	seeds := make([]region.Seed, 0, len(records))
	for r, rec := range records {
		if len(rec) < 4 {
			return nil, errors.New(errors.CodeParseFailed,
				fmt.Sprintf("%s row %d has %d columns, need name x y z", path, r+1, len(rec)))
		}
		coords := [3]float64{}
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, errors.New(errors.CodeParseFailed,
					fmt.Sprintf("%s row %d: bad coordinate %q", path, r+1, rec[i+1]))
			}
			coords[i] = v
		}
		seeds = append(seeds, region.Seed{
			Name:   region.SanitizeLabel(rec[0]),
			X:      coords[0],
			Y:      coords[1],
			Z:      coords[2],
			Radius: radius,
		})
	}
	if err := region.ValidateUniqueNames(seeds); err != nil {
		return nil, err
	}
	t.log.Debug("%s: %d seeds, radius %.1f mm", filepath.Base(path), len(seeds), radius)
	return seeds, nil
}

// ReadAtlasLabels loads a label value to region name table. Three
// formats are understood: tab separated index and name, comma
// separated index and name, and plain lines where line N names label N.
func (t *Tables) ReadAtlasLabels(ctx context.Context, path string) (map[int]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ReadFailed(path, err)
	}
	lines := splitLines(string(raw))
	if len(lines) == 0 {
		return nil, errors.New(errors.CodeParseFailed, path+" contains no labels")
	}

	delim := labelDelimiter(path, lines)
	labels := make(map[int]string, len(lines))
	if delim == 0 {
		// line N names label N
		for i, line := range lines {
			labels[i+1] = line
		}
		return labels, nil
	}

	for i, line := range lines {
		fields := strings.Split(line, string(delim))
		if len(fields) < 2 {
			return nil, errors.New(errors.CodeParseFailed,
				fmt.Sprintf("%s line %d: expected an index and a name", path, i+1))
		}
		idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, errors.New(errors.CodeParseFailed,
				fmt.Sprintf("%s line %d: bad label index %q", path, i+1, fields[0]))
		}
		labels[idx] = strings.TrimSpace(fields[1])
	}
	if len(labels) == 0 {
		return nil, errors.New(errors.CodeParseFailed, path+" contains no labels")
	}
	return labels, nil
}

// WriteTimeSeries persists extracted region signals as a TSV with one
// named column per region and one row per retained timepoint
func (t *Tables) WriteTimeSeries(ctx context.Context, path string, m *series.TimeSeriesMatrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WriteFailed(path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.WriteFailed(path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(m.Names); err != nil {
		return errors.WriteFailed(path, err)
	}
	rows, cols := m.NumTimepoints(), m.NumRegions()
	record := make([]string, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			record[c] = strconv.FormatFloat(m.Data.At(r, c), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return errors.WriteFailed(path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.WriteFailed(path, err)
	}
	return nil
}

// readDelimited loads a whole delimited file. Ragged rows are allowed
// so a short trailing line does not sink the read; rows may be shorter
// than the header and callers must bound-check column access.
func readDelimited(ctx context.Context, path string, comma rune) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.ReadFailed(path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	return records, nil
}

// looksLikeSeedHeader reports whether the first seed row is a header:
// a row whose coordinate fields do not parse as numbers
func looksLikeSeedHeader(rec []string) bool {
	if len(rec) < 4 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	return err != nil
}

// labelDelimiter picks the label table format: tab, comma, or 0 for
// line-delimited
func labelDelimiter(path string, lines []string) rune {
	switch {
	case strings.HasSuffix(path, ".tsv"):
		return '\t'
	case strings.HasSuffix(path, ".csv"):
		return ','
	}
	for _, line := range lines {
		if strings.ContainsRune(line, '\t') {
			return '\t'
		}
	}
	for _, line := range lines {
		if strings.ContainsRune(line, ',') {
			return ','
		}
	}
	return 0
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
