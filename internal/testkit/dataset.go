package testkit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"connectomix/adapters/nifti"
	"connectomix/domain/run"
	"connectomix/domain/series"
	"connectomix/internal"
)

// WriteUnit materializes one unit's input files under root in the
// fMRIPrep derivative layout: denoised BOLD with its JSON sidecar,
// confounds, events and a task-matched brain mask. Returns the embedded
// clusters so tests can assert against ground truth.
func (g *Generator) WriteUnit(ctx context.Context, root string, unit run.Unit) ([]Cluster, error) {
	bold, clusters := g.GenerateBOLD()
	confounds := g.Confounds(bold.NumVolumes)
	events := g.Events()
	mask := g.BrainMask()

	funcDir := filepath.Join(root, "sub-"+unit.Subject)
	if unit.Session != "" {
		funcDir = filepath.Join(funcDir, "ses-"+unit.Session)
	}
	funcDir = filepath.Join(funcDir, "func")

	base := inputBase(unit)
	codec := nifti.NewCodec(internal.NewLogger(internal.LogLevelError))

	boldPath := filepath.Join(funcDir, base+"_space-"+unit.Space+"_desc-denoised_bold.nii.gz")
	if err := codec.WriteFunctional(ctx, boldPath, bold); err != nil {
		return nil, err
	}
	sidecar := strings.TrimSuffix(boldPath, ".nii.gz") + ".json"
	if err := writeJSON(sidecar, map[string]float64{"RepetitionTime": bold.TR}); err != nil {
		return nil, err
	}

	confPath := filepath.Join(funcDir, base+"_desc-confounds_timeseries.tsv")
	if err := writeConfoundsTSV(confPath, confounds); err != nil {
		return nil, err
	}
	eventsPath := filepath.Join(funcDir, base+"_events.tsv")
	if err := writeEventsTSV(eventsPath, events); err != nil {
		return nil, err
	}

	maskBase := "sub-" + unit.Subject
	if unit.Session != "" {
		maskBase += "_ses-" + unit.Session
	}
	maskBase += "_task-" + unit.Task + "_space-" + unit.Space + "_desc-brain_mask.nii.gz"
	if err := codec.WriteVolume(ctx, filepath.Join(funcDir, maskBase), mask); err != nil {
		return nil, err
	}

	return clusters, nil
}

// WriteSeedsFile writes the cluster centers as a seed table: label and
// millimeter coordinates, tab-separated, no header
func WriteSeedsFile(path string, clusters []Cluster) error {
	var b strings.Builder
	for _, c := range clusters {
		fmt.Fprintf(&b, "%s\t%g\t%g\t%g\n", c.Name, c.CenterMM[0], c.CenterMM[1], c.CenterMM[2])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// WriteAtlas writes a parcellation image for the clusters plus its
// label table next to it, and returns the image path
func (g *Generator) WriteAtlas(ctx context.Context, dir, name string, clusters []Cluster) (string, error) {
	codec := nifti.NewCodec(internal.NewLogger(internal.LogLevelError))
	imagePath := filepath.Join(dir, name+".nii.gz")
	if err := codec.WriteVolume(ctx, imagePath, g.AtlasVolume(clusters)); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("index\tname\n")
	for i, c := range clusters {
		fmt.Fprintf(&b, "%d\t%s\n", i+1, c.Name)
	}
	labelPath := filepath.Join(dir, name+".tsv")
	if err := os.WriteFile(labelPath, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return imagePath, nil
}

// inputBase builds the acquisition entity chain in raw BIDS order,
// which puts run after task. Output names use the reverse order, so
// fixtures exercise the walker's order-independent entity parsing.
func inputBase(u run.Unit) string {
	parts := []string{"sub-" + u.Subject}
	if u.Session != "" {
		parts = append(parts, "ses-"+u.Session)
	}
	parts = append(parts, "task-"+u.Task)
	if u.Run != "" {
		parts = append(parts, "run-"+u.Run)
	}
	return strings.Join(parts, "_")
}

func writeJSON(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeConfoundsTSV renders the table the way fMRIPrep does, with NaN
// cells as n/a
func writeConfoundsTSV(path string, table *series.ConfoundTable) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(table.Names); err != nil {
		return err
	}
	rows, cols := table.Data.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := table.Data.At(i, j)
			if math.IsNaN(v) {
				record[j] = "n/a"
			} else {
				record[j] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeEventsTSV(path string, table *series.EventTable) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write([]string{"onset", "duration", "trial_type"}); err != nil {
		return err
	}
	for _, ev := range table.Events {
		rec := []string{
			strconv.FormatFloat(ev.Onset, 'g', -1, 64),
			strconv.FormatFloat(ev.Duration, 'g', -1, 64),
			ev.Condition,
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
