package bids

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"connectomix/domain/connectivity"
	"connectomix/domain/core"
	"connectomix/domain/region"
	"connectomix/domain/run"
	"connectomix/internal/errors"
)

// Layout builds output paths under the derivative root, following the
// entity order of the input convention: subject, session, run, task,
// space, then method and artifact-specific entities.
type Layout struct {
	root string
}

// NewLayout creates a layout rooted at the derivative output directory
func NewLayout(root string) *Layout {
	return &Layout{root: root}
}

// Root returns the derivative root directory
func (l *Layout) Root() string {
	return l.root
}

// MatrixPath names a square connectivity estimate:
// sub-<s>/[ses-<e>/]<basename>_method-<m>_desc-<measure>_matrix.npy
func (l *Layout) MatrixPath(u run.Unit, method connectivity.Method, measure connectivity.Measure) string {
	name := fmt.Sprintf("%s_method-%s_desc-%s_matrix.npy", u.Basename(), method, measure.DescValue())
	return filepath.Join(l.root, u.OutputDir(), name)
}

// MapPath names a voxelwise correlation image for one region. The
// region entity is seed- for seed methods and roi- otherwise, with the
// label cleaned for filename use.
func (l *Layout) MapPath(u run.Unit, method connectivity.Method, label string) string {
	entity := "roi"
	if method.UsesSeeds() {
		entity = "seed"
	}
	name := fmt.Sprintf("%s_method-%s_%s-%s_desc-correlation_map.nii.gz",
		u.Basename(), method, entity, region.SanitizeLabel(label))
	return filepath.Join(l.root, u.OutputDir(), name)
}

// TimeSeriesPath names the extracted region signals table
func (l *Layout) TimeSeriesPath(u run.Unit, method connectivity.Method) string {
	name := fmt.Sprintf("%s_method-%s_timeseries.tsv", u.Basename(), method)
	return filepath.Join(l.root, u.OutputDir(), name)
}

// SidecarPath names the JSON metadata file for a data artifact
func (l *Layout) SidecarPath(dataPath string) string {
	for _, ext := range []string{".npy", ".nii.gz", ".nii", ".tsv"} {
		if strings.HasSuffix(dataPath, ext) {
			return strings.TrimSuffix(dataPath, ext) + ".json"
		}
	}
	return dataPath + ".json"
}

// ReportPath names the invocation report document
func (l *Layout) ReportPath(invocation core.InvocationID) string {
	return filepath.Join(l.root, "reports", fmt.Sprintf("report-%s.html", invocation))
}

// WorkbookPath names the unit's matrix spreadsheet
func (l *Layout) WorkbookPath(u run.Unit, method connectivity.Method) string {
	name := fmt.Sprintf("%s_method-%s_matrices.xlsx", u.Basename(), method)
	return filepath.Join(l.root, u.OutputDir(), name)
}

// ConfigBackupPath names the copy of the resolved configuration kept
// with the outputs
func (l *Layout) ConfigBackupPath(invocation core.InvocationID) string {
	return filepath.Join(l.root, "config", "backups", fmt.Sprintf("participant_config_%s.yaml", invocation))
}

// WriteDescription writes the dataset_description.json that marks the
// output tree as a BIDS derivative. An existing description is left
// alone so repeated invocations do not churn the file.
func (l *Layout) WriteDescription(version string) error {
	path := filepath.Join(l.root, "dataset_description.json")
	if fileExists(path) {
		return nil
	}
	description := map[string]any{
		"Name":        "connectomix",
		"BIDSVersion": "1.6.0",
		"DatasetType": "derivative",
		"PipelineDescription": map[string]any{
			"Name":    "connectomix",
			"Version": version,
		},
	}
	raw, err := json.MarshalIndent(description, "", "    ")
	if err != nil {
		return errors.WriteFailed(path, err)
	}
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return errors.WriteFailed(path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.WriteFailed(path, err)
	}
	return nil
}

// WriteConfigBackup keeps the resolved configuration alongside the
// outputs it produced
func (l *Layout) WriteConfigBackup(ctx context.Context, invocation core.InvocationID, resolved []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := l.ConfigBackupPath(invocation)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.WriteFailed(path, err)
	}
	if err := os.WriteFile(path, resolved, 0o644); err != nil {
		return "", errors.WriteFailed(path, err)
	}
	return path, nil
}
