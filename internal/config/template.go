package config

import (
	"os"
	"path/filepath"

	"connectomix/internal/errors"
)

// defaultTemplate is the commented starter config written by config-init.
// Commented-out keys show the default the tool applies when absent.
const defaultTemplate = `# connectomix analysis configuration
#
# Any key left out keeps its default. An empty file runs a roi-to-roi
# correlation analysis over the schaefer2018n100 atlas.

# Analysis method: seedToVoxel, roiToVoxel, seedToSeed or roiToRoi.
method: roiToRoi

# Connectivity measures. Voxelwise methods support correlation only.
connectivity_kinds:
  - correlation
#  - covariance
#  - partial_correlation
#  - precision

# Seed methods: a TSV with columns name/x/y/z (mm), or inline seeds.
#seeds_file: seeds.tsv
#seeds:
#  - {name: PCC, x: 0, y: -53, z: 26}
#radius: 5.0

# ROI methods: an atlas image (with optional label table alongside) or
# explicit binary masks.
atlas: schaefer2018n100
#roi_masks:
#  - masks/dmn.nii.gz

# Confound regression: either a denoising strategy preset or explicit
# column selectors (exact names and shell-style patterns).
#denoising: csfwm_6p
#confound_columns:
#  - trans_*
#  - rot_*
#  - csf

# Band-pass cutoffs in Hz; 0 disables the side.
#high_pass: 0.008
#low_pass: 0.1

# Z-score each regional series after cleaning. Off keeps covariance in
# signal units.
standardize: false

# Covariance shrinkage for precision-based measures: auto, always, never.
shrinkage: auto

censoring:
  # Stabilization volumes dropped from the start of every run.
  drop_initial_volumes: 0
  # Motion censoring: drop volumes whose fd_column value exceeds the
  # threshold. 0 disables.
  fd_threshold: 0.0
  fd_column: framewise_displacement
  # Drop retained segments shorter than this many volumes. 0 disables.
  min_segment_length: 0
  # Externally computed retain vector (.npy of 0/1), ANDed with the rest.
  #custom_mask_file: mask.npy
  condition_selection:
    enabled: false
    #conditions:
    #  - faces
    # Seconds excluded around condition boundaries.
    transition_buffer: 0.0
    # Retention floors; checked per condition when selection is enabled,
    # against the whole censored series otherwise.
    min_volumes_retained: 50
    min_fraction_retained: 0.3
    warn_fraction_retained: 0.5

# BIDS entity filters; unset means everything found in the dataset.
#subjects: ["01", "02"]
#tasks: ["rest"]
#sessions: []
#runs: []
#spaces: ["MNI152NLin2009cAsym"]

outputs:
  # Write extracted regional series as TSV next to each matrix.
  timeseries: true
  # Export square matrices to an xlsx workbook.
  xlsx: false
  # Render the invocation report.
  report: true
`

// WriteDefault writes the starter config to path, creating parent
// directories. Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.New(errors.CodeWriteFailed, "config file already exists: "+path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WriteFailed(path, err)
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o644); err != nil {
		return errors.WriteFailed(path, err)
	}
	return nil
}
