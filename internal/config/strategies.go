package config

import (
	"sort"
	"strings"

	"connectomix/domain/core"
)

// Strategy is a named denoising preset: the confound columns to regress
// and, for rigid strategies, the motion censoring it implies
type Strategy struct {
	Name             string
	Confounds        []string
	Rigid            bool
	FDThreshold      float64 // only set for rigid strategies
	MinSegmentLength int
	Description      string
}

var motion6p = []string{"trans_x", "trans_y", "trans_z", "rot_x", "rot_y", "rot_z"}

var motion24p = []string{
	"trans_x", "trans_y", "trans_z", "rot_x", "rot_y", "rot_z",
	"trans_x_derivative_1", "trans_y_derivative_1", "trans_z_derivative_1",
	"rot_x_derivative_1", "rot_y_derivative_1", "rot_z_derivative_1",
	"trans_x**2", "trans_y**2", "trans_z**2",
	"rot_x**2", "rot_y**2", "rot_z**2",
	"trans_x_derivative_1**2", "trans_y_derivative_1**2", "trans_z_derivative_1**2",
	"rot_x_derivative_1**2", "rot_y_derivative_1**2", "rot_z_derivative_1**2",
}

// strategies holds the predefined denoising presets. Columns follow the
// fMRIPrep confound naming convention.
var strategies = map[string]Strategy{
	"minimal": {
		Name:        "minimal",
		Confounds:   motion6p,
		Description: "6 motion parameters only",
	},
	"csfwm_6p": {
		Name:        "csfwm_6p",
		Confounds:   join([]string{"csf", "white_matter"}, motion6p),
		Description: "CSF + WM + 6 motion parameters",
	},
	"csfwm_12p": {
		Name: "csfwm_12p",
		Confounds: join([]string{"csf", "white_matter"}, motion6p, []string{
			"trans_x_derivative_1", "trans_y_derivative_1", "trans_z_derivative_1",
			"rot_x_derivative_1", "rot_y_derivative_1", "rot_z_derivative_1",
		}),
		Description: "CSF + WM + 12 motion parameters (6 + derivatives)",
	},
	"gs_csfwm_6p": {
		Name:        "gs_csfwm_6p",
		Confounds:   join([]string{"global_signal", "csf", "white_matter"}, motion6p),
		Description: "Global + CSF + WM + 6 motion parameters",
	},
	"gs_csfwm_12p": {
		Name: "gs_csfwm_12p",
		Confounds: join([]string{"global_signal", "csf", "white_matter"}, motion6p, []string{
			"trans_x_derivative_1", "trans_y_derivative_1", "trans_z_derivative_1",
			"rot_x_derivative_1", "rot_y_derivative_1", "rot_z_derivative_1",
		}),
		Description: "Global + CSF + WM + 12 motion parameters",
	},
	"csfwm_24p": {
		Name:        "csfwm_24p",
		Confounds:   join([]string{"csf", "white_matter"}, motion24p),
		Description: "CSF + WM + 24 motion parameters (6 + derivatives + squares)",
	},
	"compcor_6p": {
		Name: "compcor_6p",
		Confounds: join([]string{
			"a_comp_cor_00", "a_comp_cor_01", "a_comp_cor_02",
			"a_comp_cor_03", "a_comp_cor_04", "a_comp_cor_05",
		}, motion6p),
		Description: "6 aCompCor components + 6 motion parameters",
	},
	"simpleGSR": {
		Name:        "simpleGSR",
		Confounds:   join([]string{"global_signal", "csf", "white_matter"}, motion24p),
		Description: "Global + CSF + WM + 24 motion (preserves time series)",
	},
	"scrubbing5": {
		Name:             "scrubbing5",
		Confounds:        join([]string{"csf", "white_matter"}, motion24p),
		Rigid:            true,
		FDThreshold:      0.5,
		MinSegmentLength: 5,
		Description:      "CSF/WM + 24 motion + FD 0.5 censoring + 5-volume scrubbing",
	},
}

// GetStrategy resolves a denoising strategy by name
func GetStrategy(name string) (Strategy, error) {
	s, ok := strategies[name]
	if !ok {
		return Strategy{}, core.NewConfigurationError("unknown denoising strategy %q (available: %s)",
			name, strings.Join(StrategyNames(), ", "))
	}
	return s, nil
}

// StrategyNames lists the available strategies in alphabetical order
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func join(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
