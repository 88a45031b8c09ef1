package run

import (
	"errors"
	"testing"

	"connectomix/domain/core"
)

func TestFingerprintDeterministic(t *testing.T) {
	configHash := core.NewConfigHash([]byte("config body"))

	fp1 := NewFingerprint(configHash, "roiToRoi", "correlation,precision", "1.0.0")
	fp2 := NewFingerprint(configHash, "roiToRoi", "correlation,precision", "1.0.0")

	if fp1.Fingerprint != fp2.Fingerprint {
		t.Errorf("fingerprints not identical: %s vs %s", fp1.Fingerprint, fp2.Fingerprint)
	}
	if fp1.ConfigHash != configHash {
		t.Errorf("ConfigHash not carried: %s", fp1.ConfigHash)
	}
	if fp1.Method != "roiToRoi" || fp1.Measures != "correlation,precision" {
		t.Error("determinism parameters not carried")
	}
}

func TestFingerprintUnique(t *testing.T) {
	base := NewFingerprint(core.NewConfigHash([]byte("config")), "roiToRoi", "correlation", "1.0.0")

	testCases := []struct {
		name string
		fp   Fingerprint
	}{
		{"different config", NewFingerprint(core.NewConfigHash([]byte("other")), "roiToRoi", "correlation", "1.0.0")},
		{"different method", NewFingerprint(core.NewConfigHash([]byte("config")), "seedToSeed", "correlation", "1.0.0")},
		{"different measures", NewFingerprint(core.NewConfigHash([]byte("config")), "roiToRoi", "covariance", "1.0.0")},
		{"different version", NewFingerprint(core.NewConfigHash([]byte("config")), "roiToRoi", "correlation", "1.1.0")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.fp.Fingerprint == base.Fingerprint {
				t.Errorf("fingerprint should differ for %s", tc.name)
			}
		})
	}
}

func TestUnitBasename(t *testing.T) {
	tests := []struct {
		name string
		unit Unit
		want string
	}{
		{
			"all entities",
			Unit{Subject: "01", Session: "pre", Task: "rest", Run: "2", Space: "MNI152NLin2009cAsym"},
			"sub-01_ses-pre_run-2_task-rest_space-MNI152NLin2009cAsym",
		},
		{
			"no session or run",
			Unit{Subject: "17", Task: "rest", Space: "MNI152NLin6Asym"},
			"sub-17_task-rest_space-MNI152NLin6Asym",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.unit.Basename(); got != tt.want {
				t.Errorf("Basename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnitOutputDir(t *testing.T) {
	withSession := Unit{Subject: "01", Session: "pre", Task: "rest", Space: "MNI"}
	if got := withSession.OutputDir(); got != "sub-01/ses-pre" {
		t.Errorf("OutputDir() = %q, want sub-01/ses-pre", got)
	}
	withoutSession := Unit{Subject: "01", Task: "rest", Space: "MNI"}
	if got := withoutSession.OutputDir(); got != "sub-01" {
		t.Errorf("OutputDir() = %q, want sub-01", got)
	}
}

func TestUnitValidate(t *testing.T) {
	valid := Unit{Subject: "01", Task: "rest", Space: "MNI"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	for _, invalid := range []Unit{
		{Task: "rest", Space: "MNI"},
		{Subject: "01", Space: "MNI"},
		{Subject: "01", Task: "rest"},
	} {
		if err := invalid.Validate(); err == nil {
			t.Errorf("Validate(%+v) expected error, got nil", invalid)
		}
	}
}

func TestOutcomeStatusTransitions(t *testing.T) {
	unit := Unit{Subject: "01", Task: "rest", Space: "MNI"}

	o := NewOutcome(unit)
	if o.Status != StatusCompleted {
		t.Fatalf("new outcome status = %s, want completed", o.Status)
	}

	// region-scoped failure degrades to partial
	o.RecordFailure(core.NewEmptyRegionError("PCC", "no in-brain voxels"), "PCC", "")
	if o.Status != StatusPartial {
		t.Errorf("status after region failure = %s, want partial", o.Status)
	}
	if !o.Succeeded() {
		t.Error("partial outcome should still count as succeeded")
	}

	// unit-scoped failure fails outright
	o.RecordFailure(core.NewInsufficientDataError("motion-threshold censoring", 10, 50), "", "")
	if o.Status != StatusFailed {
		t.Errorf("status after unit failure = %s, want failed", o.Status)
	}
	if o.Succeeded() {
		t.Error("failed outcome should not count as succeeded")
	}

	if len(o.Failures) != 2 {
		t.Fatalf("failures recorded = %d, want 2", len(o.Failures))
	}
	if o.Failures[0].Class != core.FailureEmptyRegion {
		t.Errorf("first failure class = %s, want %s", o.Failures[0].Class, core.FailureEmptyRegion)
	}
	if o.Failures[1].Class != core.FailureInsufficientData {
		t.Errorf("second failure class = %s, want %s", o.Failures[1].Class, core.FailureInsufficientData)
	}
}

func TestOutcomeMeasureFailureIsPartial(t *testing.T) {
	o := NewOutcome(Unit{Subject: "02", Task: "rest", Space: "MNI"})
	o.RecordFailure(core.NewNumericalInstabilityError("precision", "covariance is singular"), "", "precision")
	if o.Status != StatusPartial {
		t.Errorf("status after measure failure = %s, want partial", o.Status)
	}
}

func TestManifestValidate(t *testing.T) {
	fp := NewFingerprint(core.NewConfigHash([]byte("cfg")), "roiToRoi", "correlation", "1.0.0")
	units := []Unit{{Subject: "01", Task: "rest", Space: "MNI"}}

	m := NewManifest(fp, "/data/derivatives/fmriprep", "/data/derivatives/connectomix", units)
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if core.ID(m.InvocationID).IsEmpty() {
		t.Error("manifest has no invocation id")
	}

	empty := NewManifest(fp, "/in", "/out", nil)
	err := empty.Validate()
	if err == nil {
		t.Fatal("Validate() with no units expected error, got nil")
	}
	if !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("empty manifest error not classified as configuration: %v", err)
	}
}
