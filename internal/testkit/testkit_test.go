package testkit

import (
	"context"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/stat"

	"connectomix/adapters/bids"
	"connectomix/domain/core"
	"connectomix/domain/run"
	"connectomix/internal"
	"connectomix/ports"
)

func TestGeneratorDeterministic(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	a, _ := NewGenerator(cfg).GenerateBOLD()
	b, _ := NewGenerator(cfg).GenerateBOLD()

	if len(a.Data) != len(b.Data) {
		t.Fatalf("lengths differ: %d vs %d", len(a.Data), len(b.Data))
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestClusterSignalRecoverable(t *testing.T) {
	bold, clusters := NewGenerator(DefaultSyntheticConfig()).GenerateBOLD()
	if len(clusters) != 4 {
		t.Fatalf("clusters = %d, want 4", len(clusters))
	}

	for _, c := range clusters {
		mean := bold.MeanOverIndices(c.Indices)
		r := stat.Correlation(mean, c.Signal, nil)
		if r < 0.95 {
			t.Errorf("cluster %s: regional mean correlates %.3f with its source, want > 0.95", c.Name, r)
		}
	}
}

func TestDesignedCorrelationStructure(t *testing.T) {
	_, clusters := NewGenerator(DefaultSyntheticConfig()).GenerateBOLD()
	byName := map[string][]float64{}
	for _, c := range clusters {
		byName[c.Name] = c.Signal
	}

	if r := stat.Correlation(byName["PCC"], byName["mPFC"], nil); r < 0.5 {
		t.Errorf("PCC-mPFC source correlation = %.3f, want the designed coupling > 0.5", r)
	}
	if r := stat.Correlation(byName["PCC"], byName["RIPL"], nil); math.Abs(r) > 0.4 {
		t.Errorf("PCC-RIPL source correlation = %.3f, want near zero", r)
	}
}

func TestConfoundsShape(t *testing.T) {
	table := NewGenerator(DefaultSyntheticConfig()).Confounds(50)
	if table.NumTimepoints() != 50 {
		t.Fatalf("timepoints = %d", table.NumTimepoints())
	}
	fd, ok := table.Column("framewise_displacement")
	if !ok {
		t.Fatal("framewise_displacement column missing")
	}
	if !math.IsNaN(fd[0]) {
		t.Errorf("first FD = %v, fMRIPrep leaves it undefined", fd[0])
	}
	for _, v := range fd[1:] {
		if v < 0 {
			t.Errorf("negative FD %v", v)
		}
	}
}

func TestEventsCoverScan(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	events := NewGenerator(cfg).Events()
	if len(events.Events) < 2 {
		t.Fatalf("events = %d, want an alternating block design", len(events.Events))
	}
	total := float64(cfg.Timepoints) * cfg.TR
	for _, ev := range events.Events {
		if ev.Onset+ev.Duration > total {
			t.Errorf("event at %gs runs past the %gs scan", ev.Onset, total)
		}
	}
	conditions := events.Conditions()
	if len(conditions) != 2 {
		t.Errorf("conditions = %v, want left and right", conditions)
	}
}

func TestWriteUnitDiscoverable(t *testing.T) {
	root := t.TempDir()
	unit := run.Unit{Subject: "01", Task: "rest", Run: "1", Space: "MNI"}

	clusters, err := NewGenerator(DefaultSyntheticConfig()).WriteUnit(context.Background(), root, unit)
	if err != nil {
		t.Fatalf("WriteUnit: %v", err)
	}
	if len(clusters) == 0 {
		t.Fatal("no clusters returned")
	}

	walker := bids.NewWalker(root, internal.NewLogger(internal.LogLevelError))
	found, err := walker.Discover(context.Background(), bids.Filters{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("discovered %d runs, want 1", len(found))
	}
	rf := found[0]
	if rf.Unit != unit {
		t.Errorf("unit = %+v, want %+v", rf.Unit, unit)
	}
	if rf.Confounds == "" || rf.Events == "" || rf.BrainMask == "" {
		t.Errorf("sidecar files missing: confounds=%q events=%q mask=%q", rf.Confounds, rf.Events, rf.BrainMask)
	}
	if rf.RepetitionTime != 2.0 {
		t.Errorf("TR = %v, want 2.0 from the JSON sidecar", rf.RepetitionTime)
	}
}

func TestInMemoryLedger(t *testing.T) {
	ledger := NewInMemoryLedger()
	ctx := context.Background()

	units := []run.Unit{
		{Subject: "01", Task: "rest", Space: "MNI"},
		{Subject: "02", Task: "rest", Space: "MNI"},
	}
	fp := run.NewFingerprint(core.ConfigHash("h"), "roiToRoi", "correlation", "1.0.0")
	manifest := run.NewManifest(fp, "/in", "/out", units)

	if err := ledger.RecordInvocation(ctx, manifest); err != nil {
		t.Fatalf("RecordInvocation: %v", err)
	}

	first := run.NewOutcome(units[0])
	first.FinishedAt = core.NewTimestamp(time.Now().Add(-time.Minute))
	second := run.NewOutcome(units[1])
	second.Status = run.StatusFailed
	second.FinishedAt = core.NewTimestamp(time.Now())
	for _, o := range []*run.Outcome{first, second} {
		if err := ledger.RecordOutcome(ctx, manifest.InvocationID, o); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	got, err := ledger.GetInvocation(ctx, manifest.InvocationID)
	if err != nil {
		t.Fatalf("GetInvocation: %v", err)
	}
	if len(got.Units) != 2 {
		t.Errorf("units = %d", len(got.Units))
	}

	all, err := ledger.ListOutcomes(ctx, ports.OutcomeFilters{})
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(all) != 2 || all[0].Unit.Subject != "02" {
		t.Errorf("expected most recent first, got %+v", all)
	}

	failed := run.StatusFailed
	onlyFailed, err := ledger.ListOutcomes(ctx, ports.OutcomeFilters{Status: &failed})
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(onlyFailed) != 1 || onlyFailed[0].Unit.Subject != "02" {
		t.Errorf("status filter returned %+v", onlyFailed)
	}

	bySubject, err := ledger.ListOutcomes(ctx, ports.OutcomeFilters{Subject: "01"})
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(bySubject) != 1 {
		t.Errorf("subject filter returned %d rows", len(bySubject))
	}

	if err := ledger.CompleteInvocation(ctx, manifest.InvocationID, 1, 1); err != nil {
		t.Errorf("CompleteInvocation: %v", err)
	}
	if err := ledger.CompleteInvocation(ctx, core.InvocationID("missing"), 0, 0); err == nil {
		t.Error("CompleteInvocation accepted an unknown invocation")
	}
}
