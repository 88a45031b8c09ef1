// Package censor computes the retain/drop decision over timepoints.
// Every enabled criterion builds its own mask over the original
// timepoint count and the final mask is their conjunction, so the
// outcome never depends on the order criteria are listed in.
package censor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"connectomix/domain/core"
	"connectomix/domain/series"
	"connectomix/internal"
)

// Criterion names used in logs and insufficient-data causes
const (
	CriterionDropInitial = "drop-initial"
	CriterionMotion      = "motion-threshold"
	CriterionCondition   = "condition-selection"
	CriterionCustomMask  = "custom-mask"
	CriterionMinSegment  = "min-segment"
)

// Criteria is the censoring configuration for one run
type Criteria struct {
	DropInitial int

	MotionColumn    string  // confound column holding a displacement-like value; empty disables
	MotionThreshold float64 // timepoints with value strictly above are dropped

	Conditions       []string // empty disables condition selection
	TransitionBuffer float64  // seconds excluded around condition boundaries

	CustomMask []bool // externally supplied retain vector; nil disables

	MinSegmentLength int // retained segments shorter than this are dropped; 0 disables

	MinVolumes   int     // hard floor on retained volumes
	MinFraction  float64 // hard floor on retained fraction of the original count
	WarnFraction float64 // below this fraction a warning is recorded
}

// Plan is the computed censoring decision plus the bookkeeping needed
// for floors, reports and error causes
type Plan struct {
	Mask              series.CensorMask
	Original          int
	Retained          int
	DroppedBy         map[string]int // per criterion, counted independently
	ConditionRetained map[string]int // per requested condition, after composition
	Warnings          []string
}

// Engine computes censoring plans
type Engine struct {
	log *internal.Logger
}

// NewEngine creates an engine logging under the censor prefix
func NewEngine(logger *internal.Logger) *Engine {
	return &Engine{log: logger.WithPrefix("censor")}
}

// Compute builds the composed mask for a run and enforces the retained
// floors. confounds may be nil when no motion criterion is configured;
// events may be nil when no condition selection is configured. tr is
// required only for condition selection.
func (e *Engine) Compute(numVolumes int, tr float64, confounds *series.ConfoundTable, events *series.EventTable, crit Criteria) (*Plan, error) {
	if numVolumes <= 0 {
		return nil, core.NewConfigurationError("series has no volumes")
	}

	plan := &Plan{
		Original:  numVolumes,
		DroppedBy: make(map[string]int),
	}
	composed := series.NewCensorMask(numVolumes)

	apply := func(name string, m series.CensorMask) error {
		plan.DroppedBy[name] = numVolumes - m.RetainedCount()
		next, err := composed.And(m)
		if err != nil {
			return err
		}
		composed = next
		return nil
	}

	if crit.DropInitial > 0 {
		m, warning := dropInitialMask(numVolumes, crit.DropInitial)
		if warning != "" {
			plan.Warnings = append(plan.Warnings, warning)
			e.log.Warn("%s", warning)
		}
		if err := apply(CriterionDropInitial, m); err != nil {
			return nil, err
		}
	}

	if crit.MotionColumn != "" && crit.MotionThreshold > 0 {
		m, err := motionMask(numVolumes, confounds, crit.MotionColumn, crit.MotionThreshold)
		if err != nil {
			return nil, err
		}
		if err := apply(CriterionMotion, m); err != nil {
			return nil, err
		}
	}

	var perCondition map[string]series.CensorMask
	if len(crit.Conditions) > 0 {
		if events == nil {
			return nil, core.NewConfigurationError("condition selection requested but no events table is available")
		}
		if tr <= 0 {
			return nil, core.NewConfigurationError("condition selection requires a positive repetition time, got %g", tr)
		}
		union, per, err := conditionMasks(numVolumes, tr, events, crit.Conditions, crit.TransitionBuffer)
		if err != nil {
			return nil, err
		}
		perCondition = per
		if err := apply(CriterionCondition, union); err != nil {
			return nil, err
		}
	}

	if crit.CustomMask != nil {
		if len(crit.CustomMask) != numVolumes {
			warning := fmt.Sprintf("custom censor mask has %d entries but the series has %d volumes, ignoring it",
				len(crit.CustomMask), numVolumes)
			plan.Warnings = append(plan.Warnings, warning)
			e.log.Warn("%s", warning)
		} else {
			if err := apply(CriterionCustomMask, series.FromKeep(crit.CustomMask)); err != nil {
				return nil, err
			}
		}
	}

	// segment refinement runs after composition: a segment is short only
	// relative to the final mask
	if crit.MinSegmentLength > 1 {
		refined, dropped := enforceMinSegment(composed, crit.MinSegmentLength)
		plan.DroppedBy[CriterionMinSegment] = dropped
		composed = refined
	}

	plan.Mask = composed
	plan.Retained = composed.RetainedCount()

	if perCondition != nil {
		plan.ConditionRetained = make(map[string]int, len(perCondition))
		for name, m := range perCondition {
			final, err := composed.And(m)
			if err != nil {
				return nil, err
			}
			plan.ConditionRetained[name] = final.RetainedCount()
		}
	}

	if err := e.enforceFloors(plan, crit); err != nil {
		return nil, err
	}

	e.log.Info("retained %d of %d volumes%s", plan.Retained, plan.Original, describeDrops(plan.DroppedBy))
	return plan, nil
}

// enforceFloors rejects the run when too little data survives. With
// condition selection active the volume floor applies to every requested
// condition separately; otherwise it applies to the overall count.
func (e *Engine) enforceFloors(plan *Plan, crit Criteria) error {
	cause := func() string {
		return "censoring" + describeDrops(plan.DroppedBy)
	}

	if plan.ConditionRetained != nil {
		names := make([]string, 0, len(plan.ConditionRetained))
		for name := range plan.ConditionRetained {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if n := plan.ConditionRetained[name]; crit.MinVolumes > 0 && n < crit.MinVolumes {
				return core.NewInsufficientDataError(fmt.Sprintf("%s for condition %q", cause(), name), n, crit.MinVolumes)
			}
		}
	} else if crit.MinVolumes > 0 && plan.Retained < crit.MinVolumes {
		return core.NewInsufficientDataError(cause(), plan.Retained, crit.MinVolumes)
	}

	fraction := float64(plan.Retained) / float64(plan.Original)
	if crit.MinFraction > 0 && fraction < crit.MinFraction {
		floor := int(math.Ceil(crit.MinFraction * float64(plan.Original)))
		return core.NewInsufficientDataError(fmt.Sprintf("%s (%.0f%% fraction floor)", cause(), crit.MinFraction*100), plan.Retained, floor)
	}
	if crit.WarnFraction > 0 && fraction < crit.WarnFraction {
		warning := fmt.Sprintf("only %.1f%% of volumes retained, interpret results with caution", fraction*100)
		plan.Warnings = append(plan.Warnings, warning)
		e.log.Warn("%s", warning)
	}
	return nil
}

// dropInitialMask drops the first n volumes. Dropping everything keeps
// the last volume so downstream stages see a non-empty series, and
// records a warning.
func dropInitialMask(numVolumes, n int) (series.CensorMask, string) {
	if n >= numVolumes {
		keep := make([]bool, numVolumes)
		keep[numVolumes-1] = true
		warning := fmt.Sprintf("drop-initial count %d covers all %d volumes, keeping only the last volume", n, numVolumes)
		return series.FromKeep(keep), warning
	}
	keep := make([]bool, numVolumes)
	for i := n; i < numVolumes; i++ {
		keep[i] = true
	}
	return series.FromKeep(keep), ""
}

// motionMask drops timepoints whose displacement value exceeds the
// threshold. Non-finite values (the n/a first frame) never trigger a
// drop.
func motionMask(numVolumes int, confounds *series.ConfoundTable, column string, threshold float64) (series.CensorMask, error) {
	if confounds == nil {
		return series.CensorMask{}, core.NewConfigurationError("motion censoring requested but no confound table is available")
	}
	values, ok := confounds.Column(column)
	if !ok {
		return series.CensorMask{}, core.NewConfigurationError("motion censoring column %q not present in confound table", column)
	}
	if len(values) != numVolumes {
		return series.CensorMask{}, core.NewConfigurationError("confound table has %d rows but the series has %d volumes", len(values), numVolumes)
	}
	keep := make([]bool, numVolumes)
	for i, v := range values {
		keep[i] = math.IsNaN(v) || v <= threshold
	}
	return series.FromKeep(keep), nil
}

// conditionMasks builds the union mask over the requested conditions
// plus one mask per condition for the floors. A volume belongs to an
// event when its center time (i*TR + TR/2) falls inside the event
// window shrunk by the transition buffer at both edges. Baseline
// keywords select the complement of every event window grown by the
// buffer.
func conditionMasks(numVolumes int, tr float64, events *series.EventTable, requested []string, buffer float64) (series.CensorMask, map[string]series.CensorMask, error) {
	centers := make([]float64, numVolumes)
	for i := range centers {
		centers[i] = float64(i)*tr + tr/2
	}

	baselineRequested := false
	var named []string
	for _, c := range requested {
		if series.IsBaselineCondition(c) {
			baselineRequested = true
			continue
		}
		named = append(named, c)
	}

	available := events.Conditions()
	for _, c := range named {
		if !events.HasCondition(c) {
			return series.CensorMask{}, nil, core.NewConfigurationError(
				"condition %q not found in events file (available: %s)", c, strings.Join(available, ", "))
		}
	}

	per := make(map[string]series.CensorMask)
	union := make([]bool, numVolumes)

	for _, c := range named {
		keep := make([]bool, numVolumes)
		for _, ev := range events.ForCondition(c) {
			lo := ev.Onset + buffer
			hi := ev.Onset + ev.Duration - buffer
			markWindow(keep, centers, lo, hi)
		}
		per[c] = series.FromKeep(keep)
		orInto(union, keep)
	}

	if baselineRequested {
		inAnyEvent := make([]bool, numVolumes)
		for _, ev := range events.Events {
			lo := ev.Onset - buffer
			hi := ev.Onset + ev.Duration + buffer
			markWindow(inAnyEvent, centers, lo, hi)
		}
		keep := make([]bool, numVolumes)
		for i := range keep {
			keep[i] = !inAnyEvent[i]
		}
		per["baseline"] = series.FromKeep(keep)
		orInto(union, keep)
	}

	return series.FromKeep(union), per, nil
}

// markWindow sets keep[i] where lo <= center < hi
func markWindow(keep []bool, centers []float64, lo, hi float64) {
	for i, c := range centers {
		if c >= lo && c < hi {
			keep[i] = true
		}
	}
}

func orInto(dst []bool, src []bool) {
	for i := range dst {
		dst[i] = dst[i] || src[i]
	}
}

// enforceMinSegment drops retained runs shorter than minLen and returns
// how many volumes that removed
func enforceMinSegment(mask series.CensorMask, minLen int) (series.CensorMask, int) {
	n := mask.Len()
	keep := make([]bool, n)
	for i := 0; i < n; i++ {
		keep[i] = mask.Retained(i)
	}

	dropped := 0
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if end-start < minLen {
			for i := start; i < end; i++ {
				keep[i] = false
				dropped++
			}
		}
		start = -1
	}
	for i := 0; i < n; i++ {
		if keep[i] {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
	}
	flush(n)

	return series.FromKeep(keep), dropped
}

// describeDrops renders per-criterion drop counts for log lines and
// error causes, in stable order
func describeDrops(droppedBy map[string]int) string {
	if len(droppedBy) == 0 {
		return ""
	}
	names := make([]string, 0, len(droppedBy))
	for name := range droppedBy {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s removed %d", name, droppedBy[name]))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
