package run

import (
	"time"

	"connectomix/domain/core"
)

// Status summarizes how a unit finished
type Status string

const (
	StatusCompleted Status = "completed" // every region and measure produced
	StatusPartial   Status = "partial"   // some regions or measures failed, artifacts exist
	StatusFailed    Status = "failed"    // no artifacts produced
)

// Failure is one recorded error with its classification. Region and
// Measure are set when the blast radius is narrower than the whole unit.
type Failure struct {
	Class   core.FailureClass `json:"class"`
	Region  string            `json:"region,omitempty"`
	Measure string            `json:"measure,omitempty"`
	Message string            `json:"message"`
}

// Outcome is the per-unit result record written to the ledger
type Outcome struct {
	Unit            Unit           `json:"unit"`
	Fingerprint     core.Hash      `json:"fingerprint,omitempty"`
	Status          Status         `json:"status"`
	Failures        []Failure      `json:"failures,omitempty"`
	OriginalVolumes int            `json:"original_volumes"`
	RetainedVolumes int            `json:"retained_volumes"`
	Regions         int            `json:"regions"`
	EmptyRegions    int            `json:"empty_regions"`
	Artifacts       []string       `json:"artifacts,omitempty"`
	Elapsed         time.Duration  `json:"elapsed_ns"`
	FinishedAt      core.Timestamp `json:"finished_at"`
}

// NewOutcome starts a completed outcome for the unit; recording any
// failure downgrades the status.
func NewOutcome(unit Unit) *Outcome {
	return &Outcome{Unit: unit, Status: StatusCompleted}
}

// RecordFailure classifies err and appends it. An empty region or a
// failed measure leaves sibling results standing, so the unit degrades
// to partial; anything else fails the unit outright.
func (o *Outcome) RecordFailure(err error, region, measure string) {
	class := core.ClassifyError(err)
	o.Failures = append(o.Failures, Failure{
		Class:   class,
		Region:  region,
		Measure: measure,
		Message: err.Error(),
	})
	switch {
	case region != "" || measure != "":
		if o.Status == StatusCompleted {
			o.Status = StatusPartial
		}
	default:
		o.Status = StatusFailed
	}
}

// Succeeded reports whether any artifact was produced
func (o *Outcome) Succeeded() bool {
	return o.Status != StatusFailed
}

// AddArtifact records a written output path
func (o *Outcome) AddArtifact(path string) {
	o.Artifacts = append(o.Artifacts, path)
}

// Finish stamps the elapsed time and completion timestamp
func (o *Outcome) Finish(elapsed time.Duration) {
	o.Elapsed = elapsed
	o.FinishedAt = core.Now()
}
