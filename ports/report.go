package ports

import (
	"time"

	"connectomix/domain/core"
	"connectomix/domain/run"
)

// Setting is one resolved configuration entry shown in reports
type Setting struct {
	Name  string
	Value string
}

// ReportData is everything a report or summary export needs about one
// finished invocation
type ReportData struct {
	Manifest  *run.Manifest
	Outcomes  []run.Outcome
	Settings  []Setting
	Quality   map[core.RunKey]string // per-run QC line, keyed by Outcome.Unit.Key()
	Succeeded int
	Failed    int
	Partial   int
	Elapsed   time.Duration
	Version   string
}

// Count tallies outcome statuses. Partial outcomes also count as
// succeeded since they produced artifacts.
func (d *ReportData) Count() {
	d.Succeeded, d.Failed, d.Partial = 0, 0, 0
	for _, o := range d.Outcomes {
		switch o.Status {
		case run.StatusCompleted:
			d.Succeeded++
		case run.StatusPartial:
			d.Partial++
			d.Succeeded++
		case run.StatusFailed:
			d.Failed++
		}
	}
}
