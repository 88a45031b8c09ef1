package run

import (
	"fmt"
	"path/filepath"
	"strings"

	"connectomix/domain/core"
)

// Unit is one subject-run work item: the BIDS entities that identify a
// single functional series. Session and Run are optional and empty when
// the dataset does not use them.
type Unit struct {
	Subject string `json:"subject"`
	Session string `json:"session,omitempty"`
	Task    string `json:"task"`
	Run     string `json:"run,omitempty"`
	Space   string `json:"space"`
}

// Key returns the stable identifier used for ledger rows and log lines
func (u Unit) Key() core.RunKey {
	return core.RunKey(u.Basename())
}

// Basename returns the BIDS entity chain without suffix, in the order
// outputs are named: subject, session, run, task, space.
func (u Unit) Basename() string {
	parts := []string{"sub-" + u.Subject}
	if u.Session != "" {
		parts = append(parts, "ses-"+u.Session)
	}
	if u.Run != "" {
		parts = append(parts, "run-"+u.Run)
	}
	parts = append(parts, "task-"+u.Task, "space-"+u.Space)
	return strings.Join(parts, "_")
}

// ParseUnit rebuilds a unit from its Basename form. It accepts any
// segment order so ledger rows survive naming changes.
func ParseUnit(s string) (Unit, error) {
	var u Unit
	for _, part := range strings.Split(s, "_") {
		k, v, ok := strings.Cut(part, "-")
		if !ok || v == "" {
			return Unit{}, core.NewConfigurationError("bad entity segment %q in unit key %q", part, s)
		}
		switch k {
		case "sub":
			u.Subject = v
		case "ses":
			u.Session = v
		case "run":
			u.Run = v
		case "task":
			u.Task = v
		case "space":
			u.Space = v
		default:
			return Unit{}, core.NewConfigurationError("unknown entity %q in unit key %q", k, s)
		}
	}
	if err := u.Validate(); err != nil {
		return Unit{}, err
	}
	return u, nil
}

// OutputDir returns the directory for this unit's artifacts, relative
// to the derivatives root: sub-<label>[/ses-<label>].
func (u Unit) OutputDir() string {
	dir := "sub-" + u.Subject
	if u.Session != "" {
		dir = filepath.Join(dir, "ses-"+u.Session)
	}
	return dir
}

// String returns a compact human-readable form for logs
func (u Unit) String() string {
	s := "sub-" + u.Subject
	if u.Session != "" {
		s += " ses-" + u.Session
	}
	s += " task-" + u.Task
	if u.Run != "" {
		s += " run-" + u.Run
	}
	return s
}

// Validate checks the required entities are present
func (u Unit) Validate() error {
	if u.Subject == "" {
		return core.NewConfigurationError("unit has no subject")
	}
	if u.Task == "" {
		return core.NewConfigurationError("unit %s has no task", u.Subject)
	}
	if u.Space == "" {
		return core.NewConfigurationError("unit %s has no space", u.Subject)
	}
	return nil
}

// Hash returns a short content hash of the entity chain, used to
// correlate ledger rows with filesystem artifacts.
func (u Unit) Hash() core.Hash {
	return core.NewHash([]byte(fmt.Sprintf("subject:%s|session:%s|task:%s|run:%s|space:%s",
		u.Subject, u.Session, u.Task, u.Run, u.Space)))
}
