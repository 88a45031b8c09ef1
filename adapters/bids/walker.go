package bids

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"connectomix/domain/run"
	"connectomix/internal"
	"connectomix/internal/errors"
)

// Filters narrows discovery to the requested entities. Empty lists
// impose no restriction.
type Filters struct {
	Subjects []string
	Tasks    []string
	Sessions []string
	Runs     []string
	Spaces   []string
}

// RunFiles is everything discovery found for one functional run. Only
// Bold is guaranteed to exist; the side files are empty strings when
// absent and the pipeline decides whether that matters.
type RunFiles struct {
	Unit           run.Unit
	Bold           string
	Confounds      string
	Events         string
	BrainMask      string
	RepetitionTime float64
}

// Walker discovers functional runs in a denoised-derivatives tree
type Walker struct {
	root string
	log  *internal.Logger
}

// NewWalker creates a walker over the given derivatives root
func NewWalker(root string, logger *internal.Logger) *Walker {
	return &Walker{root: root, log: logger.WithPrefix("discover")}
}

// Root returns the derivatives root the walker searches
func (w *Walker) Root() string {
	return w.root
}

// Discover finds the denoised bold series matching the filters, with
// their confound tables, sidecar metadata, events and brain masks.
// Results are sorted by path so unit order is stable across runs.
func (w *Walker) Discover(ctx context.Context, f Filters) ([]RunFiles, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	patterns := []string{
		filepath.Join(w.root, "sub-*", "func", "*_desc-denoised_bold.nii*"),
		filepath.Join(w.root, "sub-*", "ses-*", "func", "*_desc-denoised_bold.nii*"),
	}
	var paths []string
	for _, pat := range patterns {
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, errors.ReadFailed(pat, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	var out []RunFiles
	for _, path := range paths {
		ents := parseEntities(path)
		if ents["sub"] == "" || ents["task"] == "" || ents["space"] == "" {
			w.log.Warn("skipping %s: missing sub, task or space entity", filepath.Base(path))
			continue
		}
		if !allowed(ents["sub"], f.Subjects) || !allowed(ents["task"], f.Tasks) ||
			!allowed(ents["ses"], f.Sessions) || !allowed(ents["run"], f.Runs) ||
			!allowed(ents["space"], f.Spaces) {
			continue
		}

		unit := run.Unit{
			Subject: ents["sub"],
			Session: ents["ses"],
			Task:    ents["task"],
			Run:     ents["run"],
			Space:   ents["space"],
		}
		funcDir := filepath.Dir(path)
		rf := RunFiles{
			Unit:           unit,
			Bold:           path,
			Confounds:      w.findConfounds(funcDir, ents),
			Events:         w.findEvents(funcDir, ents),
			BrainMask:      w.findBrainMask(funcDir, ents),
			RepetitionTime: w.readRepetitionTime(path),
		}
		w.log.Debug("%s: confounds=%s events=%s mask=%s tr=%gs",
			unit, shortName(rf.Confounds), shortName(rf.Events), shortName(rf.BrainMask), rf.RepetitionTime)
		out = append(out, rf)
	}

	if len(out) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			"no denoised bold series found under "+w.root+" matching the requested entities")
	}
	w.log.Info("discovered %d functional runs under %s", len(out), w.root)
	return out, nil
}

// findConfounds locates the confound table for one run. The modern
// _desc-confounds_timeseries.tsv name wins over the legacy
// _confounds.tsv one.
func (w *Walker) findConfounds(dir string, ents entities) string {
	var legacy string
	for _, name := range listDir(dir) {
		e := parseEntities(name)
		if !sameRun(e, ents) {
			continue
		}
		switch {
		case suffix(name) == "timeseries" && e["desc"] == "confounds" && strings.HasSuffix(name, ".tsv"):
			return filepath.Join(dir, name)
		case suffix(name) == "confounds" && strings.HasSuffix(name, ".tsv") && legacy == "":
			legacy = filepath.Join(dir, name)
		}
	}
	return legacy
}

// findEvents locates the task timing table. Subject-specific files win
// over dataset-wide ones, and a file without the run entity serves all
// runs of its task.
func (w *Walker) findEvents(dir string, ents entities) string {
	// subject-specific, exact run
	if p := findEventsIn(dir, ents["task"], ents["ses"], ents["run"], ents["sub"]); p != "" {
		return p
	}
	// dataset-wide, exact run
	if p := findEventsIn(w.root, ents["task"], "", ents["run"], ""); p != "" {
		return p
	}
	// shared across runs
	if ents["run"] != "" {
		if p := findEventsIn(dir, ents["task"], ents["ses"], "", ents["sub"]); p != "" {
			return p
		}
		if p := findEventsIn(w.root, ents["task"], "", "", ""); p != "" {
			return p
		}
	}
	return ""
}

func findEventsIn(dir, task, session, runLabel, subject string) string {
	for _, name := range listDir(dir) {
		if suffix(name) != "events" || !strings.HasSuffix(name, ".tsv") {
			continue
		}
		e := parseEntities(name)
		if e["task"] != task || e["run"] != runLabel || e["sub"] != subject {
			continue
		}
		if session != "" && e["ses"] != "" && e["ses"] != session {
			continue
		}
		return filepath.Join(dir, name)
	}
	return ""
}

// findBrainMask locates the run's brain mask, preferring a task
// matched mask over a generic one. Both the run's own func directory
// and a masks directory at the dataset root are searched.
func (w *Walker) findBrainMask(funcDir string, ents entities) string {
	dirs := []string{funcDir, filepath.Join(w.root, "masks")}
	var generic string
	for _, dir := range dirs {
		for _, name := range listDir(dir) {
			if suffix(name) != "mask" {
				continue
			}
			e := parseEntities(name)
			if e["desc"] != "brain" || e["sub"] != ents["sub"] || e["space"] != ents["space"] {
				continue
			}
			if e["ses"] != "" && e["ses"] != ents["ses"] {
				continue
			}
			switch e["task"] {
			case ents["task"]:
				return filepath.Join(dir, name)
			case "":
				if generic == "" {
					generic = filepath.Join(dir, name)
				}
			}
		}
	}
	return generic
}

// readRepetitionTime pulls RepetitionTime from the bold sidecar JSON.
// Zero means no sidecar; the volume reader then falls back to the
// header with a warning.
func (w *Walker) readRepetitionTime(boldPath string) float64 {
	sidecar := strings.TrimSuffix(boldPath, ".gz")
	sidecar = strings.TrimSuffix(sidecar, ".nii") + ".json"
	raw, err := os.ReadFile(sidecar)
	if err != nil {
		return 0
	}
	var meta struct {
		RepetitionTime float64 `json:"RepetitionTime"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		w.log.Warn("unreadable sidecar %s: %v", sidecar, err)
		return 0
	}
	return meta.RepetitionTime
}

// sameRun reports whether a side file belongs to the same acquisition
// as the bold file: subject, session, task and run must agree exactly,
// absence included.
func sameRun(a, b entities) bool {
	return a["sub"] == b["sub"] && a["ses"] == b["ses"] && a["task"] == b["task"] && a["run"] == b["run"]
}

func shortName(path string) string {
	if path == "" {
		return "none"
	}
	return filepath.Base(path)
}

func listDir(dir string) []string {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() {
			names = append(names, d.Name())
		}
	}
	return names
}
