// Package report renders the per-invocation summary. The body is built
// as markdown, saved alongside the HTML so it stays diffable, then
// rendered with gomarkdown into a standalone page.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"connectomix/domain/run"
	"connectomix/internal"
	"connectomix/internal/errors"
	"connectomix/ports"
)

// Generator writes invocation reports
type Generator struct {
	log *internal.Logger
}

// NewGenerator creates a report generator
func NewGenerator(logger *internal.Logger) *Generator {
	return &Generator{log: logger.WithPrefix("report")}
}

// WriteReport renders the summary to path and keeps the markdown source
// next to it with a .md extension
func (g *Generator) WriteReport(ctx context.Context, path string, summary ports.ReportData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body := buildMarkdown(summary)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WriteFailed(path, err)
	}

	mdPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".md"
	if err := os.WriteFile(mdPath, []byte(body), 0o644); err != nil {
		return errors.WriteFailed(mdPath, err)
	}

	page := renderPage(summary, body)
	if err := os.WriteFile(path, page, 0o644); err != nil {
		return errors.WriteFailed(path, err)
	}

	g.log.Info("Wrote report for %d units to %s", len(summary.Outcomes), path)
	return nil
}

// renderPage converts the markdown body to HTML and wraps it in a
// minimal self-contained page
func renderPage(summary ports.ReportData, body string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(body))
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	inner := markdown.Render(doc, renderer)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>connectomix report %s</title>\n", summary.Manifest.InvocationID)
	b.WriteString("<style>\n" + pageStyle + "</style>\n</head>\n<body>\n")
	b.Write(inner)
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}

const pageStyle = `body { font-family: sans-serif; max-width: 60em; margin: 2em auto; padding: 0 1em; color: #222; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #bbb; padding: 0.3em 0.7em; text-align: left; }
th { background: #eee; }
code { background: #f4f4f4; padding: 0.1em 0.3em; }
h1, h2 { border-bottom: 1px solid #ddd; padding-bottom: 0.2em; }
`

func buildMarkdown(d ports.ReportData) string {
	var b strings.Builder
	m := d.Manifest

	fmt.Fprintf(&b, "# Connectomix report\n\n")
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Invocation | `%s` |\n", m.InvocationID)
	fmt.Fprintf(&b, "| Version | %s |\n", d.Version)
	fmt.Fprintf(&b, "| Started | %s |\n", m.StartedAt.Time().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Dataset | %s |\n", cell(m.DatasetRoot))
	fmt.Fprintf(&b, "| Output | %s |\n", cell(m.OutputRoot))
	fmt.Fprintf(&b, "| Method | %s |\n", m.Fingerprint.Method)
	fmt.Fprintf(&b, "| Measures | %s |\n", m.Fingerprint.Measures)
	fmt.Fprintf(&b, "| Config hash | `%s` |\n", m.Fingerprint.ConfigHash)
	fmt.Fprintf(&b, "| Units | %d succeeded (%d partial), %d failed of %d |\n",
		d.Succeeded, d.Partial, d.Failed, len(d.Outcomes))
	fmt.Fprintf(&b, "| Elapsed | %s |\n\n", d.Elapsed.Round(time.Second))

	if len(d.Settings) > 0 {
		fmt.Fprintf(&b, "## Settings\n\n")
		fmt.Fprintf(&b, "| Setting | Value |\n|---|---|\n")
		for _, s := range d.Settings {
			fmt.Fprintf(&b, "| %s | %s |\n", cell(s.Name), cell(s.Value))
		}
		b.WriteString("\n")
	}

	writeOutcomes(&b, d)
	writeFailures(&b, d.Outcomes)

	return b.String()
}

func writeOutcomes(b *strings.Builder, d ports.ReportData) {
	if len(d.Outcomes) == 0 {
		return
	}
	outcomes := make([]run.Outcome, len(d.Outcomes))
	copy(outcomes, d.Outcomes)
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Unit.Basename() < outcomes[j].Unit.Basename()
	})

	fmt.Fprintf(b, "## Outcomes\n\n")
	fmt.Fprintf(b, "| Run | Status | Regions | Quality | Duration |\n|---|---|---|---|---|\n")
	for _, o := range outcomes {
		quality := d.Quality[o.Unit.Key()]
		if quality == "" {
			quality = fmt.Sprintf("retained %d/%d volumes", o.RetainedVolumes, o.OriginalVolumes)
		}
		regions := fmt.Sprintf("%d", o.Regions)
		if o.EmptyRegions > 0 {
			regions = fmt.Sprintf("%d (%d empty)", o.Regions, o.EmptyRegions)
		}
		fmt.Fprintf(b, "| `%s` | %s | %s | %s | %s |\n",
			o.Unit.Basename(), statusCell(o.Status), regions, cell(quality),
			o.Elapsed.Round(time.Millisecond))
	}
	b.WriteString("\n")
}

func writeFailures(b *strings.Builder, outcomes []run.Outcome) {
	any := false
	for _, o := range outcomes {
		if len(o.Failures) > 0 {
			any = true
			break
		}
	}
	if !any {
		return
	}

	fmt.Fprintf(b, "## Failures\n\n")
	for _, o := range outcomes {
		if len(o.Failures) == 0 {
			continue
		}
		fmt.Fprintf(b, "### `%s`\n\n", o.Unit.Basename())
		for _, f := range o.Failures {
			scope := ""
			if f.Region != "" {
				scope = fmt.Sprintf(" region %s", f.Region)
			}
			if f.Measure != "" {
				scope += fmt.Sprintf(" measure %s", f.Measure)
			}
			fmt.Fprintf(b, "- **%s**%s: %s\n", f.Class, scope, cell(f.Message))
		}
		b.WriteString("\n")
	}
}

func statusCell(s run.Status) string {
	switch s {
	case run.StatusCompleted:
		return "completed"
	case run.StatusPartial:
		return "**partial**"
	case run.StatusFailed:
		return "**failed**"
	}
	return string(s)
}

// cell escapes the table delimiter so free text cannot break row layout
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
