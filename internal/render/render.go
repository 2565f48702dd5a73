package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

type Renderer interface {
	Render(w io.Writer, report models.RunReport) error
}

// New returns the renderer for f, defaulting to a table.
func New(f Format) Renderer {
	switch f {
	case FormatJSON:
		return &JSON{Indent: true}
	default:
		return &tableRenderer{}
	}
}

// ParseFormat validates a --output value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatTable, "":
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table or json)", s)
	}
}

type tableRenderer struct{}

func (r *tableRenderer) Render(w io.Writer, report models.RunReport) error {
	fmt.Fprintf(w, "Run %s: %s file(s), %s skipped, %s alert(s) emitted\n\n",
		report.RunID,
		humanize.Comma(int64(len(report.Files))),
		humanize.Comma(int64(len(report.Skipped))),
		humanize.Comma(int64(len(report.Emitted()))))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "FILE\tPATTERN\tLINES\tPARSED\tFAILED\tERROR RATE\tP95\tTHREATS\tANOMALIES\tALERTS\n")
	for _, f := range report.Files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			f.File,
			f.Pattern,
			humanize.Comma(int64(f.Parse.Total)),
			humanize.Comma(int64(f.Parse.Parsed)),
			humanize.Comma(int64(f.Parse.Failed)),
			percent(f.Metrics.ErrorRate),
			seconds(f.Metrics.ResponseTime.P95),
			len(f.Security.Findings),
			len(f.Anomalies),
			emitted(f.Decisions),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, f := range report.Files {
		renderFile(w, f)
	}

	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped:\n")
		for _, s := range report.Skipped {
			fmt.Fprintf(w, "  %s: %s\n", s.File, s.Reason)
		}
	}
	return nil
}

func renderFile(w io.Writer, f models.FileReport) {
	fmt.Fprintf(w, "\n--- %s ---\n", f.File)
	if f.Metrics.NoData {
		fmt.Fprintf(w, "No access records.\n")
	} else {
		rt := f.Metrics.ResponseTime
		fmt.Fprintf(w, "Requests: %s  errors: %s (%s)  response time mean/median/p95/p99/max: %s/%s/%s/%s/%s\n",
			humanize.Comma(int64(f.Metrics.TotalRecords)),
			humanize.Comma(int64(f.Metrics.ErrorCount)),
			percent(f.Metrics.ErrorRate),
			seconds(rt.Mean), seconds(rt.Median), seconds(rt.P95), seconds(rt.P99), seconds(rt.Max))
		fmt.Fprintf(w, "Status classes: %s\n", statusClasses(f.Metrics.StatusClasses))
	}

	if slow := f.Metrics.SlowEndpoints(); len(slow) > 0 {
		fmt.Fprintf(w, "Slow endpoints:\n")
		for _, ep := range slow {
			fmt.Fprintf(w, "  %s  n=%d  mean=%s  p95=%s  (%s)\n", ep.Path, ep.Count, seconds(ep.Mean), seconds(ep.P95), strings.Join(ep.SlowReasons, ", "))
		}
	}
	if len(f.Metrics.Issues) > 0 {
		fmt.Fprintf(w, "Issues:\n")
		for _, is := range f.Metrics.Issues {
			fmt.Fprintf(w, "  [%s] %s: %s\n", strings.ToUpper(string(is.Severity)), is.Type, is.Description)
			for _, rec := range is.Recommendations {
				fmt.Fprintf(w, "      - %s\n", rec)
			}
		}
	}
	if len(f.Traffic.Peaks) > 0 {
		fmt.Fprintf(w, "Traffic peaks (%s buckets):\n", f.Traffic.Interval)
		for _, i := range f.Traffic.Peaks {
			b := f.Traffic.Buckets[i]
			fmt.Fprintf(w, "  %s  %s request(s)\n", b.Start.Format("2006-01-02 15:04"), humanize.Comma(int64(b.Requests)))
		}
	}
	if len(f.Security.Sources) > 0 {
		fmt.Fprintf(w, "Threat sources:\n")
		for _, s := range f.Security.Sources {
			fmt.Fprintf(w, "  %s  score=%s  level=%s  %s\n", s.Source, humanize.Ftoa(s.Score), s.Level, categories(s.Categories))
		}
	}
	if len(f.Anomalies) > 0 {
		fmt.Fprintf(w, "Anomalies:\n")
		for _, ev := range f.Anomalies {
			fmt.Fprintf(w, "  %s #%d  observed=%s  baseline=%s  score=%s  %s  (%s)\n",
				ev.Metric, ev.Index,
				humanize.FtoaWithDigits(ev.Observed, 3),
				humanize.FtoaWithDigits(ev.Baseline, 3),
				humanize.FtoaWithDigits(ev.Score, 2),
				ev.Severity, ev.Method)
		}
	}
	if len(f.Decisions) > 0 {
		fmt.Fprintf(w, "Alerts:\n")
		for _, d := range f.Decisions {
			fmt.Fprintf(w, "  %s %s: %d event(s), %s\n", strings.ToUpper(string(d.Outcome)), d.Key, len(d.Events), d.Reason)
			for _, rec := range d.Recommendations {
				fmt.Fprintf(w, "      - %s\n", rec)
			}
		}
	}
	if len(f.Parse.Samples) > 0 {
		fmt.Fprintf(w, "Unparsed samples:\n")
		for _, s := range f.Parse.Samples {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
	for _, warn := range f.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warn)
	}
}

func percent(s models.Stat) string {
	if !s.Present {
		return "n/a"
	}
	return humanize.FtoaWithDigits(s.Value*100, 2) + "%"
}

func seconds(s models.Stat) string {
	if !s.Present {
		return "n/a"
	}
	return humanize.FtoaWithDigits(s.Value, 3) + "s"
}

func emitted(decisions []models.AlertDecision) int {
	n := 0
	for _, d := range decisions {
		if d.Emitted() {
			n++
		}
	}
	return n
}

func statusClasses(classes map[string]int) string {
	keys := make([]string, 0, len(classes))
	for k := range classes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, humanize.Comma(int64(classes[k]))))
	}
	return strings.Join(parts, " ")
}

func categories(counts map[models.Category]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, counts[models.Category(k)]))
	}
	return strings.Join(parts, " ")
}
