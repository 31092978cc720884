package output

import (
	"time"

	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/inventory"
)

// Report is everything a rotation run produced
type Report struct {
	RunID     string
	DryRun    bool
	LogDir    string
	Outcomes  []executor.Outcome
	Malformed []inventory.MalformedLine
	Stats     executor.Stats
}

// Summary summarizes the report's terminal outcomes
func (r Report) Summary() executor.Summary {
	return executor.Summarize(r.Outcomes)
}

// Lines is the number of input lines the report accounts for
func (r Report) Lines() int {
	return len(r.Outcomes) + len(r.Malformed)
}

// reportDoc is the structured view shared by the JSON and YAML formatters.
// Durations are rendered as strings; credentials never appear.
type reportDoc struct {
	RunID     string         `json:"runId,omitempty" yaml:"runId,omitempty"`
	DryRun    bool           `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`
	LogDir    string         `json:"logDir,omitempty" yaml:"logDir,omitempty"`
	Summary   summaryDoc     `json:"summary" yaml:"summary"`
	Targets   []targetDoc    `json:"targets" yaml:"targets"`
	Malformed []malformedDoc `json:"malformed" yaml:"malformed"`
}

type summaryDoc struct {
	Lines       int            `json:"lines" yaml:"lines"`
	Records     int            `json:"records" yaml:"records"`
	Successful  int            `json:"successful" yaml:"successful"`
	Failed      int            `json:"failed" yaml:"failed"`
	Malformed   int            `json:"malformed" yaml:"malformed"`
	SuccessRate float64        `json:"successRate" yaml:"successRate"`
	Attempts    int            `json:"attempts" yaml:"attempts"`
	Retries     int64          `json:"retries" yaml:"retries"`
	PeakWorkers int64          `json:"peakWorkers" yaml:"peakWorkers"`
	ByCause     map[string]int `json:"byCause,omitempty" yaml:"byCause,omitempty"`
	AvgDuration string         `json:"avgDuration" yaml:"avgDuration"`
	MaxDuration string         `json:"maxDuration" yaml:"maxDuration"`
	Elapsed     string         `json:"elapsed" yaml:"elapsed"`
}

type targetDoc struct {
	Line     int    `json:"line" yaml:"line"`
	Address  string `json:"address" yaml:"address"`
	User     string `json:"user" yaml:"user"`
	Status   string `json:"status" yaml:"status"`
	Cause    string `json:"cause,omitempty" yaml:"cause,omitempty"`
	Message  string `json:"message" yaml:"message"`
	Attempts int    `json:"attempts" yaml:"attempts"`
	Duration string `json:"duration" yaml:"duration"`
}

type malformedDoc struct {
	Line   int    `json:"line" yaml:"line"`
	Reason string `json:"reason" yaml:"reason"`
}

func roundDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func newReportDoc(r Report) reportDoc {
	s := r.Summary()

	var byCause map[string]int
	if len(s.ByCause) > 0 {
		byCause = make(map[string]int, len(s.ByCause))
		for cause, n := range s.ByCause {
			byCause[string(cause)] = n
		}
	}

	doc := reportDoc{
		RunID:  r.RunID,
		DryRun: r.DryRun,
		LogDir: r.LogDir,
		Summary: summaryDoc{
			Lines:       r.Lines(),
			Records:     s.Total,
			Successful:  s.Successful,
			Failed:      s.Failed,
			Malformed:   len(r.Malformed),
			SuccessRate: s.SuccessRate,
			Attempts:    s.Attempts,
			Retries:     r.Stats.Retries,
			PeakWorkers: r.Stats.Slots.Peak,
			ByCause:     byCause,
			AvgDuration: roundDuration(s.AvgDuration),
			MaxDuration: roundDuration(s.MaxDuration),
			Elapsed:     roundDuration(r.Stats.Duration),
		},
		Targets:   make([]targetDoc, 0, len(r.Outcomes)),
		Malformed: make([]malformedDoc, 0, len(r.Malformed)),
	}

	for _, o := range r.Outcomes {
		doc.Targets = append(doc.Targets, targetDoc{
			Line:     o.Record.Line,
			Address:  o.Record.Address,
			User:     o.Record.User,
			Status:   string(o.Status),
			Cause:    string(o.Cause),
			Message:  o.Message,
			Attempts: o.Attempt,
			Duration: roundDuration(o.Duration),
		})
	}
	// the raw text of a rejected line may hold credentials; only the
	// badlines log keeps it
	for _, m := range r.Malformed {
		doc.Malformed = append(doc.Malformed, malformedDoc{Line: m.Line, Reason: m.Reason})
	}

	return doc
}
