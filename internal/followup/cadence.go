// Package followup holds the pure scheduling pieces of the AI texting
// engine: the cadence table, the daily send window, and the scheduler
// that combines them into a lead's next send time.
package followup

import (
	"time"

	"autotext_backend/internal/leads/domain"
)

// Step is one cadence entry: wait Delay after the last touch, and after
// this touch goes out the lead moves to Next. An empty Next marks the
// end of the cadence.
type Step struct {
	Delay time.Duration
	Next  string
}

// Terminal reports whether the cadence ends after this step.
func (s Step) Terminal() bool { return s.Next == "" }

// Table maps stage names to cadence steps. Tables are immutable after
// construction and safe to share across workers.
type Table struct {
	steps   map[string]Step
	initial string
}

// NewTable builds a table from a step map. The initial stage must exist.
func NewTable(initial string, steps map[string]Step) *Table {
	if _, ok := steps[initial]; !ok {
		panic("cadence: initial stage missing from table")
	}
	return &Table{steps: steps, initial: initial}
}

// Initial returns the stage new leads start in.
func (t *Table) Initial() string { return t.initial }

// Lookup returns the step for stage. An unknown stage falls back to the
// initial stage rather than failing; known=false tells the caller to log
// the anomaly.
func (t *Table) Lookup(stage string) (step Step, known bool) {
	if s, ok := t.steps[stage]; ok {
		return s, true
	}
	return t.steps[t.initial], false
}

const day = 24 * time.Hour

// DefaultTable is the stock dealership cadence: a three-message burst on
// the day the lead arrives, twice-daily touches through day two, then a
// tapering schedule out to week six.
func DefaultTable() *Table {
	return NewTable(domain.StageInitial, map[string]Step{
		"Day 0":          {Delay: 0, Next: "Day 0 – Msg 2"},
		"Day 0 – Msg 2":  {Delay: 0, Next: "Day 0 – Msg 3"},
		"Day 0 – Msg 3":  {Delay: day, Next: "Day 1 – Msg 1"},
		"Day 1 – Msg 1":  {Delay: 12 * time.Hour, Next: "Day 1 – Msg 2"},
		"Day 1 – Msg 2":  {Delay: 12 * time.Hour, Next: "Day 1 – Msg 3"},
		"Day 1 – Msg 3":  {Delay: day, Next: "Day 2 – Msg 1"},
		"Day 2 – Msg 1":  {Delay: 12 * time.Hour, Next: "Day 2 – Msg 2"},
		"Day 2 – Msg 2":  {Delay: day, Next: "Day 3 – Msg 1"},
		"Day 3 – Msg 1":  {Delay: day, Next: "Day 4 – Msg 1"},
		"Day 4 – Msg 1":  {Delay: day, Next: "Day 5 – Msg 1"},
		"Day 5 – Msg 1":  {Delay: 2 * day, Next: "Week 1 – Msg 1"},
		"Week 1 – Msg 1": {Delay: 3 * day, Next: "Week 2 – Msg 1"},
		"Week 2 – Msg 1": {Delay: 7 * day, Next: "Week 3 – Msg 1"},
		"Week 3 – Msg 1": {Delay: 7 * day, Next: "Week 4 – Msg 1"},
		"Week 4 – Msg 1": {Delay: 14 * day, Next: "Week 6 – Msg N"},
		"Week 6 – Msg N": {Delay: 14 * day, Next: ""},
	})
}
