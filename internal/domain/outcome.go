package domain

import "time"

// LoopState is the state of a resume loop.
type LoopState string

// Resume loop states.
const (
	StateRunning LoopState = "RUNNING"
	StateDone    LoopState = "DONE"
)

// StopReason explains why a resume loop returned.
type StopReason string

// Stop reasons. Only StopDone corresponds to StateDone.
const (
	StopDone                 StopReason = "done"
	StopNoProgress           StopReason = "no_progress"
	StopMaxPasses            StopReason = "max_passes"
	StopOrchestrationFailure StopReason = "orchestration_failure"
	StopCanceled             StopReason = "canceled"
)

// ItemOutcome is the result of processing one work item in a pass.
type ItemOutcome struct {
	Index    int
	Duration time.Duration

	// Err is nil when the item's record was written.
	Err error
}

// Succeeded reports whether the item's record was written.
func (o ItemOutcome) Succeeded() bool { return o.Err == nil }

// PassReport summarizes one pass of the resume loop.
type PassReport struct {
	// Pass is 1-based.
	Pass int

	Incomplete  int
	Parallelism int
	Chunks      int
	Outcomes    []ItemOutcome
	Duration    time.Duration

	// Err is set when the pass itself failed.
	Err error
}

// Succeeded counts outcomes whose record was written.
func (r PassReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Failed returns the outcomes that did not produce a record.
func (r PassReport) Failed() []ItemOutcome {
	var out []ItemOutcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// RunReport summarizes a full resume loop invocation.
type RunReport struct {
	Stage      string
	State      LoopState
	StopReason StopReason
	Passes     []PassReport
	Total      int
	Completed  int
	Incomplete int

	// Err is the last orchestration failure, if any.
	Err error
}

// Done reports whether every work item has a record.
func (r RunReport) Done() bool { return r.State == StateDone }

// AggregateReport summarizes one aggregation.
type AggregateReport struct {
	Stage  string
	Output string

	// Files counts the record files considered.
	Files int

	// Skipped counts files dropped as malformed or unreadable.
	Skipped int

	// EntriesSkipped counts entries dropped inside otherwise valid files.
	EntriesSkipped int

	Excluded int
	Rows     int
}
