package domain

import "time"

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning
}

// IngestionRun tracks one orchestrator execution for a (source, load_type)
// pair. At most one running row may exist per pair at any time; the store
// enforces this with a partial unique index, so the lock survives process
// restarts. A run is mutated only by the orchestrator that created it and is
// immutable once FinishedAt is set.
type IngestionRun struct {
	ID             string
	Source         Source
	LoadType       LoadType
	Status         RunStatus
	StartedAt      time.Time
	FinishedAt     *time.Time
	PagesFetched   int
	RecordsWritten int
	ErrorSummary   string
}

// RecordError is a contained per-record failure. It is aggregated into the
// run result instead of aborting the run.
type RecordError struct {
	LogicalID string
	Err       error
}

// RunResult is what Orchestrator.Run returns to its caller.
type RunResult struct {
	Run          IngestionRun
	RecordErrors []RecordError
}
