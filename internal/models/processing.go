package models

// ProcessingStatus is the closed set of processing job states
type ProcessingStatus string

const (
	ProcessingQueued ProcessingStatus = "queued"
	ProcessingActive ProcessingStatus = "processing"
	ProcessingPaused ProcessingStatus = "paused"
	ProcessingError  ProcessingStatus = "error"
	ProcessingDone   ProcessingStatus = "done"
)

// IsTerminal reports whether the job can no longer change
func (s ProcessingStatus) IsTerminal() bool {
	return s == ProcessingDone || s == ProcessingError
}

// Valid reports whether s belongs to the closed set
func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingQueued, ProcessingActive, ProcessingPaused, ProcessingError, ProcessingDone:
		return true
	}
	return false
}

// ProcessingProgress is what a provider plugin reports for one of its jobs
type ProcessingProgress struct {
	ID       string           `json:"id"`
	Progress int              `json:"progress"`
	Status   ProcessingStatus `json:"status"`
	Error    *string          `json:"error,omitempty"`
	Eta      *int64           `json:"eta,omitempty"`
	Request  *RsRequest       `json:"request,omitempty"`
}

// ProcessingHandle is returned by a provider when it accepts a request for processing
type ProcessingHandle struct {
	ProcessingID string           `json:"processing_id"`
	Status       ProcessingStatus `json:"status,omitempty"`
	Progress     int              `json:"progress,omitempty"`
	Eta          *int64           `json:"eta,omitempty"`
}
