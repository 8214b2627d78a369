package orchestrator

import (
	"fmt"
	"time"

	"aggronation/internal/models"
)

// Status classifies how a fetch cycle ended.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusFetchError       Status = "fetch_error"
	StatusPersistenceError Status = "persistence_error"
	StatusUnsupportedType  Status = "unsupported_type"
	StatusSkipped          Status = "skipped"
)

// CycleError is the typed failure of one cycle. Kind is never StatusSuccess.
type CycleError struct {
	Kind     Status
	SourceID string
	Err      error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s for source %s: %v", e.Kind, e.SourceID, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// Outcome summarises one fetch cycle for one source.
type Outcome struct {
	SourceID      string            `json:"source_id"`
	SourceName    string            `json:"source_name,omitempty"`
	SourceType    models.SourceType `json:"source_type,omitempty"`
	Status        Status            `json:"status"`
	ItemsReturned int               `json:"items_returned"`
	ItemsFetched  int               `json:"items_fetched"`
	Created       int               `json:"created"`
	Updated       int               `json:"updated"`
	Failed        int               `json:"failed"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	Duration      time.Duration     `json:"duration"`

	Err *CycleError `json:"-"`
}

// Success reports whether the adapter call and every upsert succeeded.
func (o Outcome) Success() bool { return o.Status == StatusSuccess }

func (o *Outcome) fail(kind Status, err error) {
	o.Status = kind
	o.Err = &CycleError{Kind: kind, SourceID: o.SourceID, Err: err}
	o.Error = err.Error()
}
