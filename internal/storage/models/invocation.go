package models

import (
	"time"
)

// Invocation is one recorded build or build-data run
type Invocation struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`    // cli or api
	Operation   string     `json:"operation"` // build or build_data
	Job         string     `json:"job"`
	Parameters  string     `json:"parameters,omitempty"`
	BuildNumber int        `json:"build_number,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// OutputValue is one value a build reported to its host
type OutputValue struct {
	Scope     string    `json:"scope"`
	Key       string    `json:"key"`
	Value     string    `json:"value"` // JSON encoded
	UpdatedAt time.Time `json:"updated_at"`
}
