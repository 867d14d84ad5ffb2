// Package v1 holds the wire types and the OpenAPI document of the dash-status API.
package v1

import (
	"time"

	"github.com/google/uuid"
)

// Defines values for RunStatus.
const (
	Succeeded RunStatus = "succeeded"
	Failed    RunStatus = "failed"
)

// Defines values for Trigger.
const (
	Fetch     Trigger = "fetch"
	Scheduled Trigger = "scheduled"
	Manual    Trigger = "manual"
)

// RunStatus is the outcome of a probe run.
type RunStatus string

// Trigger names what started a probe run.
type Trigger string

// LabelsSchema defines model for LabelsSchema.
type LabelsSchema map[string]string

// CreateRunRequest defines model for CreateRunRequest.
type CreateRunRequest struct {
	Labels *LabelsSchema `json:"labels,omitempty"`
}

// VisitObject is the outcome of loading one target.
type VisitObject struct {
	Url             string  `json:"url"`
	StatusCode      int     `json:"status_code"`
	ScreenshotBytes int     `json:"screenshot_bytes"`
	DurationMs      int64   `json:"duration_ms"`
	Error           *string `json:"error,omitempty"`
}

// RunObject is the recorded outcome of one prober invocation.
type RunObject struct {
	Id         uuid.UUID     `json:"id"`
	Trigger    Trigger       `json:"trigger"`
	Status     RunStatus     `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Targets    []string      `json:"targets"`
	Visits     []VisitObject `json:"visits"`
	Error      *string       `json:"error,omitempty"`
	Labels     *LabelsSchema `json:"labels,omitempty"`
}

// RunsArrayResponse defines model for RunsArrayResponse.
type RunsArrayResponse struct {
	Runs []RunObject `json:"runs"`
}

// ErrorObject defines model for ErrorObject.
type ErrorObject struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse defines model for ErrorResponse.
type ErrorResponse struct {
	Error ErrorObject `json:"error"`
}
