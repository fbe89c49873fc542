package domain

import (
	"context"
	"errors"
)

// Job statuses as reported by the image provider.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type SubmitRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

type JobResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	ImageURL      string `json:"image_url,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Service fronts the external image provider. Jobs live on the provider
// side only; the billing trail for them is written by the usage service
// when a poll first observes a terminal status.
type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*JobResponse, error)
	Poll(ctx context.Context, externalJobID string) (*JobResponse, error)
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidPrompt  = errors.New("invalid_prompt")
	ErrInvalidJobID   = errors.New("invalid_job_id")
	ErrJobNotFound    = errors.New("job_not_found")
)
