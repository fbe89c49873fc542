package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	"github.com/inkwell-ai/inkwell/internal/generation/client"
	generationdomain "github.com/inkwell-ai/inkwell/internal/generation/domain"
	usagedomain "github.com/inkwell-ai/inkwell/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultImageSize = "1024x1024"

// TaskClient is implemented by the provider HTTP client.
type TaskClient interface {
	CreateTask(ctx context.Context, prompt, size string) (*client.Task, error)
	GetTask(ctx context.Context, taskID string) (*client.Task, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Provider TaskClient
	Usage    usagedomain.Service
}

type Service struct {
	log      *zap.Logger
	provider TaskClient
	usage    usagedomain.Service
}

func New(p Params) generationdomain.Service {
	return &Service{
		log:      p.Log.Named("generation.service"),
		provider: p.Provider,
		usage:    p.Usage,
	}
}

// Submit forwards the prompt to the provider and returns its job handle.
// Nothing is billed here; billing happens when a poll first observes the
// terminal outcome.
func (s *Service) Submit(ctx context.Context, req generationdomain.SubmitRequest) (*generationdomain.JobResponse, error) {
	accountID, err := s.accountIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, generationdomain.ErrInvalidPrompt
	}
	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = defaultImageSize
	}

	task, err := s.provider.CreateTask(ctx, prompt, size)
	if err != nil {
		return nil, err
	}

	s.log.Info("generation job submitted",
		zap.String("account_id", accountID.String()),
		zap.String("external_job_id", task.ID),
		zap.String("size", size),
	)

	return &generationdomain.JobResponse{
		JobID:  task.ID,
		Status: normalizeStatus(task.Status),
	}, nil
}

// Poll returns the provider's current view of the job. The first poll that
// observes a terminal status also writes the billing trail: a success charges
// the fixed image price exactly once, a failure is recorded without charge.
func (s *Service) Poll(ctx context.Context, externalJobID string) (*generationdomain.JobResponse, error) {
	accountID, err := s.accountIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	jobID := strings.TrimSpace(externalJobID)
	if jobID == "" {
		return nil, generationdomain.ErrInvalidJobID
	}

	task, err := s.provider.GetTask(ctx, jobID)
	if err != nil {
		if errors.Is(err, client.ErrTaskNotFound) {
			return nil, generationdomain.ErrJobNotFound
		}
		return nil, err
	}

	status := normalizeStatus(task.Status)
	resp := &generationdomain.JobResponse{
		JobID:    task.ID,
		Status:   status,
		ImageURL: task.ImageURL,
	}
	if status == generationdomain.StatusFailed {
		resp.FailureReason = task.Error
	}

	switch status {
	case generationdomain.StatusSucceeded:
		var metadata map[string]any
		if task.ImageURL != "" {
			metadata = map[string]any{"image_url": task.ImageURL}
		}
		outcome, err := s.usage.ChargeAsyncFirstOutcome(ctx, accountID, usagedomain.ActionImageGeneration, jobID, true, metadata)
		if err != nil {
			return nil, err
		}
		s.log.Info("generation poll observed success",
			zap.String("account_id", accountID.String()),
			zap.String("external_job_id", jobID),
			zap.String("billing_outcome", outcome),
		)
	case generationdomain.StatusFailed:
		if _, err := s.usage.ChargeAsyncFirstOutcome(ctx, accountID, usagedomain.ActionImageGeneration, jobID, false, nil); err != nil {
			return nil, err
		}
		s.log.Info("generation poll observed failure",
			zap.String("account_id", accountID.String()),
			zap.String("external_job_id", jobID),
			zap.String("reason", task.Error),
		)
	}

	return resp, nil
}

func (s *Service) accountIDFromContext(ctx context.Context) (snowflake.ID, error) {
	accountID, ok := accountctx.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return 0, generationdomain.ErrInvalidAccount
	}
	return accountID, nil
}

// Providers disagree on terminal status vocabulary; collapse the common
// variants onto ours.
func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "pending", "created":
		return generationdomain.StatusQueued
	case "running", "processing", "in_progress":
		return generationdomain.StatusRunning
	case "succeeded", "success", "completed", "done":
		return generationdomain.StatusSucceeded
	case "failed", "failure", "error", "cancelled":
		return generationdomain.StatusFailed
	default:
		return generationdomain.StatusQueued
	}
}
