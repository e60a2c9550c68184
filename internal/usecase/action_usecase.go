package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/infra/logger"
	"github.com/fixora/sqlaudit/internal/ports"
	"github.com/fixora/sqlaudit/internal/reconcile"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ActionUseCase exposes the action history and the explicit user operations
// on recorded state
type ActionUseCase struct {
	uow    ports.UnitOfWork
	logger logger.Logger
	now    func() time.Time
}

// NewActionUseCase creates a new action use case
func NewActionUseCase(uow ports.UnitOfWork, log logger.Logger) *ActionUseCase {
	if log == nil {
		log = logger.NewNop()
	}
	return &ActionUseCase{uow: uow, logger: log, now: time.Now}
}

// List retrieves actions based on filter, newest first
func (uc *ActionUseCase) List(ctx context.Context, filter domain.ActionFilter) ([]*domain.Action, error) {
	filter.Limit = clampLimit(filter.Limit)

	var actions []*domain.Action
	err := uc.uow.WithinReadTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		var err error
		actions, err = repos.Actions.List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	return actions, nil
}

// EditDescription overrides the description of a recorded action. Later
// passes never overwrite it.
func (uc *ActionUseCase) EditDescription(ctx context.Context, actionID, description string) (*domain.Action, error) {
	if actionID == "" {
		return nil, domain.ErrInvalidInput("action ID is required")
	}

	var action *domain.Action
	err := uc.uow.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		var err error
		action, err = reconcile.ApplyEdit(ctx, repos.Actions, domain.ActionEdit{
			ActionID: actionID,
			Field:    domain.ActionFieldDescription,
			Value:    description,
		}, uc.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to edit action: %w", err)
	}

	uc.logger.Info(ctx, "Action description edited", map[string]interface{}{
		"action_id":  action.ID,
		"entity_key": action.EntityKey,
	})
	return action, nil
}

// RevokeException removes the exception of an entity. The stored annotation
// moves off ACCEPTED_RISK so the next sync does not grant it again; its sync
// baseline is kept, which makes the revocation a store-side edit.
func (uc *ActionUseCase) RevokeException(ctx context.Context, key domain.EntityKey) (*domain.Exception, error) {
	if key == "" {
		return nil, domain.ErrInvalidInput("entity key is required")
	}

	var revoked *domain.Exception
	err := uc.uow.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		exc, err := repos.Exceptions.FindByEntity(ctx, key)
		if err != nil {
			return err
		}
		if err := repos.Exceptions.Delete(ctx, exc.ID); err != nil {
			return err
		}
		revoked = exc

		annotation, err := repos.Annotations.FindByEntity(ctx, key)
		if err != nil {
			return err
		}
		if annotation == nil || annotation.Values.ReviewStatus != domain.ReviewStatusAcceptedRisk {
			return nil
		}
		annotation.Values.ReviewStatus = domain.ReviewStatusReviewed
		annotation.LastEditedAt = uc.now().UTC().Truncate(time.Second)
		return repos.Annotations.Upsert(ctx, annotation)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to revoke exception: %w", err)
	}

	uc.logger.Info(ctx, "Exception revoked", map[string]interface{}{
		"exception_id": revoked.ID,
		"entity_key":   key,
	})
	return revoked, nil
}

// ListRuns returns the newest runs first
func (uc *ActionUseCase) ListRuns(ctx context.Context, limit int) ([]*domain.AuditRun, error) {
	var runs []*domain.AuditRun
	err := uc.uow.WithinReadTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		var err error
		runs, err = repos.Runs.List(ctx, clampLimit(limit))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ReportData gathers what the report writer renders for one run. A zero
// runID selects the latest completed run.
func (uc *ActionUseCase) ReportData(ctx context.Context, runID int64) (*ports.ReportData, error) {
	data := &ports.ReportData{}
	err := uc.uow.WithinReadTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		var err error
		if runID == 0 {
			data.Run, err = repos.Runs.LatestCompleted(ctx)
		} else {
			data.Run, err = repos.Runs.FindByID(ctx, runID)
		}
		if err != nil {
			return err
		}

		if data.Findings, err = repos.Findings.ListByRun(ctx, data.Run.ID); err != nil {
			return err
		}
		if data.Annotations, err = repos.Annotations.List(ctx); err != nil {
			return err
		}
		if data.Exceptions, err = repos.Exceptions.List(ctx); err != nil {
			return err
		}
		id := data.Run.ID
		data.Actions, err = repos.Actions.List(ctx, domain.ActionFilter{SyncRunID: &id})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load report data: %w", err)
	}
	return data, nil
}

// WriteReport renders the report of one run through writer
func (uc *ActionUseCase) WriteReport(ctx context.Context, writer ports.ReportWriter, runID int64) (*ports.ReportData, error) {
	data, err := uc.ReportData(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := writer.Write(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return data, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
