package repository

import (
	"context"

	"restylinchpin/internal/domain"
)

// WorkspaceRepository exposes persistence operations for Workspace records.
type WorkspaceRepository interface {
	Create(ctx context.Context, ws *domain.Workspace) error
	Get(ctx context.Context, id string) (*domain.Workspace, error)
	List(ctx context.Context) ([]domain.Workspace, error)
	ListByOwner(ctx context.Context, username string) ([]domain.Workspace, error)
	ListByName(ctx context.Context, name string) ([]domain.Workspace, error)
	ListByStatuses(ctx context.Context, statuses ...domain.WorkspaceStatus) ([]domain.Workspace, error)
	UpdateStatus(ctx context.Context, id string, status domain.WorkspaceStatus, action domain.Action, errorMessage *string) error
	Delete(ctx context.Context, id string) error
}
