package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"restylinchpin/internal/domain"
	"restylinchpin/internal/repository"
)

// WorkspaceService is the workspace registry. It is the only writer of
// workspace records and applies ownership scoping on every principal-facing
// read. Records owned by someone else are reported as domain.ErrNotFound so
// their existence is not leaked.
type WorkspaceService interface {
	Register(ctx context.Context, p domain.Principal, name string, action domain.Action) (*domain.Workspace, error)
	Get(ctx context.Context, p domain.Principal, id string) (*domain.Workspace, error)
	List(ctx context.Context, p domain.Principal) ([]domain.Workspace, error)
	Search(ctx context.Context, p domain.Principal, name string) ([]domain.Workspace, error)
	ListByStatuses(ctx context.Context, statuses ...domain.WorkspaceStatus) ([]domain.Workspace, error)
	MarkRequested(ctx context.Context, id string, action domain.Action) error
	Finalize(ctx context.Context, id string, status domain.WorkspaceStatus, action domain.Action, cause error) error
	Remove(ctx context.Context, p domain.Principal, id string) (*domain.Workspace, error)
}

type workspaceService struct {
	workspaces repository.WorkspaceRepository
}

func NewWorkspaceService(workspaces repository.WorkspaceRepository) WorkspaceService {
	return &workspaceService{workspaces: workspaces}
}

// NewWorkspaceID prefixes the label with a random token; the result is also
// the on-disk directory name and a URL path segment. A record is written for
// every request, including ones that will end up FAILED, so labels outside
// the workspace name pattern are left out of the id.
func NewWorkspaceID(name string) string {
	if !domain.ValidWorkspaceName(name) {
		return uuid.NewString()
	}
	return uuid.NewString() + "_" + name
}

func (s *workspaceService) Register(ctx context.Context, p domain.Principal, name string, action domain.Action) (*domain.Workspace, error) {
	ws := &domain.Workspace{
		ID:            NewWorkspaceID(name),
		Name:          name,
		Status:        domain.WorkspaceStatusRequested,
		OwnerUsername: p.Username,
		Action:        action,
	}
	if err := s.workspaces.Create(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *workspaceService) Get(ctx context.Context, p domain.Principal, id string) (*domain.Workspace, error) {
	ws, err := s.workspaces.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(ws.OwnerUsername) {
		return nil, fmt.Errorf("%w: workspace %s", domain.ErrNotFound, id)
	}
	return ws, nil
}

func (s *workspaceService) List(ctx context.Context, p domain.Principal) ([]domain.Workspace, error) {
	if p.Admin {
		return s.workspaces.List(ctx)
	}
	return s.workspaces.ListByOwner(ctx, p.Username)
}

func (s *workspaceService) Search(ctx context.Context, p domain.Principal, name string) ([]domain.Workspace, error) {
	matched, err := s.workspaces.ListByName(ctx, name)
	if err != nil {
		return nil, err
	}
	scoped := make([]domain.Workspace, 0, len(matched))
	for _, ws := range matched {
		if p.CanAccess(ws.OwnerUsername) {
			scoped = append(scoped, ws)
		}
	}
	return scoped, nil
}

func (s *workspaceService) ListByStatuses(ctx context.Context, statuses ...domain.WorkspaceStatus) ([]domain.Workspace, error) {
	return s.workspaces.ListByStatuses(ctx, statuses...)
}

func (s *workspaceService) MarkRequested(ctx context.Context, id string, action domain.Action) error {
	return s.workspaces.UpdateStatus(ctx, id, domain.WorkspaceStatusRequested, action, nil)
}

func (s *workspaceService) Finalize(ctx context.Context, id string, status domain.WorkspaceStatus, action domain.Action, cause error) error {
	var msg *string
	if cause != nil {
		m := cause.Error()
		msg = &m
	}
	return s.workspaces.UpdateStatus(ctx, id, status, action, msg)
}

func (s *workspaceService) Remove(ctx context.Context, p domain.Principal, id string) (*domain.Workspace, error) {
	ws, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := s.workspaces.Delete(ctx, ws.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// removed concurrently; the caller still owns the directory cleanup
			return ws, nil
		}
		return nil, err
	}
	return ws, nil
}
