package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restylinchpin/internal/domain"
	"restylinchpin/internal/repository"
	"restylinchpin/internal/store"
)

const (
	fieldID           = "id"
	fieldName         = "name"
	fieldStatus       = "status"
	fieldAction       = "action"
	fieldErrorMessage = "error_message"
)

type WorkspaceRepository struct {
	records store.RecordStore
}

func NewWorkspaceRepository(records store.RecordStore) repository.WorkspaceRepository {
	return &WorkspaceRepository{records: records}
}

func (r *WorkspaceRepository) Create(ctx context.Context, ws *domain.Workspace) error {
	now := time.Now().UTC()
	ws.CreatedAt = now
	ws.UpdatedAt = now

	err := r.records.Insert(ctx, store.Workspaces, store.Document{
		fieldID:           ws.ID,
		fieldName:         ws.Name,
		fieldStatus:       string(ws.Status),
		fieldUsername:     ws.OwnerUsername,
		fieldAction:       string(ws.Action),
		fieldErrorMessage: ws.ErrorMessage,
		fieldCreatedAt:    formatTime(ws.CreatedAt),
		fieldUpdatedAt:    formatTime(ws.UpdatedAt),
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("%w: workspace %s", domain.ErrAlreadyExists, ws.ID)
		}
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) Get(ctx context.Context, id string) (*domain.Workspace, error) {
	doc, err := r.records.FindOne(ctx, store.Workspaces, store.Filter{fieldID: id})
	if err != nil {
		if errors.Is(err, store.ErrNoDocument) {
			return nil, fmt.Errorf("%w: workspace %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("query workspace: %w", err)
	}
	return decodeWorkspace(doc), nil
}

func (r *WorkspaceRepository) List(ctx context.Context) ([]domain.Workspace, error) {
	return r.findAll(ctx, nil)
}

func (r *WorkspaceRepository) ListByOwner(ctx context.Context, username string) ([]domain.Workspace, error) {
	return r.findAll(ctx, store.Filter{fieldUsername: username})
}

func (r *WorkspaceRepository) ListByName(ctx context.Context, name string) ([]domain.Workspace, error) {
	return r.findAll(ctx, store.Filter{fieldName: name})
}

func (r *WorkspaceRepository) ListByStatuses(ctx context.Context, statuses ...domain.WorkspaceStatus) ([]domain.Workspace, error) {
	workspaces := []domain.Workspace{}
	for _, status := range statuses {
		matched, err := r.findAll(ctx, store.Filter{fieldStatus: string(status)})
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, matched...)
	}
	return workspaces, nil
}

func (r *WorkspaceRepository) UpdateStatus(ctx context.Context, id string, status domain.WorkspaceStatus, action domain.Action, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	patch := store.Patch{
		fieldStatus:       string(status),
		fieldErrorMessage: msg,
		fieldUpdatedAt:    formatTime(time.Now().UTC()),
	}
	if action != "" {
		patch[fieldAction] = string(action)
	}

	n, err := r.records.Update(ctx, store.Workspaces, store.Filter{fieldID: id}, patch)
	if err != nil {
		return fmt.Errorf("update workspace status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: workspace %s", domain.ErrNotFound, id)
	}
	return nil
}

func (r *WorkspaceRepository) Delete(ctx context.Context, id string) error {
	n, err := r.records.Remove(ctx, store.Workspaces, store.Filter{fieldID: id})
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: workspace %s", domain.ErrNotFound, id)
	}
	return nil
}

func (r *WorkspaceRepository) findAll(ctx context.Context, filter store.Filter) ([]domain.Workspace, error) {
	docs, err := r.records.FindAll(ctx, store.Workspaces, filter)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	workspaces := make([]domain.Workspace, 0, len(docs))
	for _, doc := range docs {
		workspaces = append(workspaces, *decodeWorkspace(doc))
	}
	return workspaces, nil
}

// decodeWorkspace tolerates legacy records missing owner, name or timestamps.
func decodeWorkspace(doc store.Document) *domain.Workspace {
	return &domain.Workspace{
		ID:            doc.String(fieldID),
		Name:          doc.String(fieldName),
		Status:        domain.WorkspaceStatus(doc.String(fieldStatus)),
		OwnerUsername: doc.String(fieldUsername),
		Action:        domain.Action(doc.String(fieldAction)),
		ErrorMessage:  doc.String(fieldErrorMessage),
		CreatedAt:     parseTime(doc.String(fieldCreatedAt)),
		UpdatedAt:     parseTime(doc.String(fieldUpdatedAt)),
	}
}
