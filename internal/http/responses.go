package http

import (
	"time"

	"restylinchpin/internal/domain"
	"restylinchpin/internal/storage"
)

// Status strings returned in every response body.
const (
	StatusOK              = "200 OK"
	StatusCreated         = "Workspace created successfully"
	StatusDeleted         = "Workspace deleted successfully"
	StatusProvisioned     = "Workspace provisioned successfully"
	StatusDestroyed       = "Workspace/resources destroyed successfully"
	StatusNotFound        = "Workspace does not exist"
	StatusPinfileNotFound = "PinFile not found. Please check that it exists or specify pinfile_path in request"
	StatusEmptyWorkspace  = "Only public repositories can be used as fetch URLs"
	StatusInProgress      = "Workspace operation still in progress"

	StatusUserCreated   = "User created successfully"
	StatusUserUpdated   = "User updated successfully"
	StatusUserDeleted   = "User deleted successfully"
	StatusUserPromoted  = "User has been promoted as admin user"
	StatusKeyDeleted    = "Api key is deleted"
	StatusKeyReset      = "Api key has been reset"
	StatusAuthFailed    = "Invalid username or password, please try again"
	StatusAlreadyExists = "Resource already exists"
	StatusForbidden     = "Operation not permitted"

	StatusInvalidRequest = "Invalid request"
	StatusToolFailure    = "Provisioning tool failed"
	StatusInternalError  = "Internal error"
)

type WorkspaceResponse struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Status       domain.WorkspaceStatus `json:"status"`
	Username     string                 `json:"username"`
	Action       domain.Action          `json:"action,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    string                 `json:"created_at,omitempty"`
	UpdatedAt    string                 `json:"updated_at,omitempty"`
}

type UserResponse struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Admin       bool   `json:"admin"`
	CredsFolder string `json:"creds_folder,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
	URL          string  `json:"url,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func workspaceToResponse(ws domain.Workspace) WorkspaceResponse {
	return WorkspaceResponse{
		ID:           ws.ID,
		Name:         ws.Name,
		Status:       ws.Status,
		Username:     ws.OwnerUsername,
		Action:       ws.Action,
		ErrorMessage: ws.ErrorMessage,
		CreatedAt:    formatTime(ws.CreatedAt),
		UpdatedAt:    formatTime(ws.UpdatedAt),
	}
}

func workspacesToResponse(list []domain.Workspace) []WorkspaceResponse {
	resp := make([]WorkspaceResponse, len(list))
	for i := range list {
		resp[i] = workspaceToResponse(list[i])
	}
	return resp
}

func userToResponse(u domain.User) UserResponse {
	return UserResponse{
		Username:    u.Username,
		Email:       u.Email,
		Admin:       u.Admin,
		CredsFolder: u.CredsFolder,
		CreatedAt:   formatTime(u.CreatedAt),
	}
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
		URL:  obj.URL,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
