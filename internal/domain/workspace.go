package domain

import (
	"regexp"
	"time"
)

type WorkspaceStatus string

const (
	WorkspaceStatusRequested          WorkspaceStatus = "REQUESTED"
	WorkspaceStatusCreated            WorkspaceStatus = "CREATED"
	WorkspaceStatusFailed             WorkspaceStatus = "FAILED"
	WorkspaceStatusProvisioned        WorkspaceStatus = "PROVISIONED"
	WorkspaceStatusFailedProvisioning WorkspaceStatus = "FAILED PROVISIONING"
	WorkspaceStatusDestroyed          WorkspaceStatus = "Destroyed"
	WorkspaceStatusFailedDestroy      WorkspaceStatus = "FAILED destroy"
)

// Action is the lifecycle verb last requested for a workspace.
type Action string

const (
	ActionInit    Action = "init"
	ActionFetch   Action = "fetch"
	ActionUp      Action = "up"
	ActionDestroy Action = "destroy"
)

// Outcome returns the terminal statuses recorded for a verb on success and failure.
func (a Action) Outcome() (success, failure WorkspaceStatus) {
	switch a {
	case ActionUp:
		return WorkspaceStatusProvisioned, WorkspaceStatusFailedProvisioning
	case ActionDestroy:
		return WorkspaceStatusDestroyed, WorkspaceStatusFailedDestroy
	default:
		return WorkspaceStatusCreated, WorkspaceStatusFailed
	}
}

var workspaceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9]*$`)

// ValidWorkspaceName reports whether name is usable as a workspace label.
func ValidWorkspaceName(name string) bool {
	return workspaceNamePattern.MatchString(name)
}

// Workspace is one provisioning unit on disk. ID doubles as the directory name.
type Workspace struct {
	ID            string
	Name          string
	Status        WorkspaceStatus
	OwnerUsername string
	Action        Action
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
