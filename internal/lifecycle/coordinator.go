// Package lifecycle drives workspaces through their states. It is the only
// caller of the provisioning tool and the only interpreter of its outcome.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"restylinchpin/internal/artifacts"
	"restylinchpin/internal/command"
	"restylinchpin/internal/domain"
	"restylinchpin/internal/runner"
	"restylinchpin/internal/service"
	"restylinchpin/internal/storage"
)

// errInterrupted is recorded for work that was in flight when the process stopped.
var errInterrupted = errors.New("interrupted")

// CredentialsLookup resolves a user's stored credentials folder.
type CredentialsLookup interface {
	GetUser(ctx context.Context, username string) (*domain.User, error)
}

type Config struct {
	Builder       command.Builder
	Artifacts     artifacts.Reader
	UploadTimeout time.Duration
	Logger        *logrus.Logger
}

// Result reports the outcome of one lifecycle request.
type Result struct {
	Workspace *domain.Workspace
	Tool      *runner.Result
	Outputs   *artifacts.Outputs
	Archive   string
	Warnings  []string
}

type Coordinator struct {
	cfg        Config
	workspaces service.WorkspaceService
	users      CredentialsLookup
	runner     runner.Runner
	archive    storage.Archive
}

// NewCoordinator wires the coordinator. users and archive may be nil.
func NewCoordinator(cfg Config, workspaces service.WorkspaceService, users CredentialsLookup, run runner.Runner, archive storage.Archive) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	return &Coordinator{
		cfg:        cfg,
		workspaces: workspaces,
		users:      users,
		runner:     run,
		archive:    archive,
	}
}

// Create registers a workspace and runs init in its directory.
func (c *Coordinator) Create(ctx context.Context, p domain.Principal, name string) (*Result, error) {
	ws, err := c.workspaces.Register(ctx, p, name, domain.ActionInit)
	if err != nil {
		return nil, err
	}

	return c.execute(ctx, ws, domain.ActionInit, func() ([]string, error) {
		if err := checkName(name); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(c.cfg.Builder.Dir(ws.ID), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dir: %w", err)
		}
		return c.cfg.Builder.Init(ws.ID), nil
	}, nil)
}

// Fetch registers a workspace populated from a remote source.
func (c *Coordinator) Fetch(ctx context.Context, p domain.Principal, req command.FetchRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ws, err := c.workspaces.Register(ctx, p, req.Name, domain.ActionFetch)
	if err != nil {
		return nil, err
	}

	dir := c.cfg.Builder.Dir(ws.ID)
	return c.execute(ctx, ws, domain.ActionFetch, func() ([]string, error) {
		if err := checkName(req.Name); err != nil {
			return nil, err
		}
		return c.cfg.Builder.Fetch(req, ws.ID), nil
	}, func() error {
		entries, err := os.ReadDir(dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("inspect workspace dir: %w", err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("%w: nothing fetched into %s", domain.ErrEmptyWorkspace, filepath.Base(dir))
		}
		return nil
	})
}

// Up provisions an existing workspace from its on-disk manifest.
func (c *Coordinator) Up(ctx context.Context, p domain.Principal, req command.LifecycleRequest) (*Result, error) {
	return c.runExisting(ctx, p, req, domain.ActionUp)
}

// Destroy tears down the resources of an existing workspace.
func (c *Coordinator) Destroy(ctx context.Context, p domain.Principal, req command.LifecycleRequest) (*Result, error) {
	return c.runExisting(ctx, p, req, domain.ActionDestroy)
}

// UpPinfile registers a new workspace and provisions it from inline manifest
// content.
func (c *Coordinator) UpPinfile(ctx context.Context, p domain.Principal, req command.PinfileRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.CredsPath == "" {
		req.CredsPath = c.credsFolder(ctx, p.Username)
	}

	ws, err := c.workspaces.Register(ctx, p, req.Name, domain.ActionUp)
	if err != nil {
		return nil, err
	}

	res, err := c.execute(ctx, ws, domain.ActionUp, func() ([]string, error) {
		if err := checkName(req.Name); err != nil {
			return nil, err
		}
		return c.cfg.Builder.PinfileUp(req, ws.ID)
	}, nil)
	if err != nil {
		return res, err
	}
	return c.afterUp(ctx, res, filepath.Join(c.cfg.Builder.Dir(ws.ID), command.PinfileDir))
}

func (c *Coordinator) runExisting(ctx context.Context, p domain.Principal, req command.LifecycleRequest, action domain.Action) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ws, err := c.workspaces.Get(ctx, p, req.ID)
	if err != nil {
		return nil, err
	}
	if req.CredsPath == "" {
		req.CredsPath = c.credsFolder(ctx, p.Username)
	}

	// pre-flight failures leave the recorded status untouched
	args, err := c.cfg.Builder.Lifecycle(req, action)
	if err != nil {
		return &Result{Workspace: ws}, err
	}
	if err := c.workspaces.MarkRequested(ctx, ws.ID, action); err != nil {
		return nil, err
	}
	ws.Status, ws.Action, ws.ErrorMessage = domain.WorkspaceStatusRequested, action, ""

	res, err := c.execute(ctx, ws, action, func() ([]string, error) { return args, nil }, nil)
	if err != nil || action != domain.ActionUp {
		return res, err
	}
	return c.afterUp(ctx, res, filepath.Join(c.cfg.Builder.Dir(ws.ID), strings.Trim(req.PinfilePath, "/")))
}

// afterUp collects artifacts and archives the workspace. The workspace stays
// PROVISIONED whatever happens here.
func (c *Coordinator) afterUp(ctx context.Context, res *Result, runDir string) (*Result, error) {
	logger := c.cfg.Logger.WithField("workspace_id", res.Workspace.ID)

	if c.archive != nil {
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.UploadTimeout)
		defer cancel()
		prefix := c.archive.WorkspacePrefix(res.Workspace.OwnerUsername, res.Workspace.ID)
		loc, err := c.archive.UploadDirectory(uploadCtx, c.cfg.Builder.Dir(res.Workspace.ID), prefix)
		if err != nil {
			logger.Warnf("archive workspace: %v", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("archive workspace: %v", err))
		} else {
			res.Archive = loc
		}
	}

	outputs, err := c.cfg.Artifacts.Read(runDir)
	if err != nil {
		logger.Errorf("read artifacts: %v", err)
		return res, err
	}
	res.Outputs = outputs
	return res, nil
}

// Delete removes the record and the workspace directory, and optionally the
// archived copy.
func (c *Coordinator) Delete(ctx context.Context, p domain.Principal, id string, deleteRemote bool) (*Result, error) {
	ws, err := c.workspaces.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if ws.Status == domain.WorkspaceStatusRequested {
		return nil, fmt.Errorf("%w: workspace %s is %s", domain.ErrInProgress, ws.ID, ws.Status)
	}
	res := &Result{Workspace: ws}
	logger := c.cfg.Logger.WithField("workspace_id", ws.ID)

	if deleteRemote {
		if c.archive == nil {
			return nil, fmt.Errorf("%w: archive storage not configured", domain.ErrValidation)
		}
		remoteCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := c.archive.DeletePrefix(remoteCtx, c.archive.WorkspacePrefix(ws.OwnerUsername, ws.ID)); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("delete remote data: %v", err))
		}
	}

	if warning := c.removeDir(ws.ID); warning != "" {
		res.Warnings = append(res.Warnings, warning)
	}

	if _, err := c.workspaces.Remove(ctx, p, ws.ID); err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		logger.Warn(w)
	}
	logger.Info("workspace deleted")
	return res, nil
}

// Recover finalizes workspaces left REQUESTED by a previous process. It is
// meant to run once at startup before requests are served.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	stale, err := c.workspaces.ListByStatuses(ctx, domain.WorkspaceStatusRequested)
	if err != nil {
		return 0, err
	}
	for _, ws := range stale {
		action := ws.Action
		if action == "" {
			action = domain.ActionInit
		}
		_, failure := action.Outcome()
		if err := c.workspaces.Finalize(ctx, ws.ID, failure, action, errInterrupted); err != nil {
			return 0, fmt.Errorf("recover workspace %s: %w", ws.ID, err)
		}
		c.cfg.Logger.WithField("workspace_id", ws.ID).Warnf("marked %s after interrupted %s", failure, action)
	}
	return len(stale), nil
}

// execute runs the tool for a workspace already recorded as REQUESTED and
// always records a terminal status, including when build or verify panics.
func (c *Coordinator) execute(ctx context.Context, ws *domain.Workspace, action domain.Action, build func() ([]string, error), verify func() error) (res *Result, err error) {
	success, failure := action.Outcome()
	res = &Result{Workspace: ws}
	status := failure
	logger := c.cfg.Logger.WithField("workspace_id", ws.ID).WithField("action", action)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s workspace %s: %v", action, ws.ID, r)
			status = failure
		}
		ferr := c.workspaces.Finalize(context.WithoutCancel(ctx), ws.ID, status, action, err)
		switch {
		case errors.Is(ferr, domain.ErrNotFound):
			logger.Warn("workspace record removed before the run finished")
		case ferr != nil:
			logger.Errorf("persist terminal status: %v", ferr)
			if err == nil {
				err = ferr
			}
		}
		ws.Status, ws.Action = status, action
		ws.ErrorMessage = ""
		if err != nil {
			ws.ErrorMessage = err.Error()
			logger.WithField("status", status).Warnf("lifecycle failed: %v", err)
		} else {
			logger.WithField("status", status).Info("lifecycle finished")
		}
	}()

	args, err := build()
	if err != nil {
		return res, err
	}
	res.Tool, err = c.runner.Run(ctx, args)
	if err != nil {
		return res, err
	}
	if verify != nil {
		if err = verify(); err != nil {
			return res, err
		}
	}
	status = success
	return res, nil
}

// removeDir deletes a workspace directory, refusing anything outside root.
func (c *Coordinator) removeDir(id string) string {
	root := filepath.Clean(c.cfg.Builder.Root)
	if root == "" || root == "." {
		return ""
	}
	dir := filepath.Clean(c.cfg.Builder.Dir(id))
	if rel, err := filepath.Rel(root, dir); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Sprintf("refusing to remove %s outside %s", dir, root)
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Sprintf("remove local data %s: %v", dir, err)
	}
	return ""
}

func (c *Coordinator) credsFolder(ctx context.Context, username string) string {
	if c.users == nil || username == "" {
		return ""
	}
	user, err := c.users.GetUser(ctx, username)
	if err != nil {
		c.cfg.Logger.WithField("username", username).Debugf("credentials folder lookup: %v", err)
		return ""
	}
	return user.CredsFolder
}

func checkName(name string) error {
	if !domain.ValidWorkspaceName(name) {
		return fmt.Errorf("%w: workspace name %q must be alphanumeric", domain.ErrValidation, name)
	}
	return nil
}
