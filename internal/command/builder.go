// Package command turns validated requests into argument vectors for the
// provisioning tool. Apart from the manifest pre-flight check and the inline
// pinfile write, building a command has no side effects.
package command

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"restylinchpin/internal/domain"
)

const (
	DefaultBinary      = "linchpin"
	DefaultPinfileName = "PinFile"

	// Inline manifests are written to <workspace>/PinfileDir/PinfileJSONName.
	PinfileDir      = "dummy"
	PinfileJSONName = "PinFile.json"
)

type Builder struct {
	Binary           string
	Root             string
	DefaultCredsPath string
}

func (b Builder) binary() string {
	if b.Binary == "" {
		return DefaultBinary
	}
	return b.Binary
}

// Dir is the on-disk directory of workspace id.
func (b Builder) Dir(id string) string {
	return filepath.Join(b.Root, id)
}

func (b Builder) Init(id string) []string {
	return []string{b.binary(), "-w", b.Dir(id), "init"}
}

func (b Builder) Fetch(req FetchRequest, id string) []string {
	web := req.RepoType == RepoTypeWeb

	cmd := []string{b.binary(), "-w", b.Dir(id), "fetch"}
	if web {
		cmd = append(cmd, "--web")
	}
	if req.RootFolder != "" {
		cmd = append(cmd, "--root", req.RootFolder)
	}
	if !web && req.Branch != "" {
		cmd = append(cmd, "--branch", req.Branch)
	}
	if req.URL != "" {
		cmd = append(cmd, req.URL)
	}
	return cmd
}

// Lifecycle builds an up or destroy invocation. It fails with
// domain.ErrManifestNotFound when the resolved directory has no manifest.
func (b Builder) Lifecycle(req LifecycleRequest, action domain.Action) ([]string, error) {
	if action != domain.ActionUp && action != domain.ActionDestroy {
		return nil, fmt.Errorf("%w: unsupported action %q", domain.ErrValidation, action)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Join(b.Dir(req.ID), req.subdir())
	credsPath := req.CredsPath
	if credsPath == "" {
		credsPath = b.DefaultCredsPath
	}
	pinfileName := req.PinfileName
	if pinfileName == "" {
		pinfileName = DefaultPinfileName
	}

	info, err := os.Stat(filepath.Join(dir, pinfileName))
	if err != nil || info.IsDir() {
		if err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("check manifest: %w", err)
		}
		return nil, fmt.Errorf("%w: %s in %s", domain.ErrManifestNotFound, pinfileName, dir)
	}

	cmd := []string{b.binary(), "-w", dir, "--creds-path", credsPath, "-p", pinfileName, string(action)}
	switch {
	case req.TxID != "":
		cmd = append(cmd, "-t", req.TxID)
	case req.RunID != "" && req.Target != "":
		cmd = append(cmd, "-r", req.RunID, req.Target)
	}
	if req.InventoryFormat != "" {
		cmd = append(cmd, "--if", req.InventoryFormat)
	}
	return cmd, nil
}

// PinfileUp writes the inline manifest to disk and then builds the up
// invocation against it. The write must complete before the tool runs.
func (b Builder) PinfileUp(req PinfileRequest, id string) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	dir := filepath.Join(b.Dir(id), PinfileDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pinfile dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, PinfileJSONName), req.PinfileContent, 0o644); err != nil {
		return nil, fmt.Errorf("write pinfile: %w", err)
	}

	return b.Lifecycle(LifecycleRequest{
		ID:              id,
		PinfilePath:     PinfileDir,
		PinfileName:     PinfileJSONName,
		CredsPath:       req.CredsPath,
		InventoryFormat: req.InventoryFormat,
	}, domain.ActionUp)
}
