package command

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"restylinchpin/internal/domain"
)

// RepoTypeWeb marks a fetch of a plain web artifact rather than a repository.
const RepoTypeWeb = "web"

type FetchRequest struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	RepoType   string `json:"repoType"`
	RootFolder string `json:"rootfolder"`
	Branch     string `json:"branch"`
}

func (r FetchRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: url is required", domain.ErrValidation)
	}
	return nil
}

// LifecycleRequest drives up/destroy on an existing workspace.
type LifecycleRequest struct {
	ID              string `json:"id"`
	PinfilePath     string `json:"pinfile_path"`
	PinfileName     string `json:"pinfile_name"`
	CredsPath       string `json:"creds_path"`
	TxID            string `json:"tx_id"`
	RunID           string `json:"run_id"`
	Target          string `json:"target"`
	InventoryFormat string `json:"inventory_format"`
}

func (r LifecycleRequest) Validate() error {
	if err := validateID(r.ID); err != nil {
		return err
	}
	if sub := r.subdir(); sub != "" && !filepath.IsLocal(sub) {
		return fmt.Errorf("%w: pinfile_path must stay inside the workspace", domain.ErrValidation)
	}
	if strings.ContainsRune(r.PinfileName, filepath.Separator) {
		return fmt.Errorf("%w: pinfile_name must be a file name", domain.ErrValidation)
	}
	return nil
}

func (r LifecycleRequest) subdir() string {
	return strings.Trim(r.PinfilePath, "/")
}

// PinfileRequest provisions a new workspace from inline manifest content.
type PinfileRequest struct {
	Name            string          `json:"name"`
	PinfileContent  json.RawMessage `json:"pinfile_content"`
	CredsPath       string          `json:"creds_path"`
	InventoryFormat string          `json:"inventory_format"`
}

func (r PinfileRequest) Validate() error {
	if len(r.PinfileContent) == 0 || string(r.PinfileContent) == "null" {
		return fmt.Errorf("%w: pinfile_content is required", domain.ErrValidation)
	}
	if !json.Valid(r.PinfileContent) {
		return fmt.Errorf("%w: pinfile_content is not valid JSON", domain.ErrValidation)
	}
	return nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if !filepath.IsLocal(id) || strings.ContainsRune(id, filepath.Separator) {
		return fmt.Errorf("%w: invalid workspace id", domain.ErrValidation)
	}
	return nil
}
