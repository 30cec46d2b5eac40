// Package artifacts reads the files the provisioning tool leaves behind
// after a successful up.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"restylinchpin/internal/domain"
)

const (
	DefaultStatusFile    = "resources/linchpin.latest"
	DefaultInventoryGlob = "inventories/*.inventory"
)

// Outputs are the artifacts of one provisioning run.
type Outputs struct {
	Status        json.RawMessage `json:"status"`
	Inventory     string          `json:"inventory"`
	InventoryFile string          `json:"inventory_file"`
}

// Reader locates artifacts relative to the directory the tool ran in.
type Reader struct {
	StatusFile    string
	InventoryGlob string
}

func (r Reader) statusFile() string {
	if r.StatusFile == "" {
		return DefaultStatusFile
	}
	return r.StatusFile
}

func (r Reader) inventoryGlob() string {
	if r.InventoryGlob == "" {
		return DefaultInventoryGlob
	}
	return r.InventoryGlob
}

// Read loads the JSON status summary and the most recently modified
// inventory. Either one missing is a tool failure.
func (r Reader) Read(dir string) (*Outputs, error) {
	statusPath := filepath.Join(dir, r.statusFile())
	raw, err := os.ReadFile(statusPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read status file: %v", domain.ErrToolFailure, err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: status file %s is not valid JSON", domain.ErrToolFailure, statusPath)
	}

	inventoryPath, err := r.latestInventory(dir)
	if err != nil {
		return nil, err
	}
	inventory, err := os.ReadFile(inventoryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read inventory: %v", domain.ErrToolFailure, err)
	}

	return &Outputs{
		Status:        json.RawMessage(raw),
		Inventory:     string(inventory),
		InventoryFile: filepath.Base(inventoryPath),
	}, nil
}

func (r Reader) latestInventory(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, r.inventoryGlob()))
	if err != nil {
		return "", fmt.Errorf("%w: inventory pattern: %v", domain.ErrToolFailure, err)
	}

	var (
		latest  string
		modTime int64
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if ts := info.ModTime().UnixNano(); latest == "" || ts > modTime {
			latest, modTime = m, ts
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%w: no inventory matching %s", domain.ErrToolFailure, r.inventoryGlob())
	}
	return latest, nil
}
