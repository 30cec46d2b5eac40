package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"restylinchpin/internal/command"
	"restylinchpin/internal/lifecycle"
)

const (
	provisionWorkspace = "workspace"
	provisionPinfile   = "pinfile"
)

type createWorkspaceRequest struct {
	Name *string `json:"name" binding:"required"`
}

type upRequest struct {
	ProvisionType  string          `json:"provision_type"`
	Name           string          `json:"name"`
	PinfileContent json.RawMessage `json:"pinfile_content"`
	command.LifecycleRequest
}

func (h *Handler) createWorkspace(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": err.Error()})
		return
	}

	res, err := h.lifecycle.Create(c.Request.Context(), principal(c), *req.Name)
	h.respondLifecycle(c, res, err, http.StatusCreated, StatusCreated)
}

func (h *Handler) fetchWorkspace(c *gin.Context) {
	var req command.FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": err.Error()})
		return
	}

	res, err := h.lifecycle.Fetch(c.Request.Context(), principal(c), req)
	h.respondLifecycle(c, res, err, http.StatusCreated, StatusCreated)
}

func (h *Handler) upWorkspace(c *gin.Context) {
	var req upRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": err.Error()})
		return
	}

	var (
		res *lifecycle.Result
		err error
	)
	switch strings.ToLower(req.ProvisionType) {
	case provisionPinfile:
		res, err = h.lifecycle.UpPinfile(c.Request.Context(), principal(c), command.PinfileRequest{
			Name:            req.Name,
			PinfileContent:  req.PinfileContent,
			CredsPath:       req.CredsPath,
			InventoryFormat: req.InventoryFormat,
		})
	case provisionWorkspace, "":
		res, err = h.lifecycle.Up(c.Request.Context(), principal(c), req.LifecycleRequest)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": "provision_type must be workspace or pinfile"})
		return
	}
	h.respondLifecycle(c, res, err, http.StatusOK, StatusProvisioned)
}

func (h *Handler) destroyWorkspace(c *gin.Context) {
	var req command.LifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": err.Error()})
		return
	}

	res, err := h.lifecycle.Destroy(c.Request.Context(), principal(c), req)
	h.respondLifecycle(c, res, err, http.StatusOK, StatusDestroyed)
}

func (h *Handler) listWorkspaces(c *gin.Context) {
	list, err := h.workspaces.List(c.Request.Context(), principal(c))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, workspacesToResponse(list))
}

func (h *Handler) searchWorkspaces(c *gin.Context) {
	name, ok := c.GetQuery("name")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": "name query parameter is required"})
		return
	}

	list, err := h.workspaces.Search(c.Request.Context(), principal(c), name)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, workspacesToResponse(list))
}

func (h *Handler) getWorkspace(c *gin.Context) {
	ws, err := h.workspaces.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, workspaceToResponse(*ws))
}

func (h *Handler) deleteWorkspace(c *gin.Context) {
	deleteRemote, err := strconv.ParseBool(c.DefaultQuery("delete_remote", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": "invalid flag delete_remote"})
		return
	}

	res, err := h.lifecycle.Delete(c.Request.Context(), principal(c), c.Param("id"), deleteRemote)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	resp := gin.H{"status": StatusDeleted, "id": res.Workspace.ID, "name": res.Workspace.Name}
	if len(res.Warnings) > 0 {
		resp["warnings"] = res.Warnings
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listArchive(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": "archive storage not configured"})
		return
	}

	ws, err := h.workspaces.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	objects, err := h.archive.ListObjects(ctx, h.archive.WorkspacePrefix(ws.OwnerUsername, ws.ID))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		if url, err := h.archive.ObjectURL(ctx, objects[i].Key, h.urlExpiry); err == nil {
			objects[i].URL = url
		}
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) respondLifecycle(c *gin.Context, res *lifecycle.Result, err error, code int, status string) {
	body := gin.H{}
	if res != nil && res.Workspace != nil {
		body["workspace"] = workspaceToResponse(*res.Workspace)
		if res.Outputs != nil {
			body["outputs"] = res.Outputs
		}
		if res.Archive != "" {
			body["archive"] = res.Archive
		}
		if len(res.Warnings) > 0 {
			body["warnings"] = res.Warnings
		}
	}
	if err != nil {
		h.writeError(c, err, body)
		return
	}
	body["status"] = status
	c.JSON(code, body)
}
