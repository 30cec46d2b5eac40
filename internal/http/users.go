package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restylinchpin/internal/auth"
	"restylinchpin/internal/service"
)

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

type credentialsFolderRequest struct {
	Folder string `json:"creds_folder" binding:"required"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": err.Error()})
		return
	}

	apiKey, err := h.users.CreateUser(c.Request.Context(), req.Username, req.Password, req.Email, false)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": StatusUserCreated, "username": req.Username, "api_key": apiKey})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": err.Error()})
		return
	}

	apiKey, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusOK, "username": req.Username, "api_key": apiKey})
}

func (h *Handler) listUsers(c *gin.Context) {
	if err := auth.RequireAdmin(principal(c)); err != nil {
		h.writeError(c, err, nil)
		return
	}

	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	resp := make([]UserResponse, len(users))
	for i := range users {
		resp[i] = userToResponse(users[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getUser(c *gin.Context) {
	username := c.Param("username")
	if err := auth.RequireSelfOrAdmin(principal(c), username); err != nil {
		h.writeError(c, err, nil)
		return
	}

	user, err := h.users.GetUser(c.Request.Context(), username)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) updateUser(c *gin.Context) {
	username := c.Param("username")
	if err := auth.RequireSelfOrAdmin(principal(c), username); err != nil {
		h.writeError(c, err, nil)
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": err.Error()})
		return
	}
	update := service.ProfileUpdate{Email: req.Email, Password: req.Password}
	if err := h.users.UpdateProfile(c.Request.Context(), username, update); err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusUserUpdated, "username": username})
}

func (h *Handler) deleteUser(c *gin.Context) {
	username := c.Param("username")
	if err := auth.RequireSelfOrAdmin(principal(c), username); err != nil {
		h.writeError(c, err, nil)
		return
	}

	if err := h.users.DeleteUser(c.Request.Context(), username); err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusUserDeleted, "username": username})
}

func (h *Handler) promoteUser(c *gin.Context) {
	if err := auth.RequireAdmin(principal(c)); err != nil {
		h.writeError(c, err, nil)
		return
	}

	username := c.Param("username")
	if err := h.users.PromoteToAdmin(c.Request.Context(), username); err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusUserPromoted, "username": username})
}

func (h *Handler) resetAPIKey(c *gin.Context) {
	username := c.Param("username")
	if err := auth.RequireSelfOrAdmin(principal(c), username); err != nil {
		h.writeError(c, err, nil)
		return
	}

	apiKey, err := h.users.ResetAPIKey(c.Request.Context(), username)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusKeyReset, "username": username, "api_key": apiKey})
}

// removeAPIKey revokes the key the request was made with.
func (h *Handler) removeAPIKey(c *gin.Context) {
	if err := h.users.RemoveAPIKey(c.Request.Context(), c.GetHeader(h.guard.Header())); err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusKeyDeleted})
}

func (h *Handler) setCredentialsFolder(c *gin.Context) {
	username := c.Param("username")
	if err := auth.RequireSelfOrAdmin(principal(c), username); err != nil {
		h.writeError(c, err, nil)
		return
	}

	var req credentialsFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": StatusInvalidRequest, "error": err.Error()})
		return
	}
	if err := h.users.SetCredentialsFolder(c.Request.Context(), username, req.Folder); err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusUserUpdated, "username": username, "creds_folder": req.Folder})
}
