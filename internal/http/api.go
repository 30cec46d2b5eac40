package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"restylinchpin/internal/auth"
	"restylinchpin/internal/command"
	"restylinchpin/internal/domain"
	"restylinchpin/internal/lifecycle"
	"restylinchpin/internal/service"
	"restylinchpin/internal/storage"
)

// Lifecycle is the part of the coordinator the handlers drive.
type Lifecycle interface {
	Create(ctx context.Context, p domain.Principal, name string) (*lifecycle.Result, error)
	Fetch(ctx context.Context, p domain.Principal, req command.FetchRequest) (*lifecycle.Result, error)
	Up(ctx context.Context, p domain.Principal, req command.LifecycleRequest) (*lifecycle.Result, error)
	UpPinfile(ctx context.Context, p domain.Principal, req command.PinfileRequest) (*lifecycle.Result, error)
	Destroy(ctx context.Context, p domain.Principal, req command.LifecycleRequest) (*lifecycle.Result, error)
	Delete(ctx context.Context, p domain.Principal, id string, deleteRemote bool) (*lifecycle.Result, error)
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users      service.UserService
	workspaces service.WorkspaceService
	lifecycle  Lifecycle
	guard      *auth.Guard
	archive    storage.Archive
	logger     *logrus.Logger
	urlExpiry  time.Duration
}

// NewHandler builds the handler. archive may be nil when archiving is off.
func NewHandler(users service.UserService, workspaces service.WorkspaceService, lc Lifecycle, guard *auth.Guard, archive storage.Archive, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		users:      users,
		workspaces: workspaces,
		lifecycle:  lc,
		guard:      guard,
		archive:    archive,
		logger:     logger,
		urlExpiry:  15 * time.Minute,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware(h.guard.Header()))

	api := router.Group("/api/v1.0")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"status": StatusOK})
		})
		api.POST("/users", h.createUser)
		api.POST("/users/login", h.login)
	}

	guarded := api.Group("", h.guard.Middleware(h.logger))
	{
		guarded.GET("/users", h.listUsers)
		guarded.DELETE("/users/apikey", h.removeAPIKey)
		guarded.GET("/users/:username", h.getUser)
		guarded.PATCH("/users/:username", h.updateUser)
		guarded.DELETE("/users/:username", h.deleteUser)
		guarded.POST("/users/:username/promote", h.promoteUser)
		guarded.POST("/users/:username/reset-key", h.resetAPIKey)
		guarded.PUT("/users/:username/credentials-folder", h.setCredentialsFolder)

		guarded.POST("/workspaces", h.createWorkspace)
		guarded.POST("/workspaces/fetch", h.fetchWorkspace)
		guarded.POST("/workspaces/up", h.upWorkspace)
		guarded.POST("/workspaces/destroy", h.destroyWorkspace)
		guarded.GET("/workspaces", h.listWorkspaces)
		guarded.GET("/workspaces/search", h.searchWorkspaces)
		guarded.GET("/workspaces/:id", h.getWorkspace)
		guarded.DELETE("/workspaces/:id", h.deleteWorkspace)
		guarded.GET("/workspaces/:id/archive", h.listArchive)
	}
}

func corsMiddleware(keyHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, "+keyHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func principal(c *gin.Context) domain.Principal {
	p, _ := auth.PrincipalFrom(c.Request.Context())
	return p
}

// statusFor maps domain errors to an HTTP code and a stable status string.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, StatusInvalidRequest
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return http.StatusUnauthorized, StatusAuthFailed
	case errors.Is(err, domain.ErrCredentialMissing):
		return http.StatusUnauthorized, auth.MessageKeyMissing
	case errors.Is(err, domain.ErrCredentialInvalid):
		return http.StatusUnauthorized, auth.MessageKeyInvalid
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, StatusForbidden
	case errors.Is(err, domain.ErrManifestNotFound):
		return http.StatusUnprocessableEntity, StatusPinfileNotFound
	case errors.Is(err, domain.ErrEmptyWorkspace):
		return http.StatusUnprocessableEntity, StatusEmptyWorkspace
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, StatusAlreadyExists
	case errors.Is(err, domain.ErrInProgress):
		return http.StatusConflict, StatusInProgress
	case errors.Is(err, domain.ErrToolFailure):
		return http.StatusBadGateway, StatusToolFailure
	default:
		return http.StatusInternalServerError, StatusInternalError
	}
}

func (h *Handler) writeError(c *gin.Context, err error, extra gin.H) {
	code, status := statusFor(err)
	if code >= http.StatusInternalServerError && code != http.StatusBadGateway {
		h.logger.WithField("path", c.FullPath()).Errorf("request failed: %v", err)
	}
	body := gin.H{"status": status, "error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(code, body)
}
