package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/auth"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/defsync"
)

const (
	headerDefinitionSource    = "X-Definition-Source"
	headerDefinitionWatermark = "X-Definition-Watermark"
	adminSubjectContextKey    = "vatdefs_admin_subject"
)

var errMissingDefinitionService = errors.New("definition service dependency required")

// DefinitionService is the synchronization engine as seen by the HTTP layer.
type DefinitionService interface {
	LoadDefinitions(ctx context.Context) (defsync.Definitions, error)
	Refresh(ctx context.Context) (defsync.Definitions, error)
	Status(ctx context.Context) (defsync.Status, error)
}

// AdminAuthorizer validates admin bearer tokens.
type AdminAuthorizer interface {
	ValidateRequest(r *http.Request, role string) (auth.AdminClaims, error)
}

// Dependencies wires the HTTP handler. A nil Admin disables POST /sync/refresh
// and a nil Metrics disables GET /metrics.
type Dependencies struct {
	Definitions DefinitionService
	Admin       AdminAuthorizer
	Metrics     http.Handler
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router serving definitions and sync state.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Definitions == nil {
		return nil, errMissingDefinitionService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		definitions: deps.Definitions,
		admin:       deps.Admin,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/definitions", handler.handleDefinitions)
	router.GET("/definitions/:kind", handler.handleDefinition)
	router.GET("/sync/status", handler.handleStatus)
	if deps.Admin != nil {
		router.POST("/sync/refresh", handler.authorizeAdmin, handler.handleRefresh)
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{headerDefinitionSource, headerDefinitionWatermark},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	definitions DefinitionService
	admin       AdminAuthorizer
	logger      *zap.Logger
}

type datasetSummaryPayload struct {
	Source           string `json:"source"`
	WatermarkSeconds int64  `json:"watermark_s"`
}

type definitionsResponsePayload struct {
	SessionID string                           `json:"session_id"`
	CheckedAt int64                            `json:"checked_at_s"`
	CheckDue  bool                             `json:"check_due"`
	Datasets  map[string]datasetSummaryPayload `json:"datasets"`
	Errors    []string                         `json:"errors,omitempty"`
}

type statusResponsePayload struct {
	LastGlobalCheckSeconds int64            `json:"last_global_check_s"`
	Watermarks             map[string]int64 `json:"watermarks_s"`
	CheckIntervalSeconds   int64            `json:"check_interval_s"`
	NextCheckSeconds       int64            `json:"next_check_s"`
	CheckDue               bool             `json:"check_due"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleDefinitions(c *gin.Context) {
	loaded, err := h.definitions.LoadDefinitions(c.Request.Context())
	h.respondSession(c, loaded, err)
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	h.logger.Info("manual refresh requested", zap.String("subject", c.GetString(adminSubjectContextKey)))
	loaded, err := h.definitions.Refresh(c.Request.Context())
	h.respondSession(c, loaded, err)
}

func (h *httpHandler) respondSession(c *gin.Context, loaded defsync.Definitions, err error) {
	if err != nil && !errors.Is(err, definitions.ErrDefinitionUnavailable) {
		h.logger.Error("definition session failed", zap.Error(err))
		c.JSON(sessionFailureStatus(err), gin.H{"error": "session_failed"})
		return
	}

	response := definitionsResponsePayload{
		SessionID: loaded.SessionID,
		CheckedAt: loaded.CheckedAt.Unix(),
		CheckDue:  loaded.CheckDue,
		Datasets:  make(map[string]datasetSummaryPayload, len(loaded.Outcomes)),
	}
	for kind, outcome := range loaded.Outcomes {
		response.Datasets[kind.String()] = datasetSummaryPayload{
			Source:           string(outcome.Source),
			WatermarkSeconds: outcome.Watermark.Int64(),
		}
	}
	for _, kind := range definitions.Kinds() {
		if _, ok := loaded.Outcomes[kind]; !ok {
			response.Errors = append(response.Errors, kind.String()+"_unavailable")
		}
	}
	if len(loaded.Outcomes) == 0 {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleDefinition(c *gin.Context) {
	kind, err := definitions.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	loaded, err := h.definitions.LoadDefinitions(c.Request.Context())
	if err != nil && !errors.Is(err, definitions.ErrDefinitionUnavailable) {
		h.logger.Error("definition session failed", zap.Error(err), zap.String("kind", kind.String()))
		c.JSON(sessionFailureStatus(err), gin.H{"error": "session_failed"})
		return
	}

	outcome, ok := loaded.Outcomes[kind]
	if !ok || outcome.Dataset == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "definition_unavailable", "kind": kind.String()})
		return
	}

	c.Header(headerDefinitionSource, string(outcome.Source))
	c.Header(headerDefinitionWatermark, outcome.Watermark.Time().UTC().Format(time.RFC3339))
	c.JSON(http.StatusOK, outcome.Dataset)
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	status, err := h.definitions.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("sync status failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}

	watermarks := make(map[string]int64, len(definitions.Kinds()))
	for _, kind := range definitions.Kinds() {
		watermarks[kind.String()] = status.Meta.Watermark(kind).Int64()
	}
	c.JSON(http.StatusOK, statusResponsePayload{
		LastGlobalCheckSeconds: status.Meta.LastGlobalCheck.Int64(),
		Watermarks:             watermarks,
		CheckIntervalSeconds:   int64(status.CheckInterval / time.Second),
		NextCheckSeconds:       status.NextCheck.Unix(),
		CheckDue:               status.CheckDue,
	})
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	claims, err := h.admin.ValidateRequest(c.Request, auth.RoleRefresh)
	if err != nil {
		h.logger.Warn("admin token rejected", zap.Error(err))
		if errors.Is(err, auth.ErrMissingRole) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(adminSubjectContextKey, claims.Subject)
	c.Next()
}

func sessionFailureStatus(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
