// Package handlers provides the HTTP surface: the OAuth redirect and
// callback, manual sync triggers, mapping status and metrics.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/logging"
	"github.com/kimhsiao/ledgerlink/internal/metrics"
	"github.com/kimhsiao/ledgerlink/internal/models"
	syncpkg "github.com/kimhsiao/ledgerlink/internal/sync"
)

// TenantHeader carries the caller's tenant on OAuth requests.
const TenantHeader = "X-Tenant-ID"

// Connector is the connection lifecycle.
type Connector interface {
	AuthorizeURL(ctx context.Context, tenantID string, sandbox bool) (string, error)
	CompleteAuthorization(ctx context.Context, tenantID, state, code, realmID string) (*models.Connection, error)
	Disconnect(ctx context.Context, connectionID models.UUID) error
}

// Syncer runs sync invocations.
type Syncer interface {
	SyncEntity(ctx context.Context, req syncpkg.EntityRequest) (*syncpkg.Result, error)
	SyncBulk(ctx context.Context, req syncpkg.BulkRequest) (*syncpkg.Result, error)
}

// MappingLister reads per-record sync status.
type MappingLister interface {
	ListMappings(ctx context.Context, connectionID models.UUID, localType string) ([]*models.EntityMapping, error)
}

// Handler serves the HTTP routes.
type Handler struct {
	connector Connector
	syncer    Syncer
	mappings  MappingLister
	log       *logging.Logger
}

// NewHandler creates a Handler.
func NewHandler(connector Connector, syncer Syncer, mappings MappingLister) *Handler {
	return &Handler{
		connector: connector,
		syncer:    syncer,
		mappings:  mappings,
		log:       logging.For("http"),
	}
}

// Router registers every route on a new gin engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/oauth/connect", h.Connect)
	r.GET("/oauth/callback", h.Callback)
	r.POST("/connections/:id/disconnect", h.Disconnect)
	r.GET("/connections/:id/mappings", h.ListMappings)

	r.POST("/sync/entity", h.SyncEntity)
	r.POST("/sync/bulk", h.SyncBulk)
	return r
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrStateInvalid, apperrors.ErrStateExpired:
		return http.StatusBadRequest
	case apperrors.ErrReauthRequired, apperrors.ErrConnectionInactive:
		return http.StatusUnauthorized
	case apperrors.ErrSyncInProgress, apperrors.ErrSyncConflict, apperrors.ErrMappingChanged:
		return http.StatusConflict
	case apperrors.ErrConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", err, map[string]interface{}{"route": c.FullPath()})
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    string(apperrors.CodeOf(err)),
			"message": err.Error(),
		},
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "ledgerlink"})
}

// ---------------------- connect ----------------------

type connectRequest struct {
	Sandbox bool `form:"sandbox"`
}

// Connect handles GET /oauth/connect and redirects to the authorize page.
func (h *Handler) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid query", err))
		return
	}
	tenantID := c.GetHeader(TenantHeader)
	if tenantID == "" {
		tenantID = c.Query("tenant_id")
	}

	target, err := h.connector.AuthorizeURL(c.Request.Context(), tenantID, req.Sandbox)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// ---------------------- callback ----------------------

type callbackRequest struct {
	State   string `form:"state" binding:"required"`
	Code    string `form:"code"`
	RealmID string `form:"realmId"`
	Error   string `form:"error"`
}

// Callback handles GET /oauth/callback.
func (h *Handler) Callback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid callback", err))
		return
	}
	if req.Error != "" {
		h.fail(c, apperrors.Newf(apperrors.ErrReauthRequired, "authorization denied: %s", req.Error))
		return
	}

	conn, err := h.connector.CompleteAuthorization(c.Request.Context(), c.GetHeader(TenantHeader), req.State, req.Code, req.RealmID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

// ---------------------- disconnect ----------------------

type connectionURI struct {
	ID string `uri:"id" binding:"required"`
}

// Disconnect handles POST /connections/:id/disconnect.
func (h *Handler) Disconnect(c *gin.Context) {
	var uri connectionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid connection id", err))
		return
	}
	if err := h.connector.Disconnect(c.Request.Context(), models.UUID(uri.ID)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMappings handles GET /connections/:id/mappings?local_type=...
func (h *Handler) ListMappings(c *gin.Context) {
	var uri connectionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid connection id", err))
		return
	}
	localType := c.Query("local_type")
	if localType != "" && !models.IsSupportedLocalType(localType) {
		h.fail(c, apperrors.Newf(apperrors.ErrInvalid, "unsupported local_type %q", localType))
		return
	}

	mappings, err := h.mappings.ListMappings(c.Request.Context(), models.UUID(uri.ID), localType)
	if err != nil {
		h.fail(c, err)
		return
	}
	if mappings == nil {
		mappings = []*models.EntityMapping{}
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

// ---------------------- sync ----------------------

// resultStatus picks the HTTP status for a sync result. A classified sync
// failure is still a well-formed answer and keeps its result body.
func resultStatus(res *syncpkg.Result, err error) int {
	if err == nil {
		return http.StatusOK
	}
	if res == nil || res.Error == nil {
		return statusFor(err)
	}
	switch res.Error.Kind {
	case "validation":
		if apperrors.Is(err, apperrors.ErrInvalid) {
			return http.StatusBadRequest
		}
	case "auth":
		return http.StatusUnauthorized
	case "in_progress":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}

// SyncEntity handles POST /sync/entity.
func (h *Handler) SyncEntity(c *gin.Context) {
	var req syncpkg.EntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.Direction == "" {
		req.Direction = models.DirectionPush
	}

	res, err := h.syncer.SyncEntity(c.Request.Context(), req)
	if res == nil {
		h.fail(c, err)
		return
	}
	c.JSON(resultStatus(res, err), res)
}

// SyncBulk handles POST /sync/bulk.
func (h *Handler) SyncBulk(c *gin.Context) {
	var req syncpkg.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	res, err := h.syncer.SyncBulk(c.Request.Context(), req)
	if res == nil {
		h.fail(c, err)
		return
	}
	status := resultStatus(res, err)
	if err == nil {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}
