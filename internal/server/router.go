package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pantrylabs/listd/internal/list"
	"go.uber.org/zap"
)

const (
	writerIDContextKey = "listd_writer_id"
	heartbeatInterval  = 15 * time.Second
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingListService   = errors.New("list service dependency required")
	errMissingIdentity      = errors.New("identity resolver dependency required")
	errMissingDispatcher    = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates anonymous session tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, writerID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// IdentityResolver resolves anonymous subjects to stable writer ids.
type IdentityResolver interface {
	NewSubject() (string, error)
	Resolve(ctx context.Context, subject string) (string, error)
}

type Dependencies struct {
	TokenManager SessionTokenManager
	ListService  *list.Service
	Identity     IdentityResolver
	Dispatcher   *RealtimeDispatcher
	PageSize     int
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.ListService == nil {
		return nil, errMissingListService
	}
	if deps.Identity == nil {
		return nil, errMissingIdentity
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = list.DefaultPageSize
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		listService: deps.ListService,
		identity:    deps.Identity,
		dispatcher:  deps.Dispatcher,
		pageSize:    pageSize,
		logger:      logger,
	}

	router.POST("/auth/anonymous", handler.handleAnonymousAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/items", handler.handleAddItem)
	protected.POST("/items/:id/toggle", handler.handleToggleItem)
	protected.DELETE("/items/:id", handler.handleDeleteItem)
	protected.GET("/items", handler.handleListItems)
	protected.GET("/items/stream", handler.handleItemsStream)

	return router, nil
}

type httpHandler struct {
	tokens      SessionTokenManager
	listService *list.Service
	identity    IdentityResolver
	dispatcher  *RealtimeDispatcher
	pageSize    int
	logger      *zap.Logger
}

type anonymousAuthRequest struct {
	Subject string `json:"subject"`
}

type anonymousAuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	WriterID    string `json:"writer_id"`
}

// handleAnonymousAuth signs a client in anonymously. A client may resume a
// previous session by sending the subject it was issued before; omitting it
// mints a fresh identity.
func (h *httpHandler) handleAnonymousAuth(c *gin.Context) {
	var request anonymousAuthRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	subject := strings.TrimSpace(request.Subject)
	if subject == "" {
		fresh, err := h.identity.NewSubject()
		if err != nil {
			h.logger.Error("failed to mint anonymous subject", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_in_failed"})
			return
		}
		subject = fresh
	}

	writerID, err := h.identity.Resolve(c.Request.Context(), subject)
	if err != nil {
		h.logger.Error("failed to resolve writer identity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_in_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), writerID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, anonymousAuthResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		WriterID:    writerID,
	})
}

type addItemRequest struct {
	Name string `json:"name"`
}

type addItemResponse struct {
	ItemID string `json:"item_id"`
}

func (h *httpHandler) handleAddItem(c *gin.Context) {
	writerID := c.GetString(writerIDContextKey)
	if writerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request addItemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	itemID, err := h.listService.AddItem(c.Request.Context(), request.Name, writerID)
	if err != nil {
		h.respondMutationError(c, err)
		return
	}

	c.JSON(http.StatusCreated, addItemResponse{ItemID: itemID.String()})
}

func (h *httpHandler) handleToggleItem(c *gin.Context) {
	writerID := c.GetString(writerIDContextKey)
	if writerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.listService.ToggleItem(c.Request.Context(), c.Param("id"), writerID); err != nil {
		h.respondMutationError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteItem(c *gin.Context) {
	if err := h.listService.DeleteItem(c.Request.Context(), c.Param("id")); err != nil {
		h.respondMutationError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type itemPayload struct {
	ItemID               string `json:"item_id"`
	Name                 string `json:"name"`
	Bought               bool   `json:"bought"`
	CreatedAtMillis      int64  `json:"created_at_ms"`
	LastModifiedBy       string `json:"last_modified_by"`
	LastModifiedAtMillis int64  `json:"last_modified_at_ms"`
}

type listItemsResponse struct {
	Partition  string        `json:"partition"`
	Items      []itemPayload `json:"items"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
}

func (h *httpHandler) handleListItems(c *gin.Context) {
	partition, err := list.ParsePartition(c.DefaultQuery("partition", string(list.PartitionPending)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_partition"})
		return
	}

	pageIndex, err := parseQueryInt(c, "page", 0)
	if err != nil || pageIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
		return
	}
	pageSize, err := parseQueryInt(c, "size", h.pageSize)
	if err != nil || pageSize <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page_size"})
		return
	}

	pending, bought := list.PartitionItems(h.listService.Projection())
	ordered := pending
	if partition == list.PartitionBought {
		ordered = bought
	}

	visible, total := list.Page(ordered, list.PageCursor{Index: pageIndex, Size: pageSize})
	items := make([]itemPayload, 0, len(visible))
	for _, item := range visible {
		items = append(items, toItemPayload(item))
	}

	c.JSON(http.StatusOK, listItemsResponse{
		Partition:  string(partition),
		Items:      items,
		TotalCount: total,
		Page:       pageIndex,
		PageSize:   pageSize,
	})
}

type snapshotPayload struct {
	Items     []itemPayload `json:"items"`
	Timestamp int64         `json:"timestamp_ms"`
}

func (h *httpHandler) handleItemsStream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context())
	defer cleanup()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	// Prime the connection with the current state before waiting for changes.
	c.SSEvent("snapshot", toSnapshotPayload(h.listService.Projection(), time.Now().UTC()))
	c.Writer.Flush()

	for {
		select {
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent("snapshot", toSnapshotPayload(message.Snapshot, message.Timestamp))
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, time.Now().UTC().UnixMilli())
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *httpHandler) respondMutationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, list.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_name"})
	case errors.Is(err, list.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, list.ErrIdentityUnavailable):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity_unavailable"})
	case errors.Is(err, list.ErrStoreUnavailable):
		h.logger.Error("store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	default:
		h.logger.Error("mutation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mutation_failed"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	writerID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(writerIDContextKey, writerID)
	c.Next()
}

func parseQueryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func toItemPayload(item list.Item) itemPayload {
	return itemPayload{
		ItemID:               item.ItemID,
		Name:                 item.Name,
		Bought:               item.Bought,
		CreatedAtMillis:      item.CreatedAtMillis,
		LastModifiedBy:       item.LastModifiedBy,
		LastModifiedAtMillis: item.LastModifiedAtMillis,
	}
}

func toSnapshotPayload(snapshot list.Snapshot, at time.Time) snapshotPayload {
	items := make([]itemPayload, 0, len(snapshot))
	for _, item := range snapshot {
		items = append(items, toItemPayload(item))
	}
	return snapshotPayload{Items: items, Timestamp: at.UnixMilli()}
}
