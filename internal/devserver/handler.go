package devserver

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"counselchat/internal/api"
	"counselchat/internal/auth"
	"counselchat/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// allow all origins; this backend only runs on developer machines
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// AuthMiddleware validates the JWT from the Authorization header or, for
// socket handshakes that cannot set headers, the token query parameter.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			// Extract token (format: "Bearer <token>")
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid authorization header format"})
				return
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing authorization header"})
			return
		}

		claims, err := auth.ValidateToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": err.Error()})
			return
		}

		// Set user info in context for handlers to use
		c.Set("claims", claims)
		c.Set("userID", claims.UserID)
		c.Next()
	}
}

func identity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get("claims")
	if !ok {
		return auth.Identity{}, false
	}
	claims, ok := v.(*auth.Claims)
	if !ok {
		return auth.Identity{}, false
	}
	return claims.Identity(), true
}

type ChatHandler struct {
	repo MessageRepository
	hub  *Hub
}

func NewChatHandler(repo MessageRepository, hub *Hub) *ChatHandler {
	return &ChatHandler{repo: repo, hub: hub}
}

// RegisterRoutes registers the chat routes under an authenticated group
func (h *ChatHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/rooms/:roomId/messages", h.ListMessages) // newest-first pages
	router.GET("/:roomId/messages", h.ListOlderMessages)  // cursor before an id
	router.POST("/:roomId/messages", h.CreateMessage)
}

// ListMessages returns page n of a room's history
// GET /chat/rooms/:roomId/messages?page=&limit=
func (h *ChatHandler) ListMessages(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := clampLimit(queryInt(c, "limit", defaultPageSize))

	records, total, err := h.repo.ListPage(c.Request.Context(), roomID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	var resp api.MessagesResponse
	resp.Success = true
	resp.Data.Message = toWire(records)
	resp.Data.Pagination = api.Pagination{
		Page:    page,
		Limit:   limit,
		Total:   int(total),
		HasMore: int64(page*limit) < total,
	}
	c.JSON(http.StatusOK, resp)
}

// ListOlderMessages returns the page strictly before an id
// GET /chat/:roomId/messages?before=&limit=
func (h *ChatHandler) ListOlderMessages(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	before := int64(math.MaxInt64)
	if raw := c.Query("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid before id"})
			return
		}
		before = parsed
	}
	limit := clampLimit(queryInt(c, "limit", defaultPageSize))

	records, hasMore, err := h.repo.ListBefore(c.Request.Context(), roomID, before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.OlderMessagesResponse{
		Data:       toWire(records),
		Pagination: api.Pagination{Limit: limit, HasMore: hasMore},
	})
}

// CreateMessage stores a message and broadcasts it to the room
// POST /chat/:roomId/messages
func (h *ChatHandler) CreateMessage(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	id, ok := identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "User not authenticated"})
		return
	}

	var req chat.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.RoomID != 0 && req.RoomID != roomID {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "roomId does not match path"})
		return
	}
	if req.UserID != 0 && req.UserID != id.UserID {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "cannot send as another user"})
		return
	}
	body := strings.TrimSpace(req.Message)
	if body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "message is empty"})
		return
	}
	kind := req.MessageType
	if kind == "" {
		kind = chat.KindText
	}

	rec := &MessageRecord{
		RoomID:      roomID,
		SenderID:    id.UserID,
		UserName:    id.Username,
		Avatar:      id.Avatar,
		AvatarColor: id.AvatarColor,
		Message:     body,
		MessageType: kind,
	}
	if err := h.repo.Create(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	h.hub.Announce(rec)
	c.JSON(http.StatusCreated, api.SendMessageResponse{Success: true, Data: rec.ToWire()})
}

// WSHandler upgrades an authenticated request to a chat socket
func (h *ChatHandler) WSHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: user ID not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.hub.logger.Warn("ws_upgrade_failed", "user_id", id.UserID, "error", err)
		return
	}
	h.hub.Serve(conn, id)
}

func roomParam(c *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid room ID"})
		return 0, false
	}
	return roomID, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultPageSize
	}
	return min(limit, maxPageSize)
}
