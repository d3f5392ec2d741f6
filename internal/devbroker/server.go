package devbroker

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"

	"github.com/real-rm/gochat/internal/auth"
	"github.com/real-rm/gochat/internal/constants"
	"github.com/real-rm/gochat/internal/message"
	"github.com/real-rm/gochat/internal/util"
)

// Server wires the broker, the REST surface, and the metrics endpoint into
// one gin engine.
type Server struct {
	Engine    *gin.Engine
	Broker    *Broker
	validator *auth.JWTValidator
	logger    *golog.Logger
}

// NewServer builds the dev broker server from configuration. The JWT secret
// is required and validated against minimum strength rules even in dev:
// a weak dev secret has a way of surviving into deployments.
func NewServer(cfg *goconfig.ConfigAccessor, logger *golog.Logger) (*Server, error) {
	secret, _ := cfg.ConfigString("devbroker.jwt_secret")
	return NewServerWithSecret(secret, logger)
}

// NewServerWithSecret builds the server with an explicit JWT secret
func NewServerWithSecret(secret string, logger *golog.Logger) (*Server, error) {
	// No else needed: early return pattern (guard clause)
	if err := validateSecret(secret); err != nil {
		return nil, err
	}

	validator := auth.NewJWTValidator(secret)
	broker := NewBroker(validator, logger)
	broker.SeedRooms(defaultRooms())

	s := &Server{
		Engine:    gin.New(),
		Broker:    broker,
		validator: validator,
		logger:    logger.WithGroup("devbroker"),
	}
	s.registerRoutes()
	return s, nil
}

// validateSecret enforces minimum JWT secret strength
func validateSecret(secret string) error {
	// No else needed: early return pattern (guard clause)
	if secret == "" {
		return fmt.Errorf("devbroker.jwt_secret is required")
	}
	// No else needed: early return pattern (guard clause)
	if len(secret) < constants.MinJWTSecretLength {
		return fmt.Errorf("devbroker.jwt_secret must be at least %d characters, got %d",
			constants.MinJWTSecretLength, len(secret))
	}
	lowered := strings.ToLower(secret)
	for _, weak := range constants.WeakSecrets {
		if strings.Contains(lowered, weak) {
			return fmt.Errorf("devbroker.jwt_secret contains a known weak value")
		}
	}
	return nil
}

// defaultRooms is the room set a fresh dev broker starts with
func defaultRooms() []RoomInfo {
	return []RoomInfo{
		{ID: 1, Name: "General", Kind: "group", Participants: 4},
		{ID: 2, Name: "Support", Kind: "group", Participants: 2},
		{ID: 3, Name: "Alice", Kind: "direct", Participants: 2},
	}
}

func (s *Server) registerRoutes() {
	s.Engine.Use(gin.Recovery())
	s.Engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", constants.HeaderAuthorization},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s.Engine.GET("/ws", func(c *gin.Context) {
		s.Broker.HandleWS(c.Writer, c.Request)
	})

	api := s.Engine.Group("/api")
	{
		api.POST("/dev/token", s.handleMintToken)

		authed := api.Group("")
		authed.Use(s.authMiddleware())
		{
			authed.GET("/rooms", s.handleListRooms)
			authed.GET("/rooms/:id/messages", s.handleRoomHistory)
			authed.POST("/dev/notifications", s.handlePushNotification)
		}
	}

	s.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.Engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"clients": s.Broker.ClientCount(),
		})
	})
}

// authMiddleware validates the bearer token and stores claims in the context
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := util.ExtractBearerToken(c.GetHeader(constants.HeaderAuthorization))
		// No else needed: early return pattern (guard clause)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		claims, err := s.validator.ValidateToken(token)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			s.logger.Warn("Token validation failed", "error", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// tokenRequest is the mint request body
type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name"`
}

// handleMintToken issues a dev token. Development convenience only; a real
// deployment gets tokens from its identity provider.
func (s *Server) handleMintToken(c *gin.Context) {
	var req tokenRequest
	// No else needed: early return pattern (guard clause)
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	token, err := s.validator.MintToken(req.UserID, req.Name, 24*time.Hour)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(s.logger, "devbroker", "mint token", err, "user_id", req.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token minting failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// roomResponse matches the wire shape the client's REST layer decodes
type roomResponse struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Kind          string    `json:"type"`
	Participants  int       `json:"participantCount"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Unread        int       `json:"unreadCount"`
}

// handleListRooms serves the room list. The dev broker does not track
// per-user read state, so unreadCount is always 0 here.
func (s *Server) handleListRooms(c *gin.Context) {
	infos := s.Broker.Rooms()

	rooms := make([]roomResponse, 0, len(infos))
	for _, info := range infos {
		entry := roomResponse{
			ID:           info.ID,
			Name:         info.Name,
			Kind:         info.Kind,
			Participants: info.Participants,
		}
		if last, ok := s.Broker.LastMessage(info.ID); ok {
			entry.LastMessage = previewText(last.RawContent)
			entry.LastMessageAt = last.Timestamp
		}
		rooms = append(rooms, entry)
	}

	c.JSON(http.StatusOK, rooms)
}

// handleRoomHistory serves one newest-first history page
func (s *Server) handleRoomHistory(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	limit := constants.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, ok := s.Broker.History(roomID, limit)
	// No else needed: early return pattern (guard clause)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	c.JSON(http.StatusOK, page)
}

// notificationRequest is the dev push request body
type notificationRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Kind    string `json:"type"`
}

// handlePushNotification pushes a notification to a connected user's
// notification queue. Dev-only helper for exercising the notification path.
func (s *Server) handlePushNotification(c *gin.Context) {
	var req notificationRequest
	// No else needed: early return pattern (guard clause)
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	n := message.Notification{
		ID:        time.Now().UnixNano(),
		Title:     req.Title,
		Message:   req.Message,
		Kind:      req.Kind,
		CreatedAt: time.Now().UTC(),
	}
	delivered := s.Broker.PushNotification(req.UserID, n)

	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// previewText renders the rooms-list preview for a serialized content payload
func previewText(rawContent string) string {
	content := message.ParseContent(rawContent)
	if content.Kind == message.ContentText {
		return content.Text
	}
	return constants.AttachmentPreview
}
