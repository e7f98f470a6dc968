package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pipledger/backend/internal/credits"
	"github.com/pipledger/backend/internal/journal"
	"github.com/pipledger/backend/internal/streaks"
	"github.com/pipledger/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "pipledger_user_id"

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingJournalService = errors.New("journal service dependency required")
	errMissingCreditsService = errors.New("credits service dependency required")
	errMissingStreaksService = errors.New("streaks service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates backend access tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	TokenManager   TokenManager
	UsersService   *users.Service
	JournalService *journal.Service
	CreditsService *credits.Service
	StreaksService *streaks.Service
	Events         *EventDispatcher
	Logger         *zap.Logger
}

// NewHTTPHandler validates dependencies and builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.JournalService == nil {
		return nil, errMissingJournalService
	}
	if deps.CreditsService == nil {
		return nil, errMissingCreditsService
	}
	if deps.StreaksService == nil {
		return nil, errMissingStreaksService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewEventDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:  deps.TokenManager,
		users:   deps.UsersService,
		journal: deps.JournalService,
		credits: deps.CreditsService,
		streaks: deps.StreaksService,
		events:  events,
		logger:  logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync", handler.handleSync)
	protected.GET("/trades", handler.handleListTrades)
	protected.POST("/trades", handler.handleCreateTrade)
	protected.GET("/trades/:id", handler.handleGetTrade)
	protected.DELETE("/trades/:id", handler.handleDeleteTrade)
	protected.GET("/journal", handler.handleListEntries)
	protected.POST("/journal", handler.handleCreateEntry)
	protected.GET("/journal/:id", handler.handleGetEntry)
	protected.DELETE("/journal/:id", handler.handleDeleteEntry)
	protected.GET("/credits/balance", handler.handleCreditBalance)
	protected.POST("/credits/deduct", handler.handleCreditDeduct)
	protected.POST("/credits/award", handler.handleCreditAward)
	protected.POST("/streaks/:type", handler.handleStreakUpdate)
	protected.GET("/streaks", handler.handleListStreaks)
	protected.GET("/achievements", handler.handleListAchievements)
	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens  TokenManager
	users   *users.Service
	journal *journal.Service
	credits *credits.Service
	streaks *streaks.Service
	events  *EventDispatcher
	logger  *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type registerRequestPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.users.Register(c.Request.Context(), request.Email, request.Password, request.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		case errors.Is(err, users.ErrInvalidEmail), errors.Is(err, users.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id": profile.UserID,
		"email":   profile.Email,
	})
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), profile.UserID)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type syncRequestPayload struct {
	Records []syncRecordPayload `json:"records"`
}

type syncRecordPayload struct {
	RecordID     string          `json:"record_id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAtMs  int64           `json:"created_at_ms"`
	SourceDevice string          `json:"source_device"`
}

type syncResultPayload struct {
	RecordID string `json:"record_id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

type syncResponsePayload struct {
	Results []syncResultPayload `json:"results"`
}

func (h *httpHandler) handleSync(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	validatedUserID, err := journal.NewUserID(userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	records := make([]journal.SyncRecord, 0, len(request.Records))
	for _, raw := range request.Records {
		recordID, err := journal.NewRecordID(raw.RecordID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_id"})
			return
		}
		kind, err := journal.ParseRecordKind(raw.Kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_kind"})
			return
		}
		records = append(records, journal.SyncRecord{
			RecordID:     recordID,
			Kind:         kind,
			PayloadJSON:  string(raw.Payload),
			CreatedAtMs:  raw.CreatedAtMs,
			SourceDevice: raw.SourceDevice,
		})
	}

	result, err := h.journal.ApplySync(c.Request.Context(), validatedUserID, records)
	if err != nil {
		h.logger.Error("failed to apply sync batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	response := syncResponsePayload{Results: make([]syncResultPayload, 0, len(result.Outcomes))}
	for _, outcome := range result.Outcomes {
		response.Results = append(response.Results, syncResultPayload{
			RecordID: outcome.RecordID.String(),
			Kind:     string(outcome.Kind),
			Status:   string(outcome.Status),
			Reason:   outcome.Reason,
		})
	}

	h.afterSync(c, userID, result)

	c.JSON(http.StatusOK, response)
}

// afterSync runs the qualifying-action bookkeeping for accepted records:
// streak updates, achievement scans and event publication.
func (h *httpHandler) afterSync(c *gin.Context, userID string, result journal.SyncResult) {
	ctx := c.Request.Context()
	acceptedIDs := collectAcceptedRecordIDs(result.Outcomes)
	if len(acceptedIDs) == 0 {
		return
	}

	h.events.Publish(EventMessage{
		UserID:    userID,
		EventType: EventRecordSynced,
		RecordIDs: acceptedIDs,
		Timestamp: time.Now().UTC(),
	})

	var tradeAccepted, journalAccepted bool
	for _, outcome := range result.Outcomes {
		if outcome.Status != journal.SyncStatusAccepted {
			continue
		}
		switch outcome.Kind {
		case journal.RecordKindTrade:
			tradeAccepted = true
		case journal.RecordKindJournal:
			journalAccepted = true
		}
	}

	if tradeAccepted {
		h.applyStreak(ctx, userID, streaks.StreakTypeTrading)
		awarded, err := h.streaks.CheckTradeAchievements(ctx, userID)
		if err != nil {
			h.logger.Warn("trade achievement scan failed", zap.String("user_id", userID), zap.Error(err))
		}
		if len(awarded) > 0 {
			h.events.Publish(EventMessage{
				UserID:    userID,
				EventType: EventAchievementUnlocked,
				RecordIDs: awarded,
				Timestamp: time.Now().UTC(),
			})
		}
	}
	if journalAccepted {
		h.applyStreak(ctx, userID, streaks.StreakTypeJournaling)
	}
}

func collectAcceptedRecordIDs(outcomes []journal.SyncOutcome) []string {
	var ids []string
	for _, outcome := range outcomes {
		if outcome.Status != journal.SyncStatusAccepted {
			continue
		}
		if outcome.RecordID.String() == "" {
			continue
		}
		ids = append(ids, outcome.RecordID.String())
	}
	return ids
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// bearerToken extracts the access token from the Authorization header, or
// from the access_token query parameter for SSE clients that cannot set
// headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(c.Query("access_token"))
}
