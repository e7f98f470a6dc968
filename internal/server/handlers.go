package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pipledger/backend/internal/credits"
	"github.com/pipledger/backend/internal/journal"
	"github.com/pipledger/backend/internal/streaks"
	"go.uber.org/zap"
)

const heartbeatInterval = 25 * time.Second

// creditAwards fixes the server-side grant for each gamified action, so a
// client cannot request arbitrary amounts.
var creditAwards = map[credits.AwardType]int64{
	credits.AwardDailyLogin:      2,
	credits.AwardStreakMilestone: 5,
	credits.AwardAchievement:     3,
	credits.AwardReferral:        10,
}

func (h *httpHandler) handleListTrades(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	trades, err := h.journal.ListTrades(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list trades", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (h *httpHandler) handleCreateTrade(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	validatedUserID, err := journal.NewUserID(userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var payload journal.TradePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	trade, err := h.journal.CreateTrade(c.Request.Context(), validatedUserID, payload)
	if err != nil {
		var serviceErr *journal.ServiceError
		if errors.As(err, &serviceErr) && serviceErr.Code() == "journal.create_trade.invalid_payload" {
			c.JSON(http.StatusBadRequest, gin.H{"error": serviceErr.Error()})
			return
		}
		h.logger.Error("failed to create trade", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	h.applyStreak(c.Request.Context(), userID, streaks.StreakTypeTrading)
	if awarded, err := h.streaks.CheckTradeAchievements(c.Request.Context(), userID); err != nil {
		h.logger.Warn("trade achievement scan failed", zap.String("user_id", userID), zap.Error(err))
	} else if len(awarded) > 0 {
		h.events.Publish(EventMessage{
			UserID:    userID,
			EventType: EventAchievementUnlocked,
			RecordIDs: awarded,
			Timestamp: time.Now().UTC(),
		})
	}

	c.JSON(http.StatusCreated, gin.H{"trade": trade})
}

func (h *httpHandler) handleGetTrade(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	trade, err := h.journal.GetTrade(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, journal.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to fetch trade", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (h *httpHandler) handleDeleteTrade(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	err := h.journal.DeleteTrade(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, journal.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to delete trade", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListEntries(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	entries, err := h.journal.ListEntries(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list journal entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *httpHandler) handleCreateEntry(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	validatedUserID, err := journal.NewUserID(userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var payload journal.EntryPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.journal.CreateEntry(c.Request.Context(), validatedUserID, payload)
	if err != nil {
		var serviceErr *journal.ServiceError
		if errors.As(err, &serviceErr) && serviceErr.Code() == "journal.create_entry.invalid_payload" {
			c.JSON(http.StatusBadRequest, gin.H{"error": serviceErr.Error()})
			return
		}
		h.logger.Error("failed to create journal entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	h.applyStreak(c.Request.Context(), userID, streaks.StreakTypeJournaling)

	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

func (h *httpHandler) handleGetEntry(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	entry, err := h.journal.GetEntry(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, journal.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to fetch journal entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) handleDeleteEntry(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	err := h.journal.DeleteEntry(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, journal.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to delete journal entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreditBalance(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	info, err := h.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, credits.ErrUnknownUser) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_user"})
			return
		}
		h.logger.Error("failed to read credit balance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":   info.Balance,
		"tier":      info.Tier,
		"unlimited": info.Tier.IsPremium(),
	})
}

type creditDeductPayload struct {
	Cost        int64  `json:"cost"`
	Description string `json:"description"`
}

func (h *httpHandler) handleCreditDeduct(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request creditDeductPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Cost <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.credits.Deduct(c.Request.Context(), userID, request.Cost, request.Description)
	if err != nil {
		var insufficient *credits.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"success": false,
				"error":   insufficient.Error(),
			})
			return
		}
		if errors.Is(err, credits.ErrUnknownUser) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_user"})
			return
		}
		h.logger.Error("credit deduction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deduct_failed"})
		return
	}

	if result.Premium {
		c.JSON(http.StatusOK, gin.H{"success": true, "is_premium": true})
		return
	}

	h.events.Publish(EventMessage{
		UserID:    userID,
		EventType: EventCreditsChanged,
		Timestamp: time.Now().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "new_balance": result.NewBalance})
}

type creditAwardPayload struct {
	AwardType   string `json:"award_type"`
	Description string `json:"description"`
}

func (h *httpHandler) handleCreditAward(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request creditAwardPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	awardType := credits.AwardType(request.AwardType)
	amount, ok := creditAwards[awardType]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_award_type"})
		return
	}

	if err := h.credits.Award(c.Request.Context(), userID, awardType, amount, request.Description); err != nil {
		if errors.Is(err, credits.ErrUnknownUser) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_user"})
			return
		}
		h.logger.Error("credit award failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "award_failed"})
		return
	}

	h.events.Publish(EventMessage{
		UserID:    userID,
		EventType: EventCreditsChanged,
		Timestamp: time.Now().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "amount": amount})
}

func (h *httpHandler) handleStreakUpdate(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	streakType, err := streaks.ParseStreakType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_streak_type"})
		return
	}

	result, err := h.streaks.UpdateStreak(c.Request.Context(), userID, streakType)
	if err != nil {
		h.logger.Error("streak update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streak_failed"})
		return
	}

	if result.Milestone > 0 {
		h.onStreakMilestone(c.Request.Context(), userID, result)
	}

	c.JSON(http.StatusOK, gin.H{
		"streak_type":   result.Streak.StreakType,
		"current_count": result.Streak.CurrentCount,
		"best_count":    result.Streak.BestCount,
		"changed":       result.Changed,
		"milestone":     result.Milestone,
	})
}

func (h *httpHandler) handleListStreaks(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	rows, err := h.streaks.GetStreaks(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list streaks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"streaks": rows})
}

func (h *httpHandler) handleListAchievements(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	rows, err := h.streaks.ListAchievements(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list achievements", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"achievements": rows})
}

// handleEventStream serves the per-user SSE feed.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	stream, cleanup := h.events.Subscribe(c.Request.Context(), userID)
	defer cleanup()

	writeEvent(c.Writer, eventHeartbeat, gin.H{"source": eventSource})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			writeEvent(c.Writer, message.EventType, gin.H{
				"record_ids": message.RecordIDs,
				"timestamp":  message.Timestamp.UTC().Format(time.RFC3339),
			})
			flusher.Flush()
		case <-heartbeat.C:
			writeEvent(c.Writer, eventHeartbeat, gin.H{"source": eventSource})
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, eventType string, data gin.H) {
	fmt.Fprintf(w, "event: %s\n", eventType)
	body, err := json.Marshal(data)
	if err != nil {
		fmt.Fprint(w, "data: {}\n\n")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", body)
}

// applyStreak records one day of qualifying activity, granting the milestone
// bonus and achievement when a threshold is crossed.
func (h *httpHandler) applyStreak(ctx context.Context, userID string, streakType streaks.StreakType) {
	result, err := h.streaks.UpdateStreak(ctx, userID, streakType)
	if err != nil {
		h.logger.Warn("streak update failed",
			zap.String("user_id", userID),
			zap.String("streak_type", string(streakType)),
			zap.Error(err))
		return
	}
	if result.Milestone > 0 {
		h.onStreakMilestone(ctx, userID, result)
	}
}

func (h *httpHandler) onStreakMilestone(ctx context.Context, userID string, result streaks.UpdateResult) {
	name := fmt.Sprintf("%s_streak_%d", result.Streak.StreakType, result.Milestone)
	created, err := h.streaks.AwardAchievement(ctx, userID, name, streaks.AchievementTypeStreak)
	if err != nil {
		h.logger.Warn("streak achievement failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if !created {
		return
	}

	description := fmt.Sprintf("%d-day %s streak", result.Milestone, result.Streak.StreakType)
	if err := h.credits.Award(ctx, userID, credits.AwardStreakMilestone, creditAwards[credits.AwardStreakMilestone], description); err != nil {
		h.logger.Warn("streak milestone award failed", zap.String("user_id", userID), zap.Error(err))
	}

	h.events.Publish(EventMessage{
		UserID:    userID,
		EventType: EventAchievementUnlocked,
		RecordIDs: []string{name},
		Timestamp: time.Now().UTC(),
	})
}
