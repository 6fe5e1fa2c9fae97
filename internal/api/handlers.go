package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"setup-tracker/internal/indicators"
	"setup-tracker/internal/levels"
	"setup-tracker/internal/marketdata"
	"setup-tracker/internal/setups"
	"setup-tracker/internal/validation"
)

// ============================================================================
// OBSERVATION HANDLERS
// ============================================================================

type observationRequest struct {
	Symbol     string     `json:"symbol" binding:"required,symbol"`
	Price      float64    `json:"price" binding:"required"`
	ObservedAt *time.Time `json:"observed_at"`
}

// handlePostObservation applies a single latest-price observation to every
// open setup on the symbol and runs the alert checks against it.
func (s *Server) handlePostObservation(c *gin.Context) {
	var req observationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid observation payload: "+err.Error())
		return
	}

	observedAt := time.Now().UTC()
	if req.ObservedAt != nil {
		observedAt = *req.ObservedAt
	}

	obs := setups.Observation{
		Symbol:     req.Symbol,
		Price:      req.Price,
		ObservedAt: observedAt,
	}
	if err := obs.Validate(); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	results, err := s.engine.ProcessObservation(ctx, obs)
	if err != nil {
		if errors.Is(err, setups.ErrConcurrentModification) {
			errorResponse(c, http.StatusConflict, "setup was modified concurrently, retry")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "failed to process observation")
		return
	}

	// The alert engine scans the same price stream, decoupled from setup
	// ownership. A failure here never fails the observation.
	if s.alertEng != nil {
		if lv, lerr := s.levelCache.ForSymbol(ctx, obs.Symbol, obs.ObservedAt); lerr == nil {
			if _, aerr := s.alertEng.Check(ctx, obs.Symbol, obs.Price, obs.ObservedAt, lv); aerr != nil {
				s.logger.Warn().Err(aerr).Str("symbol", obs.Symbol).Msg("alert check failed")
			}
		}
	}

	successResponse(c, gin.H{
		"symbol":  obs.Symbol,
		"price":   obs.Price,
		"results": results,
	})
}

// ============================================================================
// SETUP HANDLERS
// ============================================================================

type createSetupRequest struct {
	UserID         string  `json:"user_id"`
	Symbol         string  `json:"symbol" binding:"required,symbol"`
	Strategy       string  `json:"strategy"`
	Side           string  `json:"side" binding:"required,oneof=long short"`
	EntryPrice     float64 `json:"entry_price" binding:"required,gt=0"`
	StopLoss       float64 `json:"stop_loss" binding:"required,gt=0"`
	TakeProfit     float64 `json:"take_profit" binding:"required,gt=0"`
	SkipValidation bool    `json:"skip_validation"`
}

// handleCreateSetup validates a candidate against current market conditions,
// attaches risk sizing, and persists it as pending.
func (s *Server) handleCreateSetup(c *gin.Context) {
	var req createSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid setup payload: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	side := setups.Side(req.Side)

	setup := &setups.Setup{
		UserID:     req.UserID,
		Symbol:     req.Symbol,
		Strategy:   req.Strategy,
		Side:       side,
		EntryPrice: req.EntryPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}
	if err := setup.CheckLevels(); err != nil {
		errorResponse(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if !req.SkipValidation {
		report, err := s.scoreCandidate(c, setup)
		if err != nil {
			if errors.Is(err, marketdata.ErrInsufficientData) || errors.Is(err, indicators.ErrInsufficientData) {
				errorResponse(c, http.StatusUnprocessableEntity, "insufficient market data to validate setup")
				return
			}
			errorResponse(c, http.StatusInternalServerError, "failed to validate setup")
			return
		}
		if !report.Passed {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":      true,
				"message":    "setup rejected by validation",
				"confidence": report.Confidence,
				"factors":    report.Factors,
			})
			return
		}
		setup.Confidence = report.Confidence
	}

	plan, err := s.riskMgr.BuildPlan(side, req.EntryPrice, req.StopLoss, req.TakeProfit)
	if err != nil {
		errorResponse(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	setup.PositionSize = &plan.PositionSize
	setup.RiskReward = &plan.RiskReward

	if err := s.engine.Create(ctx, setup); err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to create setup")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    setup,
		"risk":    plan,
	})
}

// scoreCandidate runs the validation engine against current market data.
func (s *Server) scoreCandidate(c *gin.Context, setup *setups.Setup) (*validation.Report, error) {
	ctx := c.Request.Context()

	bars, err := s.provider.GetBars(ctx, setup.Symbol, indicators.MinBars)
	if err != nil {
		return nil, err
	}
	snap, err := indicators.Calculate(bars)
	if err != nil {
		return nil, err
	}

	var lv *levels.Levels
	if got, lerr := s.levelCache.ForSymbol(ctx, setup.Symbol, time.Now()); lerr == nil {
		lv = got
	}

	return s.validator.Validate(validation.Input{
		Side:       setup.Side,
		EntryPrice: setup.EntryPrice,
		StopLoss:   setup.StopLoss,
		TakeProfit: setup.TakeProfit,
		Price:      snap.Close,
		Indicators: snap,
		Levels:     lv,
	}), nil
}

// handleListSetups returns setups with pagination
func (s *Server) handleListSetups(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	includeArchived := c.Query("include_archived") == "true"

	if status := c.Query("status"); status != "" {
		result, err := s.repo.GetSetupsByStatus(c.Request.Context(), setups.Status(status))
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to list setups")
			return
		}
		successResponse(c, result)
		return
	}

	result, err := s.repo.ListSetups(c.Request.Context(), includeArchived, limit, offset)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to list setups")
		return
	}
	successResponse(c, result)
}

// handleGetSetup returns a single setup by id
func (s *Server) handleGetSetup(c *gin.Context) {
	setup, err := s.repo.GetSetupByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, setups.ErrSetupNotFound) {
			errorResponse(c, http.StatusNotFound, "setup not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "failed to fetch setup")
		return
	}
	successResponse(c, setup)
}

// handleSetupStats returns aggregate outcome statistics
func (s *Server) handleSetupStats(c *gin.Context) {
	stats, err := s.repo.GetSetupStats(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	successResponse(c, stats)
}

// handleExpireSetup closes a pending setup that never triggered
func (s *Server) handleExpireSetup(c *gin.Context) {
	setup, err := s.engine.Expire(c.Request.Context(), c.Param("id"), time.Now().UTC())
	if err != nil {
		s.cancelError(c, err)
		return
	}
	successResponse(c, setup)
}

// handleInvalidateSetup cancels a pending setup
func (s *Server) handleInvalidateSetup(c *gin.Context) {
	setup, err := s.engine.Invalidate(c.Request.Context(), c.Param("id"), time.Now().UTC())
	if err != nil {
		s.cancelError(c, err)
		return
	}
	successResponse(c, setup)
}

// handleArchiveSetup flags a terminal setup as archived
func (s *Server) handleArchiveSetup(c *gin.Context) {
	if err := s.engine.Archive(c.Request.Context(), c.Param("id")); err != nil {
		s.cancelError(c, err)
		return
	}
	successResponse(c, gin.H{"message": "setup archived"})
}

func (s *Server) cancelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, setups.ErrSetupNotFound):
		errorResponse(c, http.StatusNotFound, "setup not found")
	case errors.Is(err, setups.ErrInvalidSetupState):
		errorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, setups.ErrConcurrentModification):
		errorResponse(c, http.StatusConflict, "setup was modified concurrently, retry")
	default:
		errorResponse(c, http.StatusInternalServerError, "operation failed")
	}
}

// ============================================================================
// ALERT / SIGNAL HANDLERS
// ============================================================================

// handleListAlerts returns the most recent alerts
func (s *Server) handleListAlerts(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	result, err := s.repo.GetRecentAlerts(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	successResponse(c, result)
}

// handleListSignals returns unexecuted signals, oldest first
func (s *Server) handleListSignals(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	result, err := s.repo.GetPendingSignals(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to list signals")
		return
	}
	successResponse(c, result)
}

// handleExecuteSignal marks a signal as consumed by a downstream executor
func (s *Server) handleExecuteSignal(c *gin.Context) {
	if err := s.repo.MarkSignalExecuted(c.Request.Context(), c.Param("id")); err != nil {
		errorResponse(c, http.StatusNotFound, "signal not found or already executed")
		return
	}
	successResponse(c, gin.H{"message": "signal marked executed"})
}

// handleTriggerSweep runs one signal bot sweep immediately
func (s *Server) handleTriggerSweep(c *gin.Context) {
	if s.bot == nil {
		errorResponse(c, http.StatusServiceUnavailable, "signal bot is not running")
		return
	}
	go s.bot.Sweep()
	successResponse(c, gin.H{"message": "sweep triggered"})
}

func queryInt(c *gin.Context, key string, defaultValue int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return defaultValue
}
