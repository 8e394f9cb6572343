package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/events"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/execution"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/signal"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"exchanges": s.Manager.Exchanges(),
		"time":      time.Now(),
	})
}

// submitSignal ingests one raw extraction candidate, normalizes it against
// the channel's profile and hands it to the executor. Rejections come back
// as 422 with the reason; execution failures as 502 with the venue message.
func (s *Server) submitSignal(c *gin.Context) {
	var raw map[string]any
	if err := c.BindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "body must be a JSON object",
		})
		return
	}

	channel, _ := raw["channel"].(string)
	normalizer := signal.NewNormalizer(s.defaultsFor(channel))

	sig, err := normalizer.Normalize(raw)
	if err != nil {
		s.Bus.Publish(events.EventSignalRejected, events.RejectionEvent{
			Raw:    raw,
			Reason: err.Error(),
			Time:   time.Now(),
		})
		status := http.StatusUnprocessableEntity
		if !errors.Is(err, signal.ErrInvalidSignal) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"code":  "SIGNAL_REJECTED",
			"error": err.Error(),
		})
		return
	}

	s.Bus.Publish(events.EventSignalReceived, events.SignalEvent{Signal: sig.Clone(), Time: time.Now()})

	res := s.Manager.ExecuteSignal(c.Request.Context(), sig)
	if !res.Success {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":   "EXECUTION_FAILED",
			"error":  res.Error,
			"signal": sig,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"signal": sig,
		"result": res,
	})
}

func (s *Server) activeSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.Manager.ActiveSignals()})
}

func (s *Server) recentEvents(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event log not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	records, err := s.Store.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}

type positionRequest struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

func (s *Server) closePosition(c *gin.Context) {
	var req positionRequest
	if err := c.BindJSON(&req); err != nil || req.Exchange == "" || req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "exchange and symbol required",
		})
		return
	}

	res, err := s.Manager.ClosePosition(c.Request.Context(), exchange.Name(req.Exchange), req.Symbol)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, execution.ErrNoPosition) || errors.Is(err, execution.ErrExchangeNotConfigured) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) modifyPosition(c *gin.Context) {
	var req struct {
		Exchange   string  `json:"exchange"`
		Symbol     string  `json:"symbol"`
		StopLoss   float64 `json:"stop_loss"`
		TakeProfit float64 `json:"take_profit"`
	}
	if err := c.BindJSON(&req); err != nil || req.Exchange == "" || req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "exchange and symbol required",
		})
		return
	}
	if req.StopLoss <= 0 && req.TakeProfit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "stop_loss or take_profit required",
		})
		return
	}

	ok := s.Manager.ModifyPosition(c.Request.Context(), exchange.Name(req.Exchange), req.Symbol, req.StopLoss, req.TakeProfit)
	if !ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": "one or more protective orders failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"modified": true})
}

func (s *Server) positions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Manager.AllPositions(c.Request.Context())})
}

func (s *Server) overview(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"overview": s.Manager.AccountOverview(c.Request.Context())})
}

func (s *Server) funding(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"funding": s.Manager.FundingRates(c.Request.Context())})
}

func (s *Server) brackets(c *gin.Context) {
	name := exchange.Name(c.Query("exchange"))
	symbol := c.Query("symbol")
	if name == "" || symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "exchange and symbol query params required",
		})
		return
	}
	brackets, err := s.Manager.Brackets(c.Request.Context(), name, symbol)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, execution.ErrExchangeNotConfigured) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"brackets": brackets})
}

func marginMode(s string) exchange.MarginMode {
	if exchange.MarginMode(s) == exchange.MarginIsolated {
		return exchange.MarginIsolated
	}
	return exchange.MarginCross
}
