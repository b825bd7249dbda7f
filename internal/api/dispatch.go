package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"market-signal-engine/internal/ai/providers"
	"market-signal-engine/internal/auth"
	"market-signal-engine/internal/exchange"
	"market-signal-engine/internal/logging"
	"market-signal-engine/internal/scanner"

	"github.com/gin-gonic/gin"
)

// Action selects the operation of POST /api/ai-analysis
type Action string

const (
	ActionAnalyze          Action = "analyze"
	ActionMarketScan       Action = "market-scan"
	ActionGetProviders     Action = "get-providers"
	ActionTestProvider     Action = "test-provider"
	ActionToggleProvider   Action = "toggle-provider"
	ActionResetDailyLimits Action = "reset-daily-limits"
	ActionValidateKey      Action = "validate-key"
	ActionGetConfig        Action = "get-config"
	ActionSetConfig        Action = "set-config"
	ActionGetSignals       Action = "get-signals"
	ActionSetExchange      Action = "set-exchange"
)

type actionHandler struct {
	admin bool
	run   func(c *gin.Context, body []byte)
}

// actionTable is the closed set of dispatchable actions
func (s *Server) actionTable() map[Action]actionHandler {
	return map[Action]actionHandler{
		ActionAnalyze:          {run: withParams(s.analyze)},
		ActionMarketScan:       {admin: true, run: s.marketScan},
		ActionGetProviders:     {run: s.getProviders},
		ActionTestProvider:     {admin: true, run: withParams(s.testProvider)},
		ActionToggleProvider:   {admin: true, run: withParams(s.toggleProvider)},
		ActionResetDailyLimits: {admin: true, run: s.resetDailyLimits},
		ActionValidateKey:      {admin: true, run: withParams(s.validateKey)},
		ActionGetConfig:        {run: s.getConfig},
		ActionSetConfig:        {admin: true, run: withParams(s.setConfig)},
		ActionGetSignals:       {run: withParams(s.getSignals)},
		ActionSetExchange:      {admin: true, run: withParams(s.setExchange)},
	}
}

// Actions lists the dispatchable action names
func (s *Server) Actions() []string {
	names := make([]string, 0, len(s.actions))
	for a := range s.actions {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return names
}

// withParams decodes, defaults and validates the action parameters from the
// request body before calling fn
func withParams[P any](fn func(*gin.Context, *P)) func(*gin.Context, []byte) {
	return func(c *gin.Context, body []byte) {
		var params P
		bind := func(v interface{}) error { return json.Unmarshal(body, v) }
		if errs := bindAndValidate(c.Request.Context(), bind, &params); errs != nil {
			validationResponse(c, errs)
			return
		}
		fn(c, &params)
	}
}

// handleAIAnalysis is the single dispatch entrypoint
// POST /api/ai-analysis {"action": "...", ...}
func (s *Server) handleAIAnalysis(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "failed to read request body")
		return
	}

	var envelope struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON object")
		return
	}

	handler, ok := s.actions[envelope.Action]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "UNKNOWN_ACTION",
			"message": "unknown action: " + string(envelope.Action),
			"actions": s.Actions(),
		})
		return
	}

	if handler.admin && !auth.IsAdmin(c) {
		errorResponse(c, http.StatusForbidden, auth.ErrForbidden.Code, "admin access required")
		return
	}

	logging.FromContext(c.Request.Context()).Debug("Dispatching action", "action", string(envelope.Action))
	handler.run(c, body)
}

// failure converts an operation error into a JSON error response
func (s *Server) failure(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, scanner.ErrInvalidSymbol):
		status, code = http.StatusBadRequest, "INVALID_SYMBOL"
	case errors.Is(err, exchange.ErrUnknownExchange):
		status, code = http.StatusBadRequest, "UNKNOWN_EXCHANGE"
	case errors.Is(err, providers.ErrUnknownProvider):
		status, code = http.StatusNotFound, "UNKNOWN_PROVIDER"
	case errors.Is(err, scanner.ErrScanInProgress):
		status, code = http.StatusConflict, "SCAN_IN_PROGRESS"
	case errors.Is(err, scanner.ErrNoPrice):
		status, code = http.StatusBadGateway, "PRICE_UNAVAILABLE"
	}

	log := logging.FromContext(c.Request.Context()).WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "code", code)
		s.deps.EventBus.PublishError("api", err.Error())
	} else {
		log.Warn("Request rejected", "code", code)
	}
	errorResponse(c, status, code, err.Error())
}
