// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callflow

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/CoastlineAI/CoastlineVoice/services/callflow/phone"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/routing"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/slots"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/triggers"
)

// ErrorResponse is the uniform error body for all Callflow endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers serves the Callflow HTTP surface.
type Handlers struct {
	service *Service
}

// NewHandlers creates the handler set over a service instance.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// getOrCreateRequestID returns the inbound X-Request-ID, minting one when
// the caller sent none, so every log line of a request correlates.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// =============================================================================
// Routing
// =============================================================================

// RouteTurnRequest is the body of POST /v1/callflow/route.
type RouteTurnRequest struct {
	TenantID string                `json:"tenantId" binding:"required"`
	Turn     routing.CallTurnEvent `json:"turn" binding:"required"`
}

// HandleRouteTurn handles POST /v1/callflow/route.
//
// Description:
//
//	Resolves the tenant's merged rule set and routes the turn. A rule store
//	failure degrades to action-table routing instead of failing the turn.
//
// Response:
//
//	200 OK: routing.RouteDecision
//	400 Bad Request: malformed body
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleRouteTurn(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRouteTurn")

	var req RouteTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	decision := h.service.RouteTurn(c.Request.Context(), req.TenantID, req.Turn)
	logger.Info("turn routed",
		slog.String("tenant_id", req.TenantID),
		slog.String("route", string(decision.Route)),
		slog.String("reason", decision.Reason),
	)
	c.JSON(http.StatusOK, decision)
}

// =============================================================================
// Slot Contracts
// =============================================================================

// CompileContractRequest is the body of POST /v1/callflow/contract/compile.
type CompileContractRequest struct {
	Library      []slots.FieldDefinition `json:"library"`
	Groups       []slots.FieldGroup      `json:"groups"`
	ContextFlags map[string]string       `json:"contextFlags"`
}

// HandleCompileContract handles POST /v1/callflow/contract/compile.
//
// Response:
//
//	200 OK: slots.CompiledContract (empty inputs compile to an empty
//	contract — configuration absence is a valid result, not an error)
//	400 Bad Request: malformed body
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleCompileContract(c *gin.Context) {
	var req CompileContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	contract := slots.Compile(req.Library, req.Groups, req.ContextFlags)
	c.JSON(http.StatusOK, contract)
}

// HandleBookingFields handles POST /v1/callflow/contract/booking-fields:
// compile, then translate to the legacy booking executor shape.
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleBookingFields(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleBookingFields")

	var req CompileContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	contract := slots.Compile(req.Library, req.Groups, req.ContextFlags)
	fields := slots.ToBookingFields(contract, logger)
	c.JSON(http.StatusOK, gin.H{
		"contract": contract,
		"fields":   fields,
	})
}

// =============================================================================
// Trigger Rules
// =============================================================================

// HandleTenantRules handles GET /v1/callflow/triggers/:tenantID.
//
// Response:
//
//	200 OK: merged rule set
//	409 Conflict: tenant's active group has no published version
//	502 Bad Gateway: rule store unavailable
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleTenantRules(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleTenantRules")

	tenantID := c.Param("tenantID")
	rules, err := h.service.Rules(c.Request.Context(), tenantID)
	if err != nil {
		logger.Warn("rule resolution failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, triggers.ErrGroupUnpublished) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error: err.Error(),
				Code:  "GROUP_UNPUBLISHED",
			})
			return
		}
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_UNAVAILABLE",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenantId": tenantID, "rules": rules})
}

// InvalidateCacheRequest is the body of POST /v1/callflow/cache/invalidate.
// Exactly one of TenantID, GroupID, or All must be set.
type InvalidateCacheRequest struct {
	TenantID string `json:"tenantId,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	All      bool   `json:"all,omitempty"`
}

// HandleInvalidateCache handles POST /v1/callflow/cache/invalidate.
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleInvalidateCache(c *gin.Context) {
	var req InvalidateCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	switch {
	case req.All:
		h.service.ClearRuleCache()
	case req.TenantID != "":
		h.service.InvalidateTenant(req.TenantID)
	case req.GroupID != "":
		h.service.InvalidateGroup(req.GroupID)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "one of tenantId, groupId, or all is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invalidated": true})
}

// =============================================================================
// Phone Capture
// =============================================================================

// PhoneStepRequest is the body of POST /v1/callflow/phone/step. A zero-value
// Context starts a fresh capture.
type PhoneStepRequest struct {
	Context phone.CaptureContext `json:"context"`
	Turn    phone.CaptureTurn    `json:"turn"`
}

// HandlePhoneStep handles POST /v1/callflow/phone/step.
//
// Thread Safety: This method is safe for concurrent use; capture contexts
// are owned by the caller.
func (h *Handlers) HandlePhoneStep(c *gin.Context) {
	var req PhoneStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	if req.Context.State == "" {
		req.Context = h.service.NewPhoneCapture()
	}
	next := h.service.StepPhoneCapture(req.Context, req.Turn)
	c.JSON(http.StatusOK, next)
}

// =============================================================================
// Health
// =============================================================================

// HandleHealth handles GET /v1/callflow/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/callflow/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
