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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/CoastlineAI/CoastlineVoice/services/callflow/config"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/routing"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/triggers"
)

// =============================================================================
// Test Store
// =============================================================================

// memStore is an in-memory triggers.Store for handler tests.
type memStore struct {
	settings  triggers.TenantTriggerSettings
	meta      triggers.RuleGroupMeta
	globals   []triggers.TriggerRule
	settingsE error
}

func (m *memStore) TenantSettings(ctx context.Context, tenantID string) (triggers.TenantTriggerSettings, error) {
	if m.settingsE != nil {
		return triggers.TenantTriggerSettings{}, m.settingsE
	}
	return m.settings, nil
}

func (m *memStore) RuleGroup(ctx context.Context, groupID string) (triggers.RuleGroupMeta, error) {
	return m.meta, nil
}

func (m *memStore) PublishedGlobalRules(ctx context.Context, groupID string, version int) ([]triggers.TriggerRule, error) {
	return m.globals, nil
}

func (m *memStore) LocalRules(ctx context.Context, tenantID string) ([]triggers.TriggerRule, error) {
	return nil, nil
}

func (m *memStore) AudioRecordings(ctx context.Context, tenantID string) (map[string]triggers.AudioRecording, error) {
	return nil, nil
}

func newMemStore() *memStore {
	priority := 10
	return &memStore{
		settings: triggers.TenantTriggerSettings{TenantID: "t1", ActiveGroupID: "g1"},
		meta:     triggers.RuleGroupMeta{ID: "g1", PublishedVersion: 1, Published: true},
		globals: []triggers.TriggerRule{{
			Key:          "g-hours",
			TriggerID:    "hours",
			Name:         "Business hours",
			Priority:     &priority,
			Match:        triggers.RuleMatch{Keywords: []string{"hours"}},
			ResponseMode: "answer_only",
			Answer:       triggers.RuleAnswer{Text: "We're open 9 to 5."},
			Scope:        triggers.ScopeGlobal,
		}},
	}
}

// newTestRouter spins up a full service over the given store and mounts the
// HTTP surface the way main does.
func newTestRouter(t *testing.T, store triggers.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.ResetCallflowConfig()
	t.Cleanup(config.ResetCallflowConfig)

	service, err := NewService(context.Background(), ServiceConfig{Store: store})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(service))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Route Turn Tests
// =============================================================================

func TestHandleRouteTurn_EmergencyTransfer(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := postJSON(t, router, "/v1/callflow/route", RouteTurnRequest{
		TenantID: "t1",
		Turn:     routing.CallTurnEvent{IsEmergency: true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var decision routing.RouteDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if decision.Route != routing.RouteTransfer {
		t.Errorf("expected TRANSFER, got %s", decision.Route)
	}
	if decision.MatchedRuleID != routing.EmergencyOverrideMarker {
		t.Errorf("expected the emergency marker, got %q", decision.MatchedRuleID)
	}
}

func TestHandleRouteTurn_RuleMatch(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := postJSON(t, router, "/v1/callflow/route", RouteTurnRequest{
		TenantID: "t1",
		Turn:     routing.CallTurnEvent{IntentTag: "asking about hours"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var decision routing.RouteDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if decision.MatchedRuleID != "g-hours" {
		t.Errorf("expected g-hours match, got %q (reason %s)", decision.MatchedRuleID, decision.Reason)
	}
	if decision.Route != routing.RouteMessageOnly {
		t.Errorf("answer_only maps to MESSAGE_ONLY, got %s", decision.Route)
	}
}

func TestHandleRouteTurn_StoreFailureStillRoutes(t *testing.T) {
	store := newMemStore()
	store.settingsE = context.DeadlineExceeded
	router := newTestRouter(t, store)

	w := postJSON(t, router, "/v1/callflow/route", RouteTurnRequest{
		TenantID: "t1",
		Turn:     routing.CallTurnEvent{Action: "hangup"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("a live call must still get a route, status = %d", w.Code)
	}

	var decision routing.RouteDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if decision.Route != routing.RouteEndCall {
		t.Errorf("expected classifier fallback END_CALL, got %s", decision.Route)
	}
}

func TestHandleRouteTurn_MissingTenantIDRejected(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := postJSON(t, router, "/v1/callflow/route", map[string]any{
		"turn": routing.CallTurnEvent{},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "INVALID_BODY" {
		t.Errorf("expected INVALID_BODY, got %q", resp.Code)
	}
}

// =============================================================================
// Contract Tests
// =============================================================================

func TestHandleCompileContract(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := postJSON(t, router, "/v1/callflow/contract/compile", map[string]any{
		"library": []map[string]any{
			{"id": "f-name", "type": "name", "question": "Your name?", "required": true},
		},
		"groups": []map[string]any{
			{"id": "g-default", "isDefault": true, "slots": []string{"f-name"}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var contract struct {
		Hash     string   `json:"hash"`
		FieldIDs []string `json:"fieldIds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &contract); err != nil {
		t.Fatalf("decode contract: %v", err)
	}
	if len(contract.FieldIDs) != 1 || contract.FieldIDs[0] != "f-name" {
		t.Errorf("unexpected field ids: %v", contract.FieldIDs)
	}
	if contract.Hash == "" {
		t.Error("contract must carry a hash")
	}
}

func TestHandleBookingFields(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := postJSON(t, router, "/v1/callflow/contract/booking-fields", map[string]any{
		"library": []map[string]any{
			{"id": "f-phone", "type": "phone", "question": "Best number?", "required": true},
		},
		"groups": []map[string]any{
			{"id": "g", "slots": []string{"f-phone"}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Fields []struct {
			SlotID string `json:"slotId"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Fields) != 1 || resp.Fields[0].SlotID != "phone_number" {
		t.Errorf("expected the legacy phone id, got %+v", resp.Fields)
	}
}

// =============================================================================
// Trigger Rules Tests
// =============================================================================

func TestHandleTenantRules(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/v1/callflow/triggers/t1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		TenantID string                 `json:"tenantId"`
		Rules    []triggers.TriggerRule `json:"rules"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Rules) != 1 || resp.Rules[0].Key != "g-hours" {
		t.Errorf("unexpected rules: %+v", resp.Rules)
	}
}

func TestHandleTenantRules_UnpublishedGroupConflicts(t *testing.T) {
	store := newMemStore()
	store.meta.Published = false
	router := newTestRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/v1/callflow/triggers/t1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "GROUP_UNPUBLISHED" {
		t.Errorf("expected GROUP_UNPUBLISHED, got %q", resp.Code)
	}
}

func TestHandleTenantRules_StoreFailureIsBadGateway(t *testing.T) {
	store := newMemStore()
	store.settingsE = context.DeadlineExceeded
	router := newTestRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/v1/callflow/triggers/t1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

// =============================================================================
// Cache Invalidation Tests
// =============================================================================

func TestHandleInvalidateCache(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	for _, body := range []InvalidateCacheRequest{
		{TenantID: "t1"},
		{GroupID: "g1"},
		{All: true},
	} {
		w := postJSON(t, router, "/v1/callflow/cache/invalidate", body)
		if w.Code != http.StatusOK {
			t.Errorf("invalidate %+v: status = %d", body, w.Code)
		}
	}
}

func TestHandleInvalidateCache_MissingParameter(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := postJSON(t, router, "/v1/callflow/cache/invalidate", InvalidateCacheRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "MISSING_PARAMETER" {
		t.Errorf("expected MISSING_PARAMETER, got %q", resp.Code)
	}
}

// =============================================================================
// Phone Capture Tests
// =============================================================================

func TestHandlePhoneStep_FreshCapture(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	// Zero-value context: the handler starts a fresh capture.
	w := postJSON(t, router, "/v1/callflow/phone/step", map[string]any{
		"turn": map[string]any{
			"utterance":      "it's 555 123 4567",
			"extractedPhone": "5551234567",
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var next struct {
		State string `json:"state"`
		Phone string `json:"phone"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &next); err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if next.State != "AWAITING_CONFIRM" {
		t.Errorf("expected AWAITING_CONFIRM, got %q", next.State)
	}
	if next.Phone != "(555) 123-4567" {
		t.Errorf("expected the canonical number, got %q", next.Phone)
	}
}

func TestHandlePhoneStep_SuffixCorrection(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	w := postJSON(t, router, "/v1/callflow/phone/step", map[string]any{
		"context": map[string]any{
			"state":       "AWAITING_CONFIRM",
			"phone":       "(555) 123-4567",
			"maxAttempts": 2,
		},
		"turn": map[string]any{
			"utterance": "no it's 2202",
			"negative":  true,
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var next struct {
		State       string `json:"state"`
		Phone       string `json:"phone"`
		LastOutcome string `json:"lastOutcome"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &next); err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if next.Phone != "(555) 123-2202" {
		t.Errorf("expected the repaired number, got %q", next.Phone)
	}
	if next.LastOutcome != "suffix_fixed" {
		t.Errorf("expected suffix_fixed, got %q", next.LastOutcome)
	}
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	for _, path := range []string{"/v1/callflow/health", "/v1/callflow/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, w.Code)
		}
	}
}
