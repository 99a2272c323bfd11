// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triggers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Storage Collaborator
// =============================================================================

// Store is the read-only storage collaborator supplying rule configuration
// documents. Implementations own persistence; the resolver never writes.
//
// A read failure must surface as an error — the resolver does not synthesize
// empty rule sets on failure, since "no rules configured" and "store
// unavailable" are observably different to the caller.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// TenantSettings returns the tenant's trigger configuration.
	TenantSettings(ctx context.Context, tenantID string) (TenantTriggerSettings, error)

	// RuleGroup returns a global rule group's publication metadata.
	RuleGroup(ctx context.Context, groupID string) (RuleGroupMeta, error)

	// PublishedGlobalRules returns the published rules of a group at the
	// given version. Draft rules are never returned.
	PublishedGlobalRules(ctx context.Context, groupID string, version int) ([]TriggerRule, error)

	// LocalRules returns the tenant's own rules.
	LocalRules(ctx context.Context, tenantID string) ([]TriggerRule, error)

	// AudioRecordings returns the tenant's recordings keyed by trigger id.
	AudioRecordings(ctx context.Context, tenantID string) (map[string]AudioRecording, error)
}

// =============================================================================
// File-Backed Store (development and tests)
// =============================================================================

// FileStore is a Store reading YAML documents from a directory tree:
//
//	<root>/tenants/<tenantID>.yaml     (tenantDocument)
//	<root>/groups/<groupID>.yaml       (groupDocument)
//
// It backs the local development server and integration tests; production
// deployments inject the real configuration store instead.
type FileStore struct {
	root string
}

// tenantDocument is one tenant's on-disk configuration.
type tenantDocument struct {
	Settings   TenantTriggerSettings `yaml:"settings"`
	LocalRules []TriggerRule         `yaml:"local_rules"`
	Recordings []AudioRecording      `yaml:"recordings"`
}

// groupDocument is one global rule group's on-disk configuration.
type groupDocument struct {
	Meta  RuleGroupMeta `yaml:"meta"`
	Rules []TriggerRule `yaml:"rules"`
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

func (s *FileStore) readTenant(tenantID string) (tenantDocument, error) {
	var doc tenantDocument
	path := filepath.Join(s.root, "tenants", tenantID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read tenant document %s: %w", tenantID, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse tenant document %s: %w", tenantID, err)
	}
	return doc, nil
}

func (s *FileStore) readGroup(groupID string) (groupDocument, error) {
	var doc groupDocument
	path := filepath.Join(s.root, "groups", groupID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read group document %s: %w", groupID, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse group document %s: %w", groupID, err)
	}
	return doc, nil
}

// TenantSettings implements Store.
func (s *FileStore) TenantSettings(ctx context.Context, tenantID string) (TenantTriggerSettings, error) {
	if err := ctx.Err(); err != nil {
		return TenantTriggerSettings{}, err
	}
	doc, err := s.readTenant(tenantID)
	if err != nil {
		return TenantTriggerSettings{}, err
	}
	return doc.Settings, nil
}

// RuleGroup implements Store.
func (s *FileStore) RuleGroup(ctx context.Context, groupID string) (RuleGroupMeta, error) {
	if err := ctx.Err(); err != nil {
		return RuleGroupMeta{}, err
	}
	doc, err := s.readGroup(groupID)
	if err != nil {
		return RuleGroupMeta{}, err
	}
	return doc.Meta, nil
}

// PublishedGlobalRules implements Store. The file layout stores only the
// published revision, so version selects nothing here; the real store keys
// revisions by version.
func (s *FileStore) PublishedGlobalRules(ctx context.Context, groupID string, version int) ([]TriggerRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.readGroup(groupID)
	if err != nil {
		return nil, err
	}
	if !doc.Meta.Published {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrGroupUnpublished)
	}
	return doc.Rules, nil
}

// LocalRules implements Store.
func (s *FileStore) LocalRules(ctx context.Context, tenantID string) ([]TriggerRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.readTenant(tenantID)
	if err != nil {
		return nil, err
	}
	return doc.LocalRules, nil
}

// AudioRecordings implements Store.
func (s *FileStore) AudioRecordings(ctx context.Context, tenantID string) (map[string]AudioRecording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.readTenant(tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]AudioRecording, len(doc.Recordings))
	for _, rec := range doc.Recordings {
		out[rec.TriggerID] = rec
	}
	return out, nil
}
