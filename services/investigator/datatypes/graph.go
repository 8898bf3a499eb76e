// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// CreateEntityRequest adds an entity to the graph by hand. Confidence
// defaults to 0.5 when omitted; the merge rules treat a manual create
// like any other observation, so a duplicate name folds into the
// existing entity instead of erroring.
type CreateEntityRequest struct {
	Name        string         `json:"name" binding:"required,notblank,maxbytes=500"`
	EntityType  string         `json:"entity_type" binding:"required,oneof=person organization location event document other"`
	Description string         `json:"description" binding:"omitempty,maxbytes=5000"`
	Aliases     []string       `json:"aliases" binding:"omitempty,max=20,dive,notblank,maxbytes=200"`
	Attributes  map[string]any `json:"attributes"`
	Confidence  *float64       `json:"confidence" binding:"omitempty,min=0,max=1"`
}

// UpdateEntityRequest edits an entity. Nil fields are left unchanged;
// a non-nil Attributes replaces the stored map wholesale.
type UpdateEntityRequest struct {
	Name        *string        `json:"name" binding:"omitempty,notblank,maxbytes=500"`
	Description *string        `json:"description" binding:"omitempty,maxbytes=5000"`
	Attributes  map[string]any `json:"attributes"`
	Confidence  *float64       `json:"confidence" binding:"omitempty,min=0,max=1"`
}

// CreateRelationshipRequest draws an edge between two existing entities
// of the same investigation.
type CreateRelationshipRequest struct {
	SourceEntityID   string         `json:"source_entity_id" binding:"required,uuid"`
	TargetEntityID   string         `json:"target_entity_id" binding:"required,uuid"`
	RelationshipType string         `json:"relationship_type" binding:"required,oneof=works_for owns associates_with located_at participated_in transacted_with communicated_with related_to"`
	Description      string         `json:"description" binding:"omitempty,maxbytes=5000"`
	Attributes       map[string]any `json:"attributes"`
	Confidence       *float64       `json:"confidence" binding:"omitempty,min=0,max=1"`
}

// ConfidenceRequest sets a confidence value on its own.
type ConfidenceRequest struct {
	Confidence float64 `json:"confidence" binding:"min=0,max=1"`
}

// CreateEvidenceRequest files a source artifact, optionally pre-linked to
// known entities.
type CreateEvidenceRequest struct {
	EvidenceType string         `json:"evidence_type" binding:"omitempty,oneof=document webpage testimony record media other"`
	Title        string         `json:"title" binding:"omitempty,maxbytes=500"`
	Content      string         `json:"content" binding:"required,notblank"`
	SourceURL    string         `json:"source_url" binding:"omitempty,url,maxbytes=2000"`
	Reliability  *float64       `json:"reliability" binding:"omitempty,min=0,max=1"`
	Metadata     map[string]any `json:"metadata"`
	EntityIDs    []string       `json:"entity_ids" binding:"omitempty,max=50,dive,uuid"`
}

// LinkEvidenceRequest attaches one evidence item to one entity.
type LinkEvidenceRequest struct {
	Relevance *float64 `json:"relevance" binding:"omitempty,min=0,max=1"`
	Support   string   `json:"support" binding:"omitempty,oneof=supports contradicts neutral"`
	Quote     string   `json:"quote" binding:"omitempty,maxbytes=2000"`
}
