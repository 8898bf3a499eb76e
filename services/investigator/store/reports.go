// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"

	"gorm.io/gorm"
)

// ReportRepository persists generated reports, versioned per investigation.
type ReportRepository struct {
	db *gorm.DB
}

// Create inserts a report with the next version number for its
// investigation. Regenerations append a version rather than overwriting.
func (r *ReportRepository) Create(ctx context.Context, report *Report) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		err := tx.Model(&Report{}).
			Where("investigation_id = ?", report.InvestigationID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error
		if err != nil {
			return err
		}
		report.Version = maxVersion + 1
		return tx.Create(report).Error
	})
}

// Latest returns the highest-version report for an investigation.
func (r *ReportRepository) Latest(ctx context.Context, investigationID string) (*Report, error) {
	var report Report
	err := r.db.WithContext(ctx).
		Where("investigation_id = ?", investigationID).
		Order("version DESC").
		First(&report).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &report, nil
}

// Get fetches one report scoped to its investigation.
func (r *ReportRepository) Get(ctx context.Context, investigationID, id string) (*Report, error) {
	var report Report
	err := r.db.WithContext(ctx).
		Where("id = ? AND investigation_id = ?", id, investigationID).
		First(&report).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &report, nil
}

// List returns every report version for an investigation, oldest first.
func (r *ReportRepository) List(ctx context.Context, investigationID string) ([]Report, error) {
	var rows []Report
	err := r.db.WithContext(ctx).
		Where("investigation_id = ?", investigationID).
		Order("version ASC").
		Find(&rows).Error
	return rows, err
}
