// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists investigations and their knowledge graphs.
//
// The store is SQLite behind GORM, using the pure-Go modernc driver so
// builds stay CGO-free. Schema lives in embedded goose migrations, not
// AutoMigrate: unique indexes are load-bearing (entity identity, mention
// idempotence, relationship dedup) and deserve explicit DDL.
//
// Repositories take context on every call and report missing rows as
// ErrNotFound. Multi-table writes go through Store.Transaction, which
// rebinds every repository to the transaction handle.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
// Handlers map it to HTTP 404.
var ErrNotFound = errors.New("not found")

// Open opens (creating if necessary) the SQLite database at path.
//
// Foreign keys are switched on per connection because SQLite defaults
// them off and the schema relies on ON DELETE CASCADE. WAL mode plus a
// busy timeout lets the worker pool and HTTP handlers share the file.
func Open(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// Migrate applies all pending schema migrations.
func Migrate(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return err
	}

	return nil
}

// Store bundles the repositories over one database (or transaction) handle.
type Store struct {
	db *gorm.DB

	Investigations *InvestigationRepository
	Subtasks       *SubtaskRepository
	Graph          *GraphRepository
	Evidence       *EvidenceRepository
	Agents         *AgentRepository
	Reports        *ReportRepository
	Boards         *BoardRepository
}

// New builds a Store over db. db may be a transaction handle.
func New(db *gorm.DB) *Store {
	return &Store{
		db:             db,
		Investigations: &InvestigationRepository{db: db},
		Subtasks:       &SubtaskRepository{db: db},
		Graph:          &GraphRepository{db: db},
		Evidence:       &EvidenceRepository{db: db},
		Agents:         &AgentRepository{db: db},
		Reports:        &ReportRepository{db: db},
		Boards:         &BoardRepository{db: db},
	}
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *gorm.DB { return s.db }

// Ping verifies the database connection is alive. The health endpoint
// calls this.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn inside a database transaction. The Store passed to
// fn is bound to the transaction; using the outer Store inside fn writes
// outside the transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

// translateNotFound converts gorm's sentinel into the package sentinel.
func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// NormalizeEntityName canonicalizes an entity name for identity matching:
// lowercased, trimmed, inner whitespace collapsed to single spaces.
func NormalizeEntityName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
