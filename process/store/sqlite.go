//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Registers the pure Go "sqlite" driver.
	_ "modernc.org/sqlite"
)

const (
	sqliteCreateStates = "CREATE TABLE IF NOT EXISTS process_states (" +
		"process_id TEXT NOT NULL PRIMARY KEY, " +
		"name TEXT NOT NULL, " +
		"superstep INTEGER NOT NULL, " +
		"status TEXT NOT NULL, " +
		"updated_at INTEGER NOT NULL, " +
		"state_json BLOB NOT NULL" +
		")"

	sqliteUpsertState = "INSERT OR REPLACE INTO process_states (" +
		"process_id, name, superstep, status, updated_at, state_json) VALUES (?, ?, ?, ?, ?, ?)"

	sqliteSelectState = "SELECT state_json FROM process_states WHERE process_id = ?"

	sqliteDeleteState = "DELETE FROM process_states WHERE process_id = ?"
)

// SQLite stores states in a SQLite table. The whole state is kept as a JSON blob next
// to a few columns for inspection.
type SQLite struct {
	db    *sql.DB
	owned bool
}

var _ StateStore = (*SQLite)(nil)

// NewSQLite uses db, which must be a SQLite database, and creates the table if needed.
// Close leaves db open.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateStates); err != nil {
		return nil, fmt.Errorf("create process_states table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// OpenSQLite opens the database file at path with the modernc driver. Close closes it.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s, err := NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Save implements StateStore.
func (s *SQLite) Save(ctx context.Context, st *State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsertState,
		st.ProcessID, st.Name, st.Superstep, string(st.Status), st.UpdatedAt.UnixNano(), b)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", st.ProcessID, err)
	}
	return nil
}

// Load implements StateStore.
func (s *SQLite) Load(ctx context.Context, processID string) (*State, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx, sqliteSelectState, processID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, processID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", processID, err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", processID, err)
	}
	return &st, nil
}

// Delete implements StateStore.
func (s *SQLite) Delete(ctx context.Context, processID string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteState, processID); err != nil {
		return fmt.Errorf("store: delete %s: %w", processID, err)
	}
	return nil
}

// Close implements StateStore.
func (s *SQLite) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
