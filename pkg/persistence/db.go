// Package persistence records every model exchange in SQLite so a session's
// coaching transcript can be replayed later.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"writingcoach/pkg/logx"
)

// The server shares one connection, installed by Initialize.
//
//nolint:gochecknoglobals // process-wide connection
var (
	sharedMu sync.RWMutex
	shared   *sql.DB
	dbLogger = logx.NewLogger("persistence")
)

// Open opens the SQLite file at path and migrates it. The pool is limited to a
// single connection since SQLite has one writer.
func Open(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to reach database %s: %w", path, err), db.Close())
	}
	if err := migrate(db); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to migrate %s: %w", path, err), db.Close())
	}
	return db, nil
}

// Initialize opens the shared connection. Once open, later calls do nothing.
func Initialize(path string) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return nil
	}

	db, err := Open(path)
	if err != nil {
		return err
	}
	shared = db
	dbLogger.Info("Transcript database ready at %s", path)
	return nil
}

// GetDB returns the shared connection. It panics before Initialize.
func GetDB() *sql.DB {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	if shared == nil {
		panic("persistence: GetDB called before Initialize")
	}
	return shared
}

// Store returns an exchange store on the shared connection.
func Store() *ExchangeStore {
	return NewExchangeStore(GetDB())
}

// IsInitialized reports whether the shared connection is open.
func IsInitialized() bool {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	return shared != nil
}

// Close closes the shared connection. Initialize may be called again afterwards.
func Close() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		return nil
	}
	err := shared.Close()
	shared = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
