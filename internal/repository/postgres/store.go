// Package postgres implements the outreach store on PostgreSQL via
// database/sql and lib/pq. The schema lives in migrations/.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/outreach/internal/mailbox"
	"github.com/ignite/outreach/internal/service/campaign"
	"github.com/ignite/outreach/internal/service/delivery"
	"github.com/ignite/outreach/internal/service/engagement"
	"github.com/ignite/outreach/internal/service/followup"
	"github.com/ignite/outreach/internal/worker"
)

var (
	_ delivery.Store          = (*Store)(nil)
	_ followup.Store          = (*Store)(nil)
	_ engagement.Store        = (*Store)(nil)
	_ campaign.Repository     = (*Store)(nil)
	_ mailbox.CredentialStore = (*Store)(nil)
	_ worker.MaintenanceStore = (*Store)(nil)
)

// Store bundles the per-table repositories. It satisfies the store
// interfaces of the delivery, followup, engagement and campaign services
// the mailbox credential store and the worker maintenance jobs.
type Store struct {
	*CampaignRepo
	*LeadRepo
	*MessageRepo
	*EventRepo
	*CredentialRepo

	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{
		CampaignRepo:   NewCampaignRepo(db),
		LeadRepo:       NewLeadRepo(db),
		MessageRepo:    NewMessageRepo(db),
		EventRepo:      NewEventRepo(db),
		CredentialRepo: NewCredentialRepo(db),
		db:             db,
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to dsn, applies the pool settings and pings the server.
func Open(dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// nullString maps "" to NULL for nullable foreign keys.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
