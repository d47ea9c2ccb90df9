// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

// Store wraps the pgx pool with the service's data access.
type Store struct {
	pool *pgxpool.Pool
	cfg  config.DatabaseConfig

	// textDim is the chunk embedding dimension for the vector column.
	textDim int

	// imageDim is the image embedding dimension.
	imageDim int

	queryTimeout time.Duration
}

// New connects to Postgres and prepares the pool. The schema is not touched;
// call InitSchema separately.
func New(ctx context.Context, cfg config.DatabaseConfig, textDim, imageDim int) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, "metastore.connect", err, "connect database")
	}

	return &Store{
		pool:         pool,
		cfg:          cfg,
		textDim:      textDim,
		imageDim:     imageDim,
		queryTimeout: time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
	}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fault.Wrapf(fault.KindTransient, "metastore.ping", err, "ping failed")
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// classify maps driver errors onto the shared error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.New(fault.KindNotFound, op, "not found")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.KindDeadline, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fault.Wrapf(fault.KindConflict, op, err, "constraint %s", pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fault.Wrapf(fault.KindNotFound, op, err, "referenced row missing")
		case "23514", "22P02": // check_violation, invalid_text_representation
			return fault.Wrap(fault.KindValidation, op, err)
		}
		// Connection and resource classes are retryable.
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "08", "53", "57":
				return fault.Wrap(fault.KindTransient, op, err)
			}
		}
	}
	if pgconn.Timeout(err) {
		return fault.Wrap(fault.KindDeadline, op, err)
	}
	return fault.Wrap(fault.KindTransient, op, err)
}
