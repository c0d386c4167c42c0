// Package db provides the PostgreSQL-backed schedule store. The repository
// accepts a DBTX interface satisfied by both *pgxpool.Pool and pgx.Tx, so
// the same query code runs inside or outside a transaction.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pushpoint/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner executes fn inside a transaction. Mutations that read-modify-write
// a schedule row go through a TxRunner so a row lock serializes concurrent
// writers for the same user.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(q DBTX) error) error
}

// PoolTxRunner runs transactions on a pgx connection pool.
type PoolTxRunner struct {
	Pool *pgxpool.Pool
}

func (r *PoolTxRunner) RunInTx(ctx context.Context, fn func(q DBTX) error) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// PlainTxRunner runs fn directly against the wrapped DBTX without opening a
// transaction. Used by tests with a mock DBTX.
type PlainTxRunner struct {
	DB DBTX
}

func (r *PlainTxRunner) RunInTx(_ context.Context, fn func(q DBTX) error) error {
	return fn(r.DB)
}
