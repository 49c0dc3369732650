package loam

import (
	"context"
	"errors"
	"fmt"

	"github.com/loamdb/loam/dialect"
)

// txCtxKey carries the ambient transaction through the context.
type txCtxKey struct{}

func txFromContext(ctx context.Context) dialect.Tx {
	tx, _ := ctx.Value(txCtxKey{}).(dialect.Tx)
	return tx
}

// NewTxContext returns a context carrying tx as the ambient
// transaction. Operations run with the returned context execute inside
// tx instead of opening their own.
func NewTxContext(ctx context.Context, tx dialect.Tx) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back when fn returns an error or panics;
// atomicity is all-or-nothing, never partial. When the context already
// carries an ambient transaction, fn joins it and the outer caller
// owns the commit.
//
//	err := client.WithTx(ctx, func(ctx context.Context) error {
//	    if _, err := users.Create(ctx, values); err != nil {
//	        return err
//	    }
//	    _, err := orders.Create(ctx, orderValues)
//	    return err
//	})
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := c.driver.Tx(ctx)
	if err != nil {
		return fmt.Errorf("loam: begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			if rerr := tx.Rollback(); rerr != nil {
				c.logger.Error("rollback after panic failed", "err", rerr)
			}
			panic(r)
		}
	}()
	if err = fn(NewTxContext(ctx, tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = errors.Join(err, &RollbackError{Err: rerr})
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("loam: commit transaction: %w", err)
	}
	return nil
}

// Tx begins an explicit transaction whose lifetime the caller owns.
// Operations join it through a context built with NewTxContext, and
// the caller issues the Commit or Rollback. Unlike WithTx, Tx never
// joins an ambient transaction: beginning one inside another returns
// ErrTxStarted.
func (c *Client) Tx(ctx context.Context) (dialect.Tx, error) {
	if txFromContext(ctx) != nil {
		return nil, ErrTxStarted
	}
	tx, err := c.driver.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam: begin transaction: %w", err)
	}
	return tx, nil
}
