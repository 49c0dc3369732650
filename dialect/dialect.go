// Package dialect provides the storage-engine abstraction for loam.
//
// The package defines the interfaces used for statement execution, allowing
// the mapping layer to run against the embedded SQLite engine in production
// and against mock drivers in tests.
//
// # Driver Interface
//
// The Driver interface is the entry point for statement execution:
//
//	type Driver interface {
//	    ExecQuerier
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// # Transaction Interface
//
// The Tx interface extends ExecQuerier with transaction control:
//
//	type Tx interface {
//	    ExecQuerier
//	    Commit() error
//	    Rollback() error
//	}
package dialect

import "context"

// Dialect names. The mapping layer targets the embedded SQLite engine;
// the remaining constants identify wrapped drivers (telemetry, mocks)
// by prefix.
const (
	SQLite   = "sqlite"
	MySQL    = "mysql"
	Postgres = "postgres"
)

// ExecQuerier wraps the 2 database operations.
type ExecQuerier interface {
	// Exec executes a statement that does not return rows. For example,
	// in SQL, INSERT or UPDATE. It scans the result into the pointer v.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows, typically a SELECT.
	// It scans the result into the pointer v.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all database operations.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	// The transaction must be committed or rolled-back.
	Tx(ctx context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps transaction commit and rollback around statement execution.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

type nopTx struct {
	Driver
}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

// NopTx returns a Tx with a no-op Commit / Rollback operations.
func NopTx(d Driver) Tx {
	return nopTx{d}
}

// DebugDriver is a driver that logs all driver operations.
type DebugDriver struct {
	Driver              // underlying driver.
	log    func(...any) // log function.
}

// Debug gets a driver and a logging function, and returns
// a new debugged-driver that prints all outgoing operations.
func Debug(d Driver, logger func(...any)) Driver {
	return &DebugDriver{d, logger}
}

// Exec logs its params and calls the underlying driver Exec method.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log("driver.Exec: query=" + query)
	return d.Driver.Exec(ctx, query, args, v)
}

// Query logs its params and calls the underlying driver Query method.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log("driver.Query: query=" + query)
	return d.Driver.Query(ctx, query, args, v)
}

// Tx starts and returns a transaction with a debugged driver.
func (d *DebugDriver) Tx(ctx context.Context) (Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugTx{tx, d.log}, nil
}

// DebugTx is a transaction implementation that logs all transaction operations.
type DebugTx struct {
	Tx               // underlying transaction.
	log func(...any) // log function.
}

// Exec logs its params and calls the underlying transaction Exec method.
func (d *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	d.log("tx.Exec: query=" + query)
	return d.Tx.Exec(ctx, query, args, v)
}

// Query logs its params and calls the underlying transaction Query method.
func (d *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	d.log("tx.Query: query=" + query)
	return d.Tx.Query(ctx, query, args, v)
}

// Commit logs this step and calls the underlying transaction Commit method.
func (d *DebugTx) Commit() error {
	d.log("tx.Commit")
	return d.Tx.Commit()
}

// Rollback logs this step and calls the underlying transaction Rollback method.
func (d *DebugTx) Rollback() error {
	d.log("tx.Rollback")
	return d.Tx.Rollback()
}
