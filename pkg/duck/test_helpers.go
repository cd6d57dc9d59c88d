package duck

import (
	"context"
	"errors"
)

// FailingDB is a DB whose Conn always fails. It lets callers
// exercise their error paths without a broken database file.
type FailingDB struct {
	Err error
}

func (d *FailingDB) Path() string    { return "" }
func (d *FailingDB) Catalog() string { return "memory" }
func (d *FailingDB) Schema() string  { return "main" }
func (d *FailingDB) Close() error    { return nil }

func (d *FailingDB) Conn(ctx context.Context) (Connection, error) {
	return nil, d.err()
}

func (d *FailingDB) err() error {
	if d.Err != nil {
		return d.Err
	}
	return errors.New("database unavailable")
}

var _ DB = (*FailingDB)(nil)
var _ Connection = (*duckConn)(nil)
