// Package db defines the ability to create a new database for the coredrain
// service.
package db

import (
	"context"

	"github.com/d4mr/coredrain/db/iface"
	"github.com/d4mr/coredrain/db/kv"
)

// ReadOnlyDatabase exposes the read-only database queries.
type ReadOnlyDatabase = iface.ReadOnlyDatabase

// Database defines the canonical coredrain database interface.
type Database = iface.Database

// NewDB initializes a new DB.
func NewDB(ctx context.Context, dirPath string) (Database, error) {
	return kv.NewKVStore(ctx, dirPath)
}
