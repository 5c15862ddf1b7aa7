// Package db implements the opening and graceful closing of database connections.
package db

import (
	"fmt"

	"github.com/tourcoin/tourcoin/lib/store"
	"github.com/tourcoin/tourcoin/lib/store/memory"
	"github.com/tourcoin/tourcoin/lib/store/mongo"
	"github.com/tourcoin/tourcoin/lib/store/postgres"
)

// Supported database types.
const (
	MEMORY   string = "memory"
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// New returns a new database connection according to the options (database type).
func New(options, connection string) (store.DB, error) {
	switch options {
	case MEMORY:
		return memory.New(), nil
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		p, err := postgres.New(connection)
		if err != nil {
			return nil, err
		}
		if err = p.Migrate(); err != nil {
			return nil, err
		}
		return p, nil
	}

	return nil, fmt.Errorf("db: unknown database type %q", options)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MEMORY:
		return dh.(*memory.Memory).Close()
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	}

	return nil
}
