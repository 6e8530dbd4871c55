package db

import (
	"database/sql"
)

// Database is a storage handle created once at process start and passed into
// every repository. Implementations own connection setup and teardown.
type Database interface {
	Connect() error
	Close() error
	DB() *sql.DB
}
