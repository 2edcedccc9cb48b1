package database

import (
	"github.com/alicebob/miniredis/v2"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
)

// NewMockPool creates a pgxmock pool. It satisfies DBTX and Migrator; call
// ExpectationsWereMet at the end of each test.
func NewMockPool() (pgxmock.PgxPoolIface, error) {
	return pgxmock.NewPool()
}

// NewTestRedis starts an in-memory Redis server and a client connected to it.
// Close both when done.
func NewTestRedis() (*miniredis.Miniredis, *redis.Client, error) {
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil
}
