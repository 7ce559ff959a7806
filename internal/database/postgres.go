package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PgRepository struct {
	conn *sql.DB
}

func NewPgRepository(dsn string) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRepository{conn: db}, nil
}

func (db *PgRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// translateErr maps driver errors onto the package's sentinel errors.
func translateErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}

	return err
}

func intArray(ids []int) pq.Int64Array {
	arr := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	return arr
}
