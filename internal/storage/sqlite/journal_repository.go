package sqlite

import (
	"database/sql"
)

// JournalRepository is the read and write side of the journal over one
// connection pool.
type JournalRepository struct {
	*JournalReadRepository
	*JournalWriteRepository
}

func NewJournalRepository(dbConn *sql.DB) *JournalRepository {
	return &JournalRepository{
		JournalReadRepository:  NewJournalReadRepository(dbConn),
		JournalWriteRepository: NewJournalWriteRepository(dbConn),
	}
}
