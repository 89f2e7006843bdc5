package postgres

import (
	"database/sql"
)

type Storage struct {
	*IdentityRepository
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		IdentityRepository: NewIdentityRepository(db),
	}
}
