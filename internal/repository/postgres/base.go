package postgres

import (
	"github.com/jmoiron/sqlx"
)

// BaseRepository holds the shared database handle the concrete
// repositories embed.
type BaseRepository struct {
	db *sqlx.DB
}

func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}
