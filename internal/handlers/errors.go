package handlers

import (
	"errors"

	"github.com/jason-s-yu/staredown/internal/database"
)

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}
