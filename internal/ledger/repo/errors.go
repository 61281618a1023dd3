package repo

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/radieske/bet-ledger/internal/ledger/model"
)

// mapPQError traduz os códigos de erro do Postgres para os erros
// sentinela do domínio: 23505 (unique) vira conflito, 23503 (fk) vira
// referência inexistente
func mapPQError(err error, what string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s already exists: %w", what, model.ErrConflict)
		case "23503":
			return fmt.Errorf("%s references missing row: %w", what, model.ErrNotFound)
		}
	}
	return err
}
