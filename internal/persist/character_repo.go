package persist

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type CharacterRow struct {
	ID           int32
	AccountName  string
	Name         string
	Rig          string
	EquippedSlot int16 // -1 = nothing equipped
}

type CharacterRepo struct {
	db *DB
}

func NewCharacterRepo(db *DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

func (r *CharacterRepo) LoadByAccount(ctx context.Context, account string) ([]CharacterRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, account_name, name, rig, equipped_slot
		 FROM characters WHERE account_name = $1 ORDER BY id`, account,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CharacterRow
	for rows.Next() {
		var c CharacterRow
		if err := rows.Scan(&c.ID, &c.AccountName, &c.Name, &c.Rig, &c.EquippedSlot); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// LoadByName returns the character, or nil when it does not exist.
func (r *CharacterRepo) LoadByName(ctx context.Context, name string) (*CharacterRow, error) {
	c := &CharacterRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, account_name, name, rig, equipped_slot FROM characters WHERE name = $1`, name,
	).Scan(&c.ID, &c.AccountName, &c.Name, &c.Rig, &c.EquippedSlot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CharacterRepo) Create(ctx context.Context, account, name, rig string) (*CharacterRow, error) {
	c := &CharacterRow{AccountName: account, Name: name, Rig: rig, EquippedSlot: -1}
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO characters (account_name, name, rig) VALUES ($1, $2, $3) RETURNING id`,
		account, name, rig,
	).Scan(&c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}
