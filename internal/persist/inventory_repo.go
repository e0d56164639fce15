package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SlotRow is one filled inventory slot. ID is the item's object id.
type SlotRow struct {
	ID        int32
	SlotIndex int16
	ItemID    int32
}

type InventoryRepo struct {
	db *DB
}

func NewInventoryRepo(db *DB) *InventoryRepo {
	return &InventoryRepo{db: db}
}

// Load returns the filled slots of a character ordered by slot index.
func (r *InventoryRepo) Load(ctx context.Context, charID int32) ([]SlotRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, slot_index, item_id FROM character_slots
		 WHERE char_id = $1 ORDER BY slot_index`, charID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotRow
	for rows.Next() {
		var s SlotRow
		if err := rows.Scan(&s.ID, &s.SlotIndex, &s.ItemID); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Save writes the slot contents and the equipped slot in one transaction.
// Slots missing from filled are cleared; kept slots keep their object id.
func (r *InventoryRepo) Save(ctx context.Context, charID int32, filled []SlotRow, equipped int16) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		keep := make([]int16, 0, len(filled))
		for _, s := range filled {
			if _, err := tx.Exec(ctx,
				`INSERT INTO character_slots (char_id, slot_index, item_id) VALUES ($1, $2, $3)
				 ON CONFLICT (char_id, slot_index) DO UPDATE SET item_id = EXCLUDED.item_id`,
				charID, s.SlotIndex, s.ItemID,
			); err != nil {
				return fmt.Errorf("inventory upsert slot %d: %w", s.SlotIndex, err)
			}
			keep = append(keep, s.SlotIndex)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM character_slots WHERE char_id = $1 AND NOT (slot_index = ANY($2))`,
			charID, keep,
		); err != nil {
			return fmt.Errorf("inventory clear slots: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE characters SET equipped_slot = $2 WHERE id = $1`, charID, equipped,
		); err != nil {
			return fmt.Errorf("inventory equipped slot: %w", err)
		}
		return nil
	})
}
