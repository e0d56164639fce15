package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// JournalEntry is one equip/unequip outcome.
type JournalEntry struct {
	CharID int32
	Action string // "equip", "unequip", "fail"
	Slot   int16
	ItemID int32
	Node   string
	Result string
}

type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// Write inserts a batch of entries in a single round trip.
func (r *JournalRepo) Write(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO equip_journal (char_id, action, slot_index, item_id, node, result)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.CharID, e.Action, e.Slot, e.ItemID, e.Node, e.Result,
		)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}
	return nil
}
