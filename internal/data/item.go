package data

import (
	"fmt"
	"os"
	"sort"

	"github.com/l1jgo/wield/internal/world"
	"gopkg.in/yaml.v3"
)

// ItemInfo is one item template.
type ItemInfo struct {
	ItemID     int32
	Name       string
	Kind       string // sword, bow, shield, potion...
	Prefab     string // replicated prefab spawned when equipped
	AttachNode string // preferred attachment node ("" = rules/default)
	Equippable bool
	// StarterSlot places the item in new characters' inventories (-1 = no).
	StarterSlot int
}

// Ref builds the inventory reference for one instance of the template.
func (it *ItemInfo) Ref(objectID int32) world.ItemRef {
	return world.ItemRef{
		ObjectID:   objectID,
		ItemID:     it.ItemID,
		Name:       it.Name,
		Kind:       it.Kind,
		Prefab:     it.Prefab,
		AttachNode: it.AttachNode,
	}
}

// ItemTable holds all item templates indexed by ItemID.
type ItemTable struct {
	items map[int32]*ItemInfo
}

// Get returns an item by ID, or nil if not found.
func (t *ItemTable) Get(itemID int32) *ItemInfo {
	return t.items[itemID]
}

// Count returns total loaded items.
func (t *ItemTable) Count() int {
	return len(t.items)
}

// IDs returns all item IDs in ascending order.
func (t *ItemTable) IDs() []int32 {
	out := make([]int32, 0, len(t.items))
	for id := range t.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type itemEntry struct {
	ItemID      int32  `yaml:"item_id"`
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Prefab      string `yaml:"prefab"`
	AttachNode  string `yaml:"attach_node"`
	Equippable  *bool  `yaml:"equippable"` // default true when a prefab is set
	StarterSlot *int   `yaml:"starter_slot"`
}

type itemListFile struct {
	Items []itemEntry `yaml:"items"`
}

// LoadItemTable loads item templates from a YAML file.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	t, err := ParseItemTable(raw)
	if err != nil {
		return nil, fmt.Errorf("parse items %s: %w", path, err)
	}
	return t, nil
}

func ParseItemTable(raw []byte) (*ItemTable, error) {
	var f itemListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	t := &ItemTable{items: make(map[int32]*ItemInfo, len(f.Items))}
	for i := range f.Items {
		e := &f.Items[i]
		if e.ItemID <= 0 {
			return nil, fmt.Errorf("item %q: item_id must be positive", e.Name)
		}
		if _, dup := t.items[e.ItemID]; dup {
			return nil, fmt.Errorf("item %d: duplicate item_id", e.ItemID)
		}
		equippable := e.Prefab != ""
		if e.Equippable != nil {
			equippable = *e.Equippable
		}
		if equippable && e.Prefab == "" {
			return nil, fmt.Errorf("item %d (%s): equippable item needs a prefab", e.ItemID, e.Name)
		}
		starter := -1
		if e.StarterSlot != nil {
			starter = *e.StarterSlot
			if starter < 0 {
				return nil, fmt.Errorf("item %d: starter_slot must not be negative", e.ItemID)
			}
		}
		t.items[e.ItemID] = &ItemInfo{
			ItemID:      e.ItemID,
			Name:        e.Name,
			Kind:        e.Kind,
			Prefab:      e.Prefab,
			AttachNode:  e.AttachNode,
			Equippable:  equippable,
			StarterSlot: starter,
		}
	}
	return t, nil
}

// Starters returns the starter items ordered by slot.
func (t *ItemTable) Starters() []*ItemInfo {
	var out []*ItemInfo
	for _, id := range t.IDs() {
		if it := t.items[id]; it.StarterSlot >= 0 {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StarterSlot < out[j].StarterSlot })
	return out
}
