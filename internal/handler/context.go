package handler

import (
	"context"

	"github.com/l1jgo/wield/internal/config"
	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/core/event"
	"github.com/l1jgo/wield/internal/data"
	"github.com/l1jgo/wield/internal/net"
	"github.com/l1jgo/wield/internal/net/packet"
	"github.com/l1jgo/wield/internal/persist"
	"github.com/l1jgo/wield/internal/replication"
	"github.com/l1jgo/wield/internal/scripting"
	"github.com/l1jgo/wield/internal/world"
	"go.uber.org/zap"
)

// AccountStore is the account persistence used by login.
// *persist.AccountRepo implements it.
type AccountStore interface {
	Load(ctx context.Context, name string) (*persist.AccountRow, error)
	Create(ctx context.Context, name, rawPassword, ip string) (*persist.AccountRow, error)
	UpdateLastActive(ctx context.Context, name, ip string) error
	SetOnline(ctx context.Context, name string, online bool) error
}

// CharacterStore is implemented by *persist.CharacterRepo.
type CharacterStore interface {
	LoadByAccount(ctx context.Context, account string) ([]persist.CharacterRow, error)
	LoadByName(ctx context.Context, name string) (*persist.CharacterRow, error)
	Create(ctx context.Context, account, name, rig string) (*persist.CharacterRow, error)
}

// InventoryStore is implemented by *persist.InventoryRepo.
type InventoryStore interface {
	Load(ctx context.Context, charID int32) ([]persist.SlotRow, error)
	Save(ctx context.Context, charID int32, filled []persist.SlotRow, equipped int16) error
}

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	AccountRepo   AccountStore
	CharRepo      CharacterStore
	InventoryRepo InventoryStore
	Config        *config.Config
	Log           *zap.Logger
	ECS           *ecs.World
	Bus           *event.Bus
	World         *world.State
	Oracle        *replication.OwnerOracle
	Gateway       *replication.ECSGateway
	Scripting     *scripting.Engine // nil = no equip rules
	Items         *data.ItemTable
	Rigs          *data.RigTable

	limiter *loginLimiter
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	if deps.Config.RateLimit.Enabled && deps.Config.RateLimit.LoginAttemptsPerMinute > 0 {
		deps.limiter = newLoginLimiter(deps.Config.RateLimit.LoginAttemptsPerMinute)
	}

	reg.Register(packet.C_OPCODE_LOGIN, packet.PreAuth,
		func(sess any, r *packet.Reader) {
			HandleLogin(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_ENTERWORLD, packet.Lobby,
		func(sess any, r *packet.Reader) {
			HandleEnterWorld(sess.(*net.Session), r, deps)
		},
	)

	reg.Register(packet.C_OPCODE_TOGGLESLOT, packet.InWorld,
		func(sess any, r *packet.Reader) {
			HandleToggleSlot(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_UNEQUIPSLOT, packet.InWorld,
		func(sess any, r *packet.Reader) {
			HandleUnequipSlot(sess.(*net.Session), r, deps)
		},
	)

	reg.Register(packet.C_OPCODE_QUIT, packet.Online,
		func(sess any, r *packet.Reader) {
			HandleQuit(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_PING, packet.Online,
		func(sess any, r *packet.Reader) {
			HandlePing(sess.(*net.Session), r, deps)
		},
	)
}
