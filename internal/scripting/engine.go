package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for equip rules.
// Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)

	// core helpers first, then rule scripts
	for _, sub := range []string{"core", "equip"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			e.vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

// NewEngineFromSource creates an engine from an in-memory chunk.
func NewEngineFromSource(src string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	if err := e.vm.DoString(src); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load lua source: %w", err)
	}
	return e, nil
}

func newEngine(log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	return &Engine{vm: vm, log: log}
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// ItemContext is the data a rule sees about an equip attempt.
type ItemContext struct {
	ItemID     int32
	Name       string
	Kind       string
	Prefab     string
	AttachNode string // template preference
	Slot       int
	AvatarName string
	Rig        string
}

func (e *Engine) itemTable(ctx ItemContext) (*lua.LTable, *lua.LTable) {
	item := e.vm.NewTable()
	item.RawSetString("item_id", lua.LNumber(ctx.ItemID))
	item.RawSetString("name", lua.LString(ctx.Name))
	item.RawSetString("kind", lua.LString(ctx.Kind))
	item.RawSetString("prefab", lua.LString(ctx.Prefab))
	item.RawSetString("attach_node", lua.LString(ctx.AttachNode))
	item.RawSetString("slot", lua.LNumber(ctx.Slot))

	avatar := e.vm.NewTable()
	avatar.RawSetString("name", lua.LString(ctx.AvatarName))
	avatar.RawSetString("rig", lua.LString(ctx.Rig))
	return item, avatar
}

// AttachNodeFor calls the Lua attach_node_for function. An empty result
// means "use the configured default".
func (e *Engine) AttachNodeFor(ctx ItemContext) string {
	fn := e.vm.GetGlobal("attach_node_for")
	if fn == lua.LNil {
		return ""
	}
	item, avatar := e.itemTable(ctx)
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, item, avatar); err != nil {
		e.log.Error("lua attach_node_for error", zap.Error(err))
		return ""
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)

	s, ok := result.(lua.LString)
	if !ok {
		return ""
	}
	return string(s)
}

// CanEquip calls the Lua can_equip function, which returns ok and an
// optional reason. Without a rule everything may be equipped; a failing
// script denies.
func (e *Engine) CanEquip(ctx ItemContext) (bool, string) {
	fn := e.vm.GetGlobal("can_equip")
	if fn == lua.LNil {
		return true, ""
	}
	item, avatar := e.itemTable(ctx)
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    2,
		Protect: true,
	}, item, avatar); err != nil {
		e.log.Error("lua can_equip error", zap.Error(err))
		return false, "rule error"
	}
	ok := e.vm.Get(-2)
	reason := e.vm.Get(-1)
	e.vm.Pop(2)

	var msg string
	if s, isStr := reason.(lua.LString); isStr {
		msg = string(s)
	}
	return lua.LVAsBool(ok), msg
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
