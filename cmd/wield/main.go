package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/wield/internal/config"
	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/core/event"
	coresys "github.com/l1jgo/wield/internal/core/system"
	"github.com/l1jgo/wield/internal/data"
	"github.com/l1jgo/wield/internal/handler"
	gonet "github.com/l1jgo/wield/internal/net"
	"github.com/l1jgo/wield/internal/net/observer"
	"github.com/l1jgo/wield/internal/net/packet"
	"github.com/l1jgo/wield/internal/persist"
	"github.com/l1jgo/wield/internal/replication"
	"github.com/l1jgo/wield/internal/scripting"
	"github.com/l1jgo/wield/internal/system"
	"github.com/l1jgo/wield/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              Wield  v0.1.0                \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       武器裝備同步 · Go 遊戲伺服器        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

// displayWidth counts CJK characters as two columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := 46 - displayWidth(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - displayWidth(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// Database
	printSection("資料庫")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL 連線成功")

	if err := persist.RunMigrations(ctx, db.Pool, log); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("資料庫遷移完成")

	accountRepo := persist.NewAccountRepo(db)
	charRepo := persist.NewCharacterRepo(db)
	inventoryRepo := persist.NewInventoryRepo(db)
	journalRepo := persist.NewJournalRepo(db)

	// 上次未正常關閉時殘留的上線旗標
	if n, err := accountRepo.ResetOnline(ctx); err != nil {
		return fmt.Errorf("reset online flags: %w", err)
	} else if n > 0 {
		printStat("重設上線旗標", int(n))
	}
	fmt.Println()

	// Data
	printSection("資料載入")

	itemTable, err := data.LoadItemTable(filepath.Join(cfg.Data.YAMLDir, "items.yaml"))
	if err != nil {
		return fmt.Errorf("load item table: %w", err)
	}
	printStat("道具模板", itemTable.Count())

	rigTable, err := data.LoadRigTable(filepath.Join(cfg.Data.YAMLDir, "rigs.yaml"))
	if err != nil {
		return fmt.Errorf("load rig table: %w", err)
	}
	if !rigTable.Has(cfg.Equip.Rig) {
		return fmt.Errorf("equip.rig %q not found in rigs.yaml", cfg.Equip.Rig)
	}
	printStat("骨架", rigTable.Count())

	luaEngine, err := scripting.NewEngine(cfg.Data.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("load scripts: %w", err)
	}
	defer luaEngine.Close()
	printOK("Lua 腳本載入完成")
	fmt.Println()

	// World
	ecsWorld := ecs.NewWorld()
	worldState := world.NewState()
	bus := event.NewBus()
	oracle := replication.NewOwnerOracle()

	sinks := replication.Fanout{&handler.Broadcaster{World: worldState}}
	var gateway *replication.ECSGateway
	var hub *observer.Hub
	var httpSrv *http.Server
	if cfg.Observer.Enabled {
		hub = observer.NewHub(cfg.Observer.QueueSize, func() []replication.Message {
			return gateway.Snapshot()
		}, log.Named("observer"))
		sinks = append(sinks, hub)

		mux := http.NewServeMux()
		mux.Handle(cfg.Observer.Path, hub.Handler())
		httpSrv = &http.Server{Addr: cfg.Observer.BindAddress, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("觀察者服務停止", zap.Error(err))
			}
		}()
	}
	gateway = replication.NewGateway(ecsWorld, oracle, sinks, cfg.Equip.SpawnConfirmTicks, log.Named("replication"))

	deps := &handler.Deps{
		AccountRepo:   accountRepo,
		CharRepo:      charRepo,
		InventoryRepo: inventoryRepo,
		Config:        cfg,
		Log:           log,
		ECS:           ecsWorld,
		Bus:           bus,
		World:         worldState,
		Oracle:        oracle,
		Gateway:       gateway,
		Scripting:     luaEngine,
		Items:         itemTable,
		Rigs:          rigTable,
	}

	pktReg := packet.NewRegistry(log)
	handler.RegisterAll(pktReg, deps)

	hello := packet.NewWriter(packet.S_OPCODE_HELLO).
		WriteC(packet.ProtocolVersion).
		WriteD(int32(cfg.Server.ID)).
		WriteS(cfg.Server.Name).
		Bytes()
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, gonet.SessionOptions{
		InQueueSize:  cfg.Network.InQueueSize,
		OutQueueSize: cfg.Network.OutQueueSize,
		PktPerSec:    packetsPerSecond(cfg.RateLimit),
		ReadTimeout:  cfg.Network.ReadTimeout,
		WriteTimeout: cfg.Network.WriteTimeout,
	}, hello, log)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go netServer.AcceptLoop()

	lifetime, stop := context.WithCancel(context.Background())
	defer stop()

	store := gonet.NewSessionStore()
	equipSys := system.NewEquipSystem(lifetime, deps)
	defer equipSys.Close()
	persistSys := system.NewPersistenceSystem(worldState, bus, inventoryRepo, journalRepo, log, cfg.Equip.SaveIntervalTicks)

	var pump system.Pumper
	if hub != nil {
		pump = hub
	}

	runner := coresys.NewRunner()
	runner.Register(system.NewInputSystem(netServer, pktReg, store, cfg.Network.MaxPacketsPerTick, deps, log))
	runner.Register(system.NewDispatchSystem(bus))
	runner.Register(equipSys)
	runner.Register(system.NewSpawnSystem(ecsWorld))
	runner.Register(system.NewOutputSystem(gateway, pump, store))
	runner.Register(persistSys)
	runner.Register(system.NewCleanupSystem(ecsWorld))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("監聽位址 %s", netServer.Addr().String()))
	if httpSrv != nil {
		printReady(fmt.Sprintf("觀察者 ws://%s%s", cfg.Observer.BindAddress, cfg.Observer.Path))
	}
	printReady(fmt.Sprintf("Tick 間隔 %s", cfg.Network.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			netServer.Shutdown()
			store.ForEach(func(sess *gonet.Session) {
				handler.LeaveWorld(sess, deps)
				sess.Close()
			})
			// 登出時產生的卸下事件也要寫入紀錄
			bus.SwapBuffers()
			bus.DispatchAll()
			persistSys.SaveAll()
			if httpSrv != nil {
				hub.Close()
				sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
				_ = httpSrv.Shutdown(sctx)
				scancel()
			}
			log.Info("伺服器已停止")
			return nil
		}
	}
}

func packetsPerSecond(cfg config.RateLimitConfig) int {
	if !cfg.Enabled {
		return 0
	}
	return cfg.PacketsPerSecond
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
