package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/natefinch/lumberjack.v2"

	"dinmarket/config"
	"dinmarket/core/events"
	"dinmarket/core/state"
	"dinmarket/core/types"
	"dinmarket/native/checkout"
	"dinmarket/native/common"
	"dinmarket/native/orderlog"
	"dinmarket/native/registry"
	"dinmarket/native/token"
	"dinmarket/observability"
	"dinmarket/observability/logging"
	"dinmarket/rpc"
	"dinmarket/storage"
)

const staticResolverID = "static"

// eventLogger forwards engine events to the structured logger so off-node
// indexers can follow settlements from the log stream.
type eventLogger struct {
	logger *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	args := []any{"type", evt.EventType()}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for k, v := range payload.Attributes {
				args = append(args, k, v)
			}
		}
	}
	l.logger.Info("engine event", args...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var sink io.Writer
	if strings.TrimSpace(cfg.LogFile) != "" {
		sink = &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  cfg.LogMaxSizeMB,
			MaxAge:   cfg.LogMaxAgeDay,
			Compress: true,
		}
	}
	logger := logging.Setup("dinmarketd", cfg.NetworkName, sink)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "settlement"))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	accounts := state.NewManager(db)
	reg := registry.New(db)
	set := registry.NewResolverSet()
	static := registry.NewStaticResolver()
	if err := set.Register(staticResolverID, static); err != nil {
		logger.Error("failed to register resolver", "error", err)
		os.Exit(1)
	}
	ledger := token.NewLedger()
	orders := orderlog.New(db)
	pauses := common.NewPauseSet()

	self := engineIdentity(cfg.NetworkName)
	ledger.SetCheckout(self)

	engine := checkout.NewEngine()
	engine.SetState(accounts)
	engine.SetRegistry(reg)
	engine.SetMerchantGateway(set)
	engine.SetLedger(ledger)
	engine.SetOrderLog(orders)
	engine.SetIdentity(self)
	engine.SetRewardToken(cfg.RewardToken)
	engine.SetPauses(pauses)
	engine.SetEmitter(eventLogger{logger: logger})

	server := rpc.NewServer(rpc.ServerConfig{
		Engine:        engine,
		Accounts:      accounts,
		Registry:      reg,
		Static:        static,
		ResolverID:    staticResolverID,
		Ledger:        ledger,
		Orders:        orders,
		Pauses:        pauses,
		Metrics:       observability.Checkout(),
		Logger:        logger,
		AdminToken:    cfg.AdminToken,
		RatePerMinute: cfg.RateLimitPerMinute,
		RateBurst:     cfg.RateLimitBurst,
	})

	logger.Info("settlement node configured",
		"network", cfg.NetworkName,
		"rewardToken", cfg.RewardToken,
		"dataDir", cfg.DataDir,
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", "error", err)
		os.Exit(1)
	}
}

// engineIdentity derives a stable address for the node's checkout engine
// from the network name. The ledger's privileged transfer is keyed on it.
func engineIdentity(network string) [20]byte {
	digest := ethcrypto.Keccak256([]byte("dinmarket/checkout/" + strings.TrimSpace(network)))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}
