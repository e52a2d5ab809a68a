package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/ethereum/go-ethereum/ethclient"

	"dexcore/internal/api"
	"dexcore/internal/engine"
	"dexcore/internal/events"
	"dexcore/internal/monitor"
	"dexcore/internal/reconcile"
	"dexcore/internal/state"
	"dexcore/internal/trade"
	"dexcore/pkg/config"
	"dexcore/pkg/crypto"
	"dexcore/pkg/db"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	networks, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		return fmt.Errorf("load networks: %w", err)
	}
	network, ok := networks.Get(cfg.Network)
	if !ok {
		return fmt.Errorf("unknown network %q (have: %v)", cfg.Network, networks.IDs())
	}

	database, err := db.Open(
		filepath.Join(cfg.Database.Dir, strings.ToLower(cfg.Network)+".db"),
		filepath.Join(cfg.Database.Dir, "global.db"),
	)
	if err != nil {
		return fmt.Errorf("open databases: %w", err)
	}
	defer database.Close()

	vault := crypto.NewVault(database)
	writer := state.NewWriter(512)
	store := state.NewStore(database, vault, writer)
	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ensureSystemTag(ctx, database); err != nil {
		log.Printf("⚠️ Could not record system tag: %v", err)
	}
	if err := database.UpdateConfig(ctx, map[string]string{"last_network": cfg.Network}); err != nil {
		log.Printf("⚠️ Could not record active network: %v", err)
	}

	channel := engine.NewChannel(cfg.Engine.SocketPath, cfg.Engine.ConnectTimeout, cfg.Engine.SendTimeout)
	orch := trade.NewOrchestrator(store, channel, bus, 3)

	var receipts *reconcile.ReceiptWatcher
	var chain *reconcile.ChainReader
	if client, err := ethclient.Dial(network.RPCURL); err == nil {
		receipts = reconcile.NewReceiptWatcher(client)
		chain = reconcile.NewChainReader(client)
	} else {
		log.Printf("⚠️ Receipt watching and on-chain reads disabled, RPC dial failed: %v", err)
	}
	worker := reconcile.NewWorker(store, channel, bus, orch, receipts)
	worker.CountEvents(metrics)
	if chain != nil {
		worker.ReadChain(chain)
	}

	server := api.NewServer(api.Deps{
		Config:   cfg.Server,
		Auth:     cfg.Auth,
		Store:    store,
		Vault:    vault,
		Orch:     orch,
		Worker:   worker,
		Sender:   channel,
		Bus:      bus,
		Metrics:  metrics,
		Networks: networks,
		Shutdown: stop,
	})

	// Trading starts once the vault is open: either immediately from the
	// environment or after the operator unlocks through the API.
	if pw := os.Getenv("VAULT_PASSWORD"); pw != "" {
		if err := vault.Unlock(ctx, pw); err != nil {
			return fmt.Errorf("unlock vault from environment: %w", err)
		}
	}
	tradingDone := make(chan struct{})
	go func() {
		defer close(tradingDone)
		runTrading(ctx, network, vault, store, channel, orch, worker)
	}()

	err = server.Run(ctx)
	stop()

	<-tradingDone
	shutdownTrading(channel, store, writer)
	return err
}

// runTrading waits for the vault, loads state, and drives the engine side
// until the context ends.
func runTrading(ctx context.Context, network config.Network, vault *crypto.Vault,
	store *state.Store, channel *engine.Channel, orch *trade.Orchestrator, worker *reconcile.Worker) {

	if !awaitVault(ctx, vault) {
		return
	}
	if err := store.Initialize(ctx); err != nil {
		log.Printf("❌ State load failed: %v", err)
		return
	}

	if err := channel.Start(); err != nil {
		log.Printf("❌ Engine unreachable: %v", err)
		return
	}
	if err := channel.Send(ctx, engine.NewInit(initPayload(store, network))); err != nil {
		log.Printf("❌ Engine init failed: %v", err)
		return
	}

	orch.Start(ctx)
	worker.Run(ctx, channel.Events())
	orch.Wait()
}

// awaitVault blocks until the operator has unlocked the secret vault.
func awaitVault(ctx context.Context, vault *crypto.Vault) bool {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	logged := false
	for {
		if vault.Active() {
			return true
		}
		if !logged {
			log.Printf("🔒 Waiting for vault unlock")
			logged = true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
}

func initPayload(store *state.Store, network config.Network) engine.InitPayload {
	wallets := store.Wallets()
	creds := make([]engine.WalletCredential, 0, len(wallets))
	for _, w := range wallets {
		creds = append(creds, engine.WalletCredential{Address: w.Address, Secret: w.Secret})
	}

	factories := make(map[string]string)
	if network.FactoryV2 != "" {
		factories["v2"] = network.FactoryV2
	}
	if network.FactoryV3 != "" {
		factories["v3"] = network.FactoryV3
	}

	quoteSymbol := store.ConfigValue("quote_symbol", network.NativeTicker)
	fuelQuote := store.ConfigValue("fuel_quote_address", network.WrappedNative)

	// Fallback endpoints the engine rotates to when the primary RPC degrades.
	publicRPCs := network.PublicRPCs
	if raw := store.ConfigValue("public_rpc_urls", ""); raw != "" {
		publicRPCs = nil
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				publicRPCs = append(publicRPCs, u)
			}
		}
	}

	return engine.InitPayload{
		RPC:           store.ConfigValue("rpc_url", network.RPCURL),
		WSS:           store.ConfigValue("wss_url", network.WSSURL),
		ChainID:       network.ChainID,
		Router:        network.Router,
		Quoter:        network.Quoter,
		Factories:     factories,
		WrappedNative: network.WrappedNative,
		NativeAddress: network.WrappedNative,
		Wallets:       creds,
		PublicRPCURLs: publicRPCs,
		FuelSettings: engine.FuelSettings{
			Enabled:      store.ConfigValue("fuel_enabled", "false") == "true",
			QuoteAddress: fuelQuote,
		},
		QuoteSymbol: quoteSymbol,
		QuoteTokens: network.QuoteTokens,
	}
}

// shutdownTrading performs the bounded-drain shutdown sequence: tell the
// engine, close the link, then flush state.
func shutdownTrading(channel *engine.Channel, store *state.Store, writer *state.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if channel.Connected() {
		if err := channel.Send(ctx, engine.NewShutdown()); err != nil {
			log.Printf("⚠️ Engine shutdown notice failed: %v", err)
		}
		channel.Stop()
	}

	store.Flush(ctx)
	writer.Close(5 * time.Second)
	log.Printf("✅ Shutdown complete")
}

// ensureSystemTag stores a stable machine identifier once, for support
// diagnostics.
func ensureSystemTag(ctx context.Context, database *db.Database) error {
	cfg, err := database.GetConfig(ctx)
	if err != nil {
		return err
	}
	if cfg["system_tag"] != "" {
		return nil
	}
	tag, err := machineid.ProtectedID("dexcore")
	if err != nil {
		return err
	}
	return database.UpdateConfig(ctx, map[string]string{"system_tag": tag})
}
