package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/binarybot/config"
	"github.com/alejandrodnm/binarybot/internal/adapters/onchain"
	"github.com/alejandrodnm/binarybot/internal/adapters/polymarket"
	"github.com/alejandrodnm/binarybot/internal/application/engine"
)

// setupLive autentica contra el CLOB, verifica approvals on-chain y deja en
// deps el executor y el redeemer. Sin ellos el Core opera en paper.
func setupLive(ctx context.Context, cfg *config.Config, client *polymarket.Client, deps *engine.Deps) error {
	slog.Info("=== LIVE TRADING MODE (REAL MONEY) ===",
		"strategy", cfg.Strategy.Mode,
		"bankroll", fmt.Sprintf("$%.2f", cfg.Risk.InitialBankroll),
		"max_positions", cfg.Risk.MaxPositions,
	)

	fmt.Printf("\n⚠️  LIVE TRADING MODE — REAL MONEY WILL BE SPENT\n")
	fmt.Printf("   Strategy: %s | Bankroll: $%.2f | Max positions: %d\n",
		cfg.Strategy.Mode, cfg.Risk.InitialBankroll, cfg.Risk.MaxPositions)
	fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")

	abortTimer := time.NewTimer(5 * time.Second)
	defer abortTimer.Stop()
	select {
	case <-abortTimer.C:
	case <-ctx.Done():
		return fmt.Errorf("live trading aborted by user")
	}

	if cfg.API.PolygonRPC == "" {
		return fmt.Errorf("live mode requires POLYGON_RPC_URL")
	}

	authClient, err := polymarket.NewAuthClient(client, cfg.PrivateKey)
	if err != nil {
		return err
	}
	if err := authClient.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("derive API credentials (check POLY_PRIVATE_KEY): %w", err)
	}
	slog.Info("live: authenticated with Polymarket CLOB", "address", authClient.Address())

	tradingClient, err := polymarket.NewTradingClient(authClient, cfg.API.PolygonRPC)
	if err != nil {
		return err
	}

	redeemClient, err := onchain.NewRedeemClient(cfg.API.PolygonRPC, cfg.PrivateKey)
	if err != nil {
		return err
	}

	slog.Info("live: checking on-chain approvals...")
	if err := redeemClient.EnsureApprovals(ctx); err != nil {
		return fmt.Errorf("ensure on-chain approvals: %w", err)
	}
	slog.Info("live: all approvals verified")

	balance, err := tradingClient.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("get CLOB balance: %w", err)
	}
	slog.Info("live: CLOB balance", "usdc", fmt.Sprintf("$%.2f", balance))
	if balance < cfg.Risk.MinBet {
		return fmt.Errorf("insufficient CLOB balance $%.2f", balance)
	}

	deps.Executor = tradingClient
	deps.Redeemer = redeemClient
	return nil
}
