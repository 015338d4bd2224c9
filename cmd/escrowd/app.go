package main

import (
	"context"
	"fmt"
	"log"

	"escrow-backend/config"
	"escrow-backend/core/escrow"
	"escrow-backend/metrics"
	scmiddleware "escrow-backend/middleware/escrow"
	auth "escrow-backend/storage/auth"
	scstore "escrow-backend/storage/escrow"
)

// app is the wired ledger with its store, substrate and observers.
type app struct {
	cfg      config.Config
	ledger   *escrow.Ledger
	feed     *scmiddleware.EventFeed
	recorder *metrics.Recorder
	journal  scmiddleware.Journal
	keys     auth.KeyResolver // nil: trust X-Caller
	issuer   auth.KeyIssuer   // nil: keys are not persisted
	revoker  auth.KeyRevoker
	closers  []func()
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	ledgerCfg, err := cfg.LedgerConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, feed: scmiddleware.NewEventFeed()}

	var (
		store     escrow.Store
		substrate escrow.Substrate
	)
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := scstore.NewPGStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		accounts := pg.Accounts()
		if err := seedPG(ctx, accounts, cfg.SeedBalances()); err != nil {
			a.Close()
			return nil, err
		}
		keys, err := auth.NewPGAPIKeyStore(ctx, pg.Pool())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init api keys: %w", err)
		}
		for key, wallet := range cfg.APIKeys {
			keys.Seed(ctx, key, escrow.Identity(wallet), "config")
		}
		store, substrate, a.journal = pg, accounts, accounts
		a.keys, a.issuer, a.revoker = keys, keys, keys
	default:
		accounts := scstore.NewMemoryAccounts(cfg.SeedBalances())
		store, substrate, a.journal = scstore.NewMemoryStore(), accounts, accounts
		if len(cfg.APIKeys) > 0 {
			keys := auth.NewAPIKeyStore()
			for key, wallet := range cfg.APIKeys {
				keys.Seed(key, escrow.Identity(wallet), "config")
			}
			a.keys = keys
		}
	}

	observers := []escrow.Observer{a.feed}
	if cfg.Metrics {
		a.recorder = metrics.NewRecorder()
		observers = append(observers, a.recorder)
	}
	a.ledger, err = escrow.NewLedger(ledgerCfg, store, substrate, observers...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	if a.recorder != nil {
		a.recorder.Refresh(ctx, a.ledger)
	}
	log.Printf("escrow ledger ready (driver=%s, arbiter=%s, custody=%s, api_keys=%t)",
		cfg.StoreDriver, a.ledger.Arbiter(), a.ledger.EscrowAccount(), a.keys != nil)
	return a, nil
}

// seedPG mints configured balances into accounts that do not hold any value
// yet, so restarts do not mint twice.
// seedPG mints configured balances into accounts that were never seeded.
func seedPG(ctx context.Context, accounts *scstore.PGAccounts, seed map[escrow.Identity]escrow.Amount) error {
	for account, amount := range seed {
		if amount <= 0 {
			continue
		}
		minted, err := accounts.SeedOnce(ctx, account, amount)
		if err != nil {
			return fmt.Errorf("seed %s: %w", account, err)
		}
		if minted {
			log.Printf("seeded account %s with %d", account, amount)
		}
	}
	return nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg)
}
