package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"escrow-backend/core/escrow"

	"gopkg.in/yaml.v3"
)

// Config is the escrowd configuration. A YAML file provides the base and
// ESCROW_* environment variables override individual keys.
type Config struct {
	HTTPAddr        string            `yaml:"http_addr"`
	Arbiter         string            `yaml:"arbiter"`
	EscrowAccount   string            `yaml:"escrow_account"`
	StoreDriver     string            `yaml:"store_driver"` // memory | postgres
	PGDSN           string            `yaml:"pg_dsn"`
	APIKeys         map[string]string `yaml:"api_keys"` // key -> wallet identity
	Accounts        map[string]int64  `yaml:"accounts"` // seed balances
	Policy          PolicyConfig      `yaml:"policy"`
	RequestTimeout  time.Duration     `yaml:"request_timeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	Metrics         bool              `yaml:"metrics"`
}

type PolicyConfig struct {
	OwnerMayDispute bool     `yaml:"owner_may_dispute"`
	RefundStates    []string `yaml:"refund_states"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTPAddr:        ":3003",
		EscrowAccount:   "escrow",
		StoreDriver:     "memory",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Metrics:         true,
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = envDefault("ESCROW_HTTP_ADDR", c.HTTPAddr)
	c.Arbiter = envDefault("ESCROW_ARBITER", c.Arbiter)
	c.EscrowAccount = envDefault("ESCROW_ACCOUNT", c.EscrowAccount)
	c.StoreDriver = envDefault("ESCROW_STORE_DRIVER", c.StoreDriver)
	c.PGDSN = envDefault("ESCROW_PG_DSN", c.PGDSN)

	if raw := os.Getenv("ESCROW_API_KEYS"); raw != "" {
		keys, err := parsePairs(raw)
		if err != nil {
			return fmt.Errorf("ESCROW_API_KEYS: %w", err)
		}
		c.APIKeys = keys
	}
	if raw := os.Getenv("ESCROW_OWNER_MAY_DISPUTE"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("ESCROW_OWNER_MAY_DISPUTE: %w", err)
		}
		c.Policy.OwnerMayDispute = v
	}
	if raw := os.Getenv("ESCROW_REFUND_STATES"); raw != "" {
		c.Policy.RefundStates = strings.Split(raw, ",")
	}
	if raw := os.Getenv("ESCROW_REQUEST_TIMEOUT_SEC"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			c.RequestTimeout = time.Duration(v) * time.Second
		}
	}
	if raw := os.Getenv("ESCROW_SHUTDOWN_TIMEOUT_SEC"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			c.ShutdownTimeout = time.Duration(v) * time.Second
		}
	}
	if raw := os.Getenv("ESCROW_METRICS"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			c.Metrics = v
		}
	}
	return nil
}

// Validate checks the fields the ledger cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Arbiter) == "" {
		return fmt.Errorf("arbiter required (ESCROW_ARBITER)")
	}
	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.PGDSN == "" {
			return fmt.Errorf("pg_dsn required when store_driver=postgres")
		}
	default:
		return fmt.Errorf("unknown store_driver %q", c.StoreDriver)
	}
	custody := escrow.Identity(c.EscrowAccount).Normalize()
	for account, balance := range c.Accounts {
		if balance < 0 {
			return fmt.Errorf("account %s has negative seed balance", account)
		}
		// held funds must equal live deposits, so custody starts empty
		if balance != 0 && escrow.Identity(account).Normalize() == custody {
			return fmt.Errorf("escrow account %s cannot be seeded", account)
		}
	}
	_, err := c.EscrowPolicy()
	return err
}

// EscrowPolicy converts the policy section into the ledger's Policy.
func (c Config) EscrowPolicy() (escrow.Policy, error) {
	p := escrow.Policy{OwnerMayDispute: c.Policy.OwnerMayDispute}
	for _, raw := range c.Policy.RefundStates {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		s, err := escrow.ParseTaskState(raw)
		if err != nil {
			return escrow.Policy{}, fmt.Errorf("policy.refund_states: %w", err)
		}
		p.RefundStates = append(p.RefundStates, s)
	}
	if len(p.RefundStates) == 0 {
		p.RefundStates = escrow.NonTerminalStates()
	}
	if err := p.Validate(); err != nil {
		return escrow.Policy{}, fmt.Errorf("policy: %w", err)
	}
	return p, nil
}

// LedgerConfig returns the identities and policy for escrow.NewLedger.
func (c Config) LedgerConfig() (escrow.Config, error) {
	p, err := c.EscrowPolicy()
	if err != nil {
		return escrow.Config{}, err
	}
	return escrow.Config{
		Arbiter:       escrow.Identity(c.Arbiter),
		EscrowAccount: escrow.Identity(c.EscrowAccount),
		Policy:        p,
	}, nil
}

// SeedBalances returns the configured account balances.
func (c Config) SeedBalances() map[escrow.Identity]escrow.Amount {
	out := make(map[escrow.Identity]escrow.Amount, len(c.Accounts))
	for account, balance := range c.Accounts {
		out[escrow.Identity(account).Normalize()] = escrow.Amount(balance)
	}
	return out
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parsePairs parses "k1=v1,k2=v2".
func parsePairs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("malformed pair %q", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
