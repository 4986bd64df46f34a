package params

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Genesis struct {
	Admin string `yaml:"admin"`
	Token string `yaml:"token"`
	// Balances maps hex address to a decimal amount in token minor units
	Balances map[string]string `yaml:"balances"`
}

type Node struct {
	DataDir string `yaml:"data_dir"`
	ChainID int64  `yaml:"chain_id"`
	// MinBlockTime is the block interval; every block is one market tick.
	//
	// Recommended values:
	//   - Devnet:     200ms (fast rounds for manual testing)
	//   - Production: 1s or more (deadlines are expressed in blocks)
	MinBlockTime time.Duration `yaml:"min_block_time"`
	LogFile      string        `yaml:"log_file"`
	LogLevel     string        `yaml:"log_level"`
}

type API struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"` // tx submissions per second; 0 disables
}

type P2P struct {
	Listen    string   `yaml:"listen"`
	Bootstrap []string `yaml:"bootstrap"`
}

// TxGen configures the devnet transaction generator
type TxGen struct {
	Enabled  bool   `yaml:"enabled"`
	Mode     string `yaml:"mode"` // "default" or "high"
	Accounts int    `yaml:"accounts"`
	Seed     string `yaml:"seed"`
	Funding  string `yaml:"funding"` // genesis balance per generated account
	// AdminKey lets the generator open and resolve rounds. Never commit this.
	AdminKey string `yaml:"-"`
}

type Config struct {
	Genesis Genesis `yaml:"genesis"`
	Node    Node    `yaml:"node"`
	API     API     `yaml:"api"`
	P2P     P2P     `yaml:"p2p"`
	TxGen   TxGen   `yaml:"txgen"`
}

func Default() Config {
	return Config{
		Genesis: Genesis{Token: "USDC"},
		Node: Node{
			DataDir:      "./data",
			ChainID:      1337,
			MinBlockTime: 200 * time.Millisecond, // Devnet default
			LogLevel:     "info",
		},
		API: API{
			Addr:      ":8080",
			RateLimit: 50,
		},
		P2P: P2P{
			Listen: "/ip4/0.0.0.0/tcp/9000",
		},
		TxGen: TxGen{
			Mode:     "default",
			Accounts: 20,
			Seed:     "overunder-devnet",
			Funding:  "100000",
		},
	}
}

// Load builds the configuration.
// Priority: ENV > .env file > YAML file > defaults
func Load(envPath, yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Try to load .env file (optional - won't fail if not exists).
	// godotenv never overrides variables already set in the environment.
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	setString("ADMIN_ADDRESS", &cfg.Genesis.Admin)
	setString("TOKEN_SYMBOL", &cfg.Genesis.Token)
	setString("DATA_DIR", &cfg.Node.DataDir)
	setString("API_ADDR", &cfg.API.Addr)
	setString("LISTEN", &cfg.P2P.Listen)
	setString("LOG_FILE", &cfg.Node.LogFile)
	setString("LOG_LEVEL", &cfg.Node.LogLevel)
	setString("TXGEN_MODE", &cfg.TxGen.Mode)
	setString("TXGEN_SEED", &cfg.TxGen.Seed)
	setString("TXGEN_FUNDING", &cfg.TxGen.Funding)
	setString("ADMIN_PRIVATE_KEY", &cfg.TxGen.AdminKey)

	if v := os.Getenv("ENABLE_TXGEN"); v != "" {
		cfg.TxGen.Enabled = v == "true"
	}
	if v := os.Getenv("TXGEN_ACCOUNTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TXGEN_ACCOUNTS: %w", err)
		}
		cfg.TxGen.Accounts = n
	}

	if v := os.Getenv("GENESIS_BALANCES"); v != "" {
		// Example: "0xabc...=1000,0xdef...=500"
		cfg.Genesis.Balances = map[string]string{}
		for _, pair := range strings.Split(v, ",") {
			addr, amount, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return fmt.Errorf("GENESIS_BALANCES: expected addr=amount, got %q", pair)
			}
			cfg.Genesis.Balances[strings.TrimSpace(addr)] = strings.TrimSpace(amount)
		}
	}

	if v := os.Getenv("BOOTSTRAP_PEERS"); v != "" {
		cfg.P2P.Bootstrap = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.P2P.Bootstrap = append(cfg.P2P.Bootstrap, p)
			}
		}
	}

	if v := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NODE_MIN_BLOCK_TIME_MS: %w", err)
		}
		cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.Node.ChainID = id
	}

	if v := os.Getenv("API_RATE_LIMIT"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("API_RATE_LIMIT: %w", err)
		}
		cfg.API.RateLimit = r
	}
	return nil
}

// Validate checks the fields the node cannot start without
func (c Config) Validate() error {
	if !common.IsHexAddress(c.Genesis.Admin) {
		return fmt.Errorf("ADMIN_ADDRESS must be a hex address, got %q", c.Genesis.Admin)
	}
	if c.Genesis.Token == "" {
		return errors.New("TOKEN_SYMBOL must not be empty")
	}
	if c.Node.MinBlockTime <= 0 {
		return errors.New("min block time must be positive")
	}
	if _, err := c.GenesisBalances(); err != nil {
		return err
	}
	if c.TxGen.Enabled {
		if c.TxGen.Accounts <= 0 {
			return errors.New("TXGEN_ACCOUNTS must be positive")
		}
		if n, ok := new(big.Int).SetString(c.TxGen.Funding, 10); !ok || n.Sign() < 0 {
			return fmt.Errorf("TXGEN_FUNDING: invalid amount %q", c.TxGen.Funding)
		}
	}
	return nil
}

// AdminAddress returns the configured market admin
func (c Config) AdminAddress() common.Address {
	return common.HexToAddress(c.Genesis.Admin)
}

// GenesisBalances parses the genesis allocation
func (c Config) GenesisBalances() (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(c.Genesis.Balances))
	for addr, amount := range c.Genesis.Balances {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("genesis balance: invalid address %q", addr)
		}
		n, ok := new(big.Int).SetString(amount, 10)
		if !ok || n.Sign() <= 0 {
			return nil, fmt.Errorf("genesis balance: invalid amount %q for %s", amount, addr)
		}
		out[common.HexToAddress(addr)] = n
	}
	return out, nil
}

// setString overrides dst when key is set
func setString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}
