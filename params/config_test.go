package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminHex = "0x00000000000000000000000000000000000000Aa"
	aliceHex = "0x00000000000000000000000000000000000000bB"
)

// clearEnv unsets every key Load reads so the host environment can't leak in
func clearEnv(t *testing.T) {
	for _, k := range []string{"ADMIN_ADDRESS", "TOKEN_SYMBOL", "GENESIS_BALANCES", "DATA_DIR", "API_ADDR",
		"LISTEN", "BOOTSTRAP_PEERS", "NODE_MIN_BLOCK_TIME_MS", "CHAIN_ID", "LOG_FILE", "LOG_LEVEL", "API_RATE_LIMIT",
		"ENABLE_TXGEN", "TXGEN_MODE", "TXGEN_ACCOUNTS", "TXGEN_SEED", "TXGEN_FUNDING", "ADMIN_PRIVATE_KEY"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Priority(t *testing.T) {
	clearEnv(t)
	yamlPath := writeFile(t, "node.yaml", `
genesis:
  admin: "`+adminHex+`"
  token: DAI
  balances:
    "`+aliceHex+`": "1000"
node:
  min_block_time: 2s
  chain_id: 7
api:
  addr: ":9999"
`)
	envPath := writeFile(t, ".env", "TOKEN_SYMBOL=USDT\nCHAIN_ID=8\n")
	t.Setenv("CHAIN_ID", "9")

	cfg, err := Load(envPath, yamlPath)
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(adminHex), cfg.AdminAddress()) // yaml
	assert.Equal(t, "USDT", cfg.Genesis.Token)                         // .env over yaml
	assert.Equal(t, int64(9), cfg.Node.ChainID)                        // env over .env
	assert.Equal(t, 2*time.Second, cfg.Node.MinBlockTime)
	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, "./data", cfg.Node.DataDir) // default

	bal, err := cfg.GenesisBalances()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal[common.HexToAddress(aliceHex)].Int64())
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_ADDRESS", adminHex)
	t.Setenv("GENESIS_BALANCES", aliceHex+"=5, "+adminHex+"=7")
	t.Setenv("BOOTSTRAP_PEERS", "/ip4/1.2.3.4/tcp/9000/p2p/a, ,/ip4/5.6.7.8/tcp/9000/p2p/b")
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "500")
	t.Setenv("API_RATE_LIMIT", "2.5")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"), "")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Node.MinBlockTime)
	assert.Equal(t, 2.5, cfg.API.RateLimit)
	assert.Len(t, cfg.P2P.Bootstrap, 2)
	assert.False(t, cfg.TxGen.Enabled)

	bal, err := cfg.GenesisBalances()
	require.NoError(t, err)
	assert.Len(t, bal, 2)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing admin", map[string]string{}},
		{"bad admin", map[string]string{"ADMIN_ADDRESS": "alice"}},
		{"bad block time", map[string]string{"ADMIN_ADDRESS": adminHex, "NODE_MIN_BLOCK_TIME_MS": "fast"}},
		{"zero block time", map[string]string{"ADMIN_ADDRESS": adminHex, "NODE_MIN_BLOCK_TIME_MS": "0"}},
		{"bad balance pair", map[string]string{"ADMIN_ADDRESS": adminHex, "GENESIS_BALANCES": aliceHex}},
		{"negative balance", map[string]string{"ADMIN_ADDRESS": adminHex, "GENESIS_BALANCES": aliceHex + "=-1"}},
		{"txgen without accounts", map[string]string{"ADMIN_ADDRESS": adminHex, "ENABLE_TXGEN": "true", "TXGEN_ACCOUNTS": "0"}},
		{"txgen bad funding", map[string]string{"ADMIN_ADDRESS": adminHex, "ENABLE_TXGEN": "true", "TXGEN_FUNDING": "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"), "")
			assert.Error(t, err)
		})
	}

	clearEnv(t)
	_, err := Load("", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "explicit yaml path must exist")
}
