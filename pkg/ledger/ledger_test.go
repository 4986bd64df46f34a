package ledger_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/overunder/pkg/ledger"
	"github.com/uhyunpark/overunder/pkg/storage"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(storage.NewMemStore(), nil)
}

func balance(t *testing.T, l *ledger.Ledger, addr common.Address) string {
	t.Helper()
	b, err := l.Balance("USDC", addr)
	require.NoError(t, err)
	return b.String()
}

func TestLedger_MintAndTransfer(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint("USDC", alice, big.NewInt(1000)))
	assert.Equal(t, "1000", balance(t, l, alice))
	assert.Equal(t, "0", balance(t, l, bob))

	require.NoError(t, l.Transfer(context.Background(), "USDC", alice, bob, big.NewInt(300)))
	assert.Equal(t, "700", balance(t, l, alice))
	assert.Equal(t, "300", balance(t, l, bob))
}

func TestLedger_TransferRejections(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint("USDC", alice, big.NewInt(100)))
	ctx := context.Background()

	tests := []struct {
		name   string
		from   common.Address
		to     common.Address
		amount *big.Int
		want   error
	}{
		{"zero", alice, bob, big.NewInt(0), ledger.ErrInvalidAmount},
		{"negative", alice, bob, big.NewInt(-1), ledger.ErrInvalidAmount},
		{"nil", alice, bob, nil, ledger.ErrInvalidAmount},
		{"overdraw", alice, bob, big.NewInt(101), ledger.ErrInsufficientBalance},
		{"unfunded", bob, alice, big.NewInt(1), ledger.ErrInsufficientBalance},
		{"self", alice, alice, big.NewInt(1), ledger.ErrSelfTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Transfer(ctx, "USDC", tt.from, tt.to, tt.amount)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, "100", balance(t, l, alice))
	assert.Equal(t, "0", balance(t, l, bob))
}

func TestLedger_TokensAreSeparate(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint("USDC", alice, big.NewInt(5)))

	dai, err := l.Balance("DAI", alice)
	require.NoError(t, err)
	assert.Equal(t, "0", dai.String())

	err = l.Transfer(context.Background(), "DAI", alice, bob, big.NewInt(1))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestLedger_MintRejectsNonPositive(t *testing.T) {
	l := newLedger(t)
	assert.ErrorIs(t, l.Mint("USDC", alice, big.NewInt(0)), ledger.ErrInvalidAmount)
}

func TestLedger_StageTransferAppliesOnCommit(t *testing.T) {
	st := storage.NewMemStore()
	l := ledger.New(st, nil)
	require.NoError(t, l.Mint("USDC", alice, big.NewInt(100)))
	ctx := context.Background()

	b := st.NewBatch()
	require.NoError(t, l.StageTransfer(ctx, b, "USDC", alice, bob, big.NewInt(40)))
	assert.Equal(t, "100", balance(t, l, alice), "staged balances are invisible before commit")
	assert.Equal(t, "0", balance(t, l, bob))
	require.NoError(t, b.Commit())
	require.NoError(t, b.Close())
	assert.Equal(t, "60", balance(t, l, alice))
	assert.Equal(t, "40", balance(t, l, bob))

	dropped := st.NewBatch()
	require.NoError(t, l.StageTransfer(ctx, dropped, "USDC", alice, bob, big.NewInt(60)))
	require.NoError(t, dropped.Close())
	assert.Equal(t, "60", balance(t, l, alice))
	assert.Equal(t, "40", balance(t, l, bob))

	rejected := st.NewBatch()
	defer rejected.Close()
	err := l.StageTransfer(ctx, rejected, "USDC", bob, alice, big.NewInt(41))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}
