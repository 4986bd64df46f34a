package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireRoundTrip(t *testing.T) {
	in := HeadWire{Height: 7, Hash: [32]byte{1, 2, 3}, Txs: 4}
	b, err := gobEncode(in)
	require.NoError(t, err)
	var out HeadWire
	require.NoError(t, gobDecode(b, &out))
	assert.Equal(t, in, out)

	assert.Error(t, gobDecode([]byte("junk"), &out))
}

func TestGossip_RelaysBetweenPeers(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewGossip(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewGossip(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0", Bootstrap: a.Addrs()})
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, 1, b.Peers())

	var (
		mu      sync.Mutex
		gotTx   [][]byte
		gotHead []HeadWire
		selfTx  int
	)
	a.SetHandlers(Handlers{OnTx: func(raw []byte) error {
		mu.Lock()
		selfTx++
		mu.Unlock()
		return nil
	}})
	b.SetHandlers(Handlers{
		OnTx: func(raw []byte) error {
			mu.Lock()
			gotTx = append(gotTx, raw)
			mu.Unlock()
			return nil
		},
		OnHead: func(from peer.ID, head HeadWire) {
			assert.Equal(t, a.Host().ID(), from)
			mu.Lock()
			gotHead = append(gotHead, head)
			mu.Unlock()
		},
	})

	// the mesh forms asynchronously, so keep publishing until b sees something
	require.Eventually(t, func() bool {
		_ = a.PublishTx(ctx, []byte(`{"type":"claim"}`))
		_ = a.AnnounceHead(ctx, HeadWire{Height: 3})
		mu.Lock()
		defer mu.Unlock()
		return len(gotTx) > 0 && len(gotHead) > 0
	}, 10*time.Second, 200*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, `{"type":"claim"}`, string(gotTx[0]))
	assert.Equal(t, uint64(3), gotHead[0].Height)
	assert.Zero(t, selfTx, "own messages are not delivered")
}
