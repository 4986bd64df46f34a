package mempool

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected Class
	}{
		{"create round", `{"type":"create_round","action":{},"signature":"0x1"}`, ClassAdmin},
		{"resolve", `{"type":"resolve","action":{},"signature":"0x1"}`, ClassAdmin},
		{"claim", `{"type":"claim","action":{},"signature":"0x1"}`, ClassSettlement},
		{"refund", `{"type":"refund","action":{},"signature":"0x1"}`, ClassSettlement},
		{"bet", `{"type":"bet","action":{},"signature":"0x1"}`, ClassBet},
		{"invalid JSON", `{"invalid": "json"`, ClassBet},
		{"non-JSON", "UNKNOWN:foo", ClassBet},
		{"empty", "", ClassBet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRaw([]byte(tt.tx)); got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool()

	bet1 := `{"type":"bet","action":{"round_id":"1"},"signature":"0x1111"}`
	bet2 := `{"type":"bet","action":{"round_id":"2"},"signature":"0x2222"}`
	claim := `{"type":"claim","action":{"round_id":"1"},"signature":"0x3333"}`
	resolve := `{"type":"resolve","action":{"round_id":"1"},"signature":"0x4444"}`
	create := `{"type":"create_round","action":{},"signature":"0x5555"}`

	for _, tx := range []string{bet1, claim, bet2, resolve, create} {
		m.PushRaw([]byte(tx))
	}

	txs := m.SelectForProposal(10000)
	expectOrder := []string{resolve, create, claim, bet1, bet2}
	if len(txs) != len(expectOrder) {
		t.Fatalf("expected %d txs, got %d", len(expectOrder), len(txs))
	}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
	if m.Len() != 0 {
		t.Errorf("expected empty mempool, got %d", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool()
	m.PushRaw([]byte("B:1"))
	m.PushRaw([]byte("B:2"))
	m.PushRaw([]byte("B:3"))

	txs := m.SelectForProposal(6)
	if len(txs) != 2 {
		t.Errorf("expected 2 txs with maxBytes=6, got %d", len(txs))
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 tx remaining, got %d", m.Len())
	}
}

func TestMempool_MaxBytesKeepsBucketOrder(t *testing.T) {
	m := NewMempool()
	big := `{"type":"resolve","action":{},"signature":"0xffffffffffffffffffff"}`
	small := `{"type":"bet"}`
	m.PushRaw([]byte(small))
	m.PushRaw([]byte(big))

	// the resolve doesn't fit, and the bet must not jump ahead of it
	if txs := m.SelectForProposal(int64(len(small))); len(txs) != 0 {
		t.Errorf("expected nothing selected, got %d", len(txs))
	}
}

func TestMempool_Dedup(t *testing.T) {
	m := NewMempool()
	tx := []byte(`{"type":"bet","signature":"0x1"}`)
	if !m.PushRaw(tx) {
		t.Fatal("first push should be accepted")
	}
	if m.PushRaw(tx) {
		t.Error("duplicate push should be rejected")
	}
	m.SelectForProposal(0)
	if !m.PushRaw(tx) {
		t.Error("tx should be accepted again once drained")
	}
}

func TestMempool_KeepsAccountNonceOrder(t *testing.T) {
	m := NewMempool()

	bet := `{"type":"bet","action":{"account":"0xAA","round_id":"1","nonce":"2"},"signature":"0x1"}`
	claim := `{"type":"claim","action":{"account":"0xaa","round_id":"0","nonce":"3"},"signature":"0x2"}`
	otherClaim := `{"type":"claim","action":{"account":"0xbb","round_id":"0","nonce":"7"},"signature":"0x3"}`
	resolve := `{"type":"resolve","action":{"account":"0xcc","round_id":"0","nonce":"1"},"signature":"0x4"}`
	for _, tx := range []string{bet, claim, otherClaim, resolve} {
		m.PushRaw([]byte(tx))
	}

	// the account's bet takes its claim's settlement slot; other accounts keep bucket order
	txs := m.SelectForProposal(0)
	expectOrder := []string{resolve, bet, otherClaim, claim}
	if len(txs) != len(expectOrder) {
		t.Fatalf("expected %d txs, got %d", len(expectOrder), len(txs))
	}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
}

func TestMempool_MaxBytesNeverSplitsNonceOrder(t *testing.T) {
	m := NewMempool()

	bet := `{"type":"bet","action":{"account":"0xaa","nonce":"1"},"signature":"0x1"}`
	claim := `{"type":"claim","action":{"account":"0xaa","nonce":"2"},"signature":"0x2"}`
	m.PushRaw([]byte(claim))
	m.PushRaw([]byte(bet))

	// room for one tx only: it must be the lower nonce
	txs := m.SelectForProposal(int64(len(bet)))
	if len(txs) != 1 || string(txs[0]) != bet {
		t.Fatalf("expected only the nonce 1 bet, got %q", txs)
	}
	if !m.Contains([32]byte(crypto.Keccak256([]byte(claim)))) {
		t.Error("claim should still be pending")
	}
	if txs := m.SelectForProposal(0); len(txs) != 1 || string(txs[0]) != claim {
		t.Errorf("expected the claim next, got %q", txs)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty mempool, got %d", m.Len())
	}
}
