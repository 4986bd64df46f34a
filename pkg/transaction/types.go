package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/overunder/pkg/crypto"
)

// TxType is the market action carried by a transaction
type TxType string

const (
	TxTypeCreateRound TxType = "create_round" // admin
	TxTypeResolve     TxType = "resolve"      // admin
	TxTypeBet         TxType = "bet"
	TxTypeClaim       TxType = "claim"
	TxTypeRefund      TxType = "refund"
)

// Admin reports whether only the market admin may submit this type
func (t TxType) Admin() bool {
	return t == TxTypeCreateRound || t == TxTypeResolve
}

// SignedTransaction is the JSON envelope submitted to the node and gossiped between peers
type SignedTransaction struct {
	Type      TxType         `json:"type"`
	Action    *ActionPayload `json:"action"`
	Signature string         `json:"signature"` // Hex-encoded (0x...)
}

// ActionPayload carries the EIP-712 Action fields. Big numbers travel as decimal strings.
type ActionPayload struct {
	Account  string `json:"account"`
	RoundID  string `json:"round_id,omitempty"`
	Side     uint8  `json:"side,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Count    string `json:"count,omitempty"` // predicted (create_round) or actual (resolve)
	Deadline string `json:"deadline,omitempty"`
	Finality string `json:"finality,omitempty"`
	Nonce    string `json:"nonce"`
}

func parseBig(field, v string) (*big.Int, error) {
	if v == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, v)
	}
	return n, nil
}

// ToEIP712 converts the payload into the typed struct that was signed
func (tx *SignedTransaction) ToEIP712() (*crypto.ActionEIP712, error) {
	a := tx.Action
	if a == nil {
		return nil, fmt.Errorf("missing action payload")
	}
	if !common.IsHexAddress(a.Account) {
		return nil, fmt.Errorf("invalid account: %q", a.Account)
	}
	out := &crypto.ActionEIP712{
		Kind:    string(tx.Type),
		Account: common.HexToAddress(a.Account),
		Side:    a.Side,
	}
	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"round_id", a.RoundID, &out.RoundID},
		{"amount", a.Amount, &out.Amount},
		{"count", a.Count, &out.Count},
		{"deadline", a.Deadline, &out.Deadline},
		{"finality", a.Finality, &out.Finality},
		{"nonce", a.Nonce, &out.Nonce},
	}
	for _, f := range fields {
		v, err := parseBig(f.name, f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return out, nil
}

// FromEIP712 builds the wire payload for a typed action
func FromEIP712(a *crypto.ActionEIP712) *ActionPayload {
	str := func(v *big.Int) string {
		if v == nil || v.Sign() == 0 {
			return ""
		}
		return v.String()
	}
	nonce := "0"
	if a.Nonce != nil {
		nonce = a.Nonce.String()
	}
	return &ActionPayload{
		Account:  a.Account.Hex(),
		RoundID:  str(a.RoundID),
		Side:     a.Side,
		Amount:   str(a.Amount),
		Count:    str(a.Count),
		Deadline: str(a.Deadline),
		Finality: str(a.Finality),
		Nonce:    nonce,
	}
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs structural checks; amounts and windows are checked by the market
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	if tx.Action == nil {
		return fmt.Errorf("missing action payload")
	}
	if tx.Action.Account == "" {
		return fmt.Errorf("missing account")
	}
	if tx.Action.Nonce == "" {
		return fmt.Errorf("missing nonce")
	}

	switch tx.Type {
	case TxTypeBet:
		if tx.Action.Side > 1 {
			return fmt.Errorf("invalid side: %d", tx.Action.Side)
		}
	case TxTypeCreateRound, TxTypeResolve, TxTypeClaim, TxTypeRefund:
	case "":
		return fmt.Errorf("missing transaction type")
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	return nil
}

// ParseTransaction decodes and structurally validates a raw transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Example:
//   {
//     "type": "bet",
//     "action": {
//       "account": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//       "round_id": "3",
//       "side": 1,
//       "amount": "100",
//       "nonce": "42"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
