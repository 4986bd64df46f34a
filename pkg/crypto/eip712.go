package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains
type EIP712Domain struct {
	Name              string         // Protocol name ("OverUnder")
	Version           string         // Protocol version ("1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Zero for off-chain signing
}

// ActionEIP712 is the single typed-data struct users sign for every market action.
// Fields that don't apply to a kind are left zero.
type ActionEIP712 struct {
	Kind     string         // create_round | bet | resolve | claim | refund
	Account  common.Address // Acting account (admin for create_round/resolve)
	RoundID  *big.Int
	Side     uint8    // 0 = lower, 1 = higher
	Amount   *big.Int // Bet amount in token minor units
	Count    *big.Int // Predicted count (create_round) or actual count (resolve)
	Deadline *big.Int // Last betting tick (create_round)
	Finality *big.Int // First resolve tick (create_round)
	Nonce    *big.Int // Strictly increasing per account
}

var actionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Action": []apitypes.Type{
		{Name: "kind", Type: "string"},
		{Name: "account", Type: "address"},
		{Name: "roundId", Type: "uint256"},
		{Name: "side", Type: "uint8"},
		{Name: "amount", Type: "uint256"},
		{Name: "count", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "finality", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
}

// EIP712Signer handles EIP-712 typed data hashing, signing and recovery for actions
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the EIP-712 domain for chainID
func DefaultDomain(chainID int64) EIP712Domain {
	return EIP712Domain{
		Name:    "OverUnder",
		Version: "1",
		ChainID: big.NewInt(chainID),
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (e *EIP712Signer) typedData(a *ActionEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       actionTypes,
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":     a.Kind,
			"account":  a.Account.Hex(),
			"roundId":  bigOrZero(a.RoundID).String(),
			"side":     fmt.Sprintf("%d", a.Side),
			"amount":   bigOrZero(a.Amount).String(),
			"count":    bigOrZero(a.Count).String(),
			"deadline": bigOrZero(a.Deadline).String(),
			"finality": bigOrZero(a.Finality).String(),
			"nonce":    bigOrZero(a.Nonce).String(),
		},
	}
}

// HashAction hashes an action according to EIP-712
// Returns the digest that should be signed
func (e *EIP712Signer) HashAction(a *ActionEIP712) ([]byte, error) {
	typedData := e.typedData(a)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignAction signs an action and returns the 65-byte signature
func (e *EIP712Signer) SignAction(signer *Signer, a *ActionEIP712) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign action: %w", err)
	}
	return sig, nil
}

// RecoverActionSigner recovers the address that signed an action
func (e *EIP712Signer) RecoverActionSigner(a *ActionEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash action: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// VerifyActionSignature reports whether signature was made by a.Account
func (e *EIP712Signer) VerifyActionSignature(a *ActionEIP712, signature []byte) (bool, error) {
	addr, err := e.RecoverActionSigner(a, signature)
	if err != nil {
		return false, err
	}
	return addr == a.Account, nil
}

// ActionToJSON renders the typed data for eth_signTypedData_v4 wallets
func (e *EIP712Signer) ActionToJSON(a *ActionEIP712) (string, error) {
	out, err := json.MarshalIndent(e.typedData(a), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}
