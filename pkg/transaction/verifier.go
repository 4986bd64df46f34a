package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/overunder/pkg/crypto"
)

var ErrSignerMismatch = errors.New("signer does not match action account")

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify recovers the signer and checks it is the account named in the action.
// Returns the typed action so the caller doesn't have to convert it again.
func (v *Verifier) Verify(tx *SignedTransaction) (*crypto.ActionEIP712, error) {
	action, err := tx.ToEIP712()
	if err != nil {
		return nil, fmt.Errorf("invalid action format: %w", err)
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	signer, err := v.eip712Signer.RecoverActionSigner(action, sig)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}
	if signer != action.Account {
		return nil, fmt.Errorf("%w: signer=%s account=%s", ErrSignerMismatch, signer.Hex(), action.Account.Hex())
	}
	return action, nil
}

// RecoverSigner returns the address that signed tx without checking it against the account
func (v *Verifier) RecoverSigner(tx *SignedTransaction) (common.Address, error) {
	action, err := tx.ToEIP712()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}
	return v.eip712Signer.RecoverActionSigner(action, sig)
}

// Sign builds a signed transaction for action (used by tooling and tests)
func Sign(signer *crypto.Signer, domain crypto.EIP712Domain, txType TxType, action *crypto.ActionEIP712) (*SignedTransaction, error) {
	action.Kind = string(txType)
	sig, err := crypto.NewEIP712Signer(domain).SignAction(signer, action)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Type:      txType,
		Action:    FromEIP712(action),
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}
