package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/uhyunpark/overunder/pkg/crypto"
	"github.com/uhyunpark/overunder/pkg/market"
	"github.com/uhyunpark/overunder/pkg/transaction"
)

func main() {
	var (
		keyHex   = flag.String("key", os.Getenv("PRIVATE_KEY"), "hex private key (default: generate a new one)")
		chainID  = flag.Int64("chain-id", 1337, "chain id of the EIP-712 domain")
		txType   = flag.String("type", "bet", "create_round | resolve | bet | claim | refund")
		roundID  = flag.Uint64("round", 0, "round id")
		side     = flag.String("side", "higher", "higher | lower (bet)")
		amount   = flag.String("amount", "0", "stake amount in token minor units (bet)")
		count    = flag.Uint64("count", 0, "predicted count (create_round) or actual count (resolve)")
		deadline = flag.Uint64("deadline", 0, "last betting tick (create_round)")
		finality = flag.Uint64("finality", 0, "first resolvable tick (create_round)")
		nonce    = flag.Uint64("nonce", 1, "account nonce, strictly increasing")
		verify   = flag.Bool("verify", true, "verify the signature before printing")
	)
	flag.Parse()

	if err := run(*keyHex, *chainID, transaction.TxType(*txType), *roundID, *side, *amount, *count, *deadline, *finality, *nonce, *verify); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(keyHex string, chainID int64, txType transaction.TxType, roundID uint64, sideStr, amountStr string,
	count, deadline, finality, nonce uint64, verify bool) error {
	// Step 1: Generate or load key
	var (
		signer *crypto.Signer
		err    error
	)
	if keyHex == "" {
		signer, err = crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Generated key\n  Address: %s\n  Private Key: %s (KEEP SECRET!)\n\n",
			signer.Address().Hex(), signer.PrivateKeyHex())
	} else {
		signer, err = crypto.FromPrivateKeyHex(keyHex)
		if err != nil {
			return err
		}
	}

	// Step 2: Build action
	action := &crypto.ActionEIP712{
		Account: signer.Address(),
		RoundID: new(big.Int).SetUint64(roundID),
		Nonce:   new(big.Int).SetUint64(nonce),
	}
	switch txType {
	case transaction.TxTypeCreateRound:
		action.Count = new(big.Int).SetUint64(count)
		action.Deadline = new(big.Int).SetUint64(deadline)
		action.Finality = new(big.Int).SetUint64(finality)
	case transaction.TxTypeResolve:
		action.Count = new(big.Int).SetUint64(count)
	case transaction.TxTypeBet:
		s, err := market.ParseSide(sideStr)
		if err != nil {
			return err
		}
		amt, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return fmt.Errorf("invalid amount: %q", amountStr)
		}
		action.Side = uint8(s)
		action.Amount = amt
	case transaction.TxTypeClaim, transaction.TxTypeRefund:
	default:
		return fmt.Errorf("unknown transaction type: %s", txType)
	}

	// Step 3: Sign with EIP-712
	domain := crypto.DefaultDomain(chainID)
	tx, err := transaction.Sign(signer, domain, txType, action)
	if err != nil {
		return fmt.Errorf("signing: %w", err)
	}

	// Step 4: Verify signature
	if verify {
		if _, err := transaction.NewVerifier(domain).Verify(tx); err != nil {
			return fmt.Errorf("verifying: %w", err)
		}
	}

	// Step 5: Print the body for POST /api/v1/tx
	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
