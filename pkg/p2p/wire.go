package p2p

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(TxWire{})
	gob.Register(HeadWire{})
}

// TxWire carries one signed transaction exactly as submitted
type TxWire struct {
	Raw []byte // JSON-encoded transaction.SignedTransaction
}

// HeadWire announces the producer's committed head
type HeadWire struct {
	Height uint64
	Hash   [32]byte
	Txs    int
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
