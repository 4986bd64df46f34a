package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
)

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

func encodeUint64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid uint64 length: %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func encodeBig(v *big.Int) []byte {
	return []byte(v.String())
}

func decodeBig(b []byte) (*big.Int, error) {
	v, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", b)
	}
	return v, nil
}
