package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// mustBase58 decodes a base58 program/mint address into a 32-byte array.
// Called only from package-level var initializers for well-known mainnet
// program ids, mirroring original_source's
// Pubkey::from_str(...).expect("Invalid pubkey") pattern: a malformed
// constant is a programming error, not a runtime condition.
func mustBase58(s string) [32]byte {
	b, err := base58.Decode(s)
	if err != nil {
		panic(fmt.Sprintf("dex: invalid base58 address %q: %v", s, err))
	}
	var out [32]byte
	if len(b) != 32 {
		panic(fmt.Sprintf("dex: address %q decodes to %d bytes, want 32", s, len(b)))
	}
	copy(out[:], b)
	return out
}

func putU64(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}
