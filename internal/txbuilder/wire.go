package txbuilder

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// mustBase58 decodes a well-known base58 program id into a 32-byte array,
// matching internal/dex's mustBase58 convention: a malformed constant is a
// programming error, not a runtime condition.
func mustBase58(s string) [32]byte {
	b, err := base58.Decode(s)
	if err != nil {
		panic(fmt.Sprintf("txbuilder: invalid base58 address %q: %v", s, err))
	}
	var out [32]byte
	if len(b) != 32 {
		panic(fmt.Sprintf("txbuilder: address %q decodes to %d bytes, want 32", s, len(b)))
	}
	copy(out[:], b)
	return out
}

// compactLen returns the number of bytes a Solana compact-u16 (shortvec)
// encoding of n would take (spec §6's wire format).
func compactLen(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n < 0x4000:
		return 2
	default:
		return 3
	}
}

// serialize estimates the wire size of tx's versioned message (spec §4.9's
// size guard). Keys present in a referenced lookup table are counted as a
// single index byte instead of a full 32-byte key, which is where the
// "~40% smaller" saving in spec §4.9 comes from.
func serialize(tx Transaction) []byte {
	lookupKeys := make(map[[32]byte]struct{})
	for _, tbl := range tx.LookupTables {
		for _, a := range tbl.Addresses {
			lookupKeys[a] = struct{}{}
		}
	}

	staticKeys := make(map[[32]byte]struct{})
	staticKeys[computeBudgetProgramID] = struct{}{}
	lookedUpCount := 0
	for _, ix := range tx.Instructions {
		if _, inTable := lookupKeys[ix.ProgramID]; inTable {
			lookedUpCount++
		} else {
			staticKeys[ix.ProgramID] = struct{}{}
		}
		for _, acc := range ix.Accounts {
			if _, inTable := lookupKeys[acc.Pubkey]; inTable {
				lookedUpCount++
			} else {
				staticKeys[acc.Pubkey] = struct{}{}
			}
		}
	}

	size := 0
	// Signatures: compact array of one 64-byte signature.
	size += compactLen(1) + 64
	// Message header: version byte + 3 header bytes.
	size += 1 + 3
	// Static account keys.
	size += compactLen(len(staticKeys)) + 32*len(staticKeys)
	// Recent blockhash.
	size += 32
	// Instructions.
	size += compactLen(len(tx.Instructions))
	for _, ix := range tx.Instructions {
		size += 1 // program id index
		size += compactLen(len(ix.Accounts)) + len(ix.Accounts)
		size += compactLen(len(ix.Data)) + len(ix.Data)
	}
	// Address table lookups (v0 message extension): one entry per configured
	// table, each counted as the table address plus lookedUpCount writable
	// indexes and an empty readonly index array.
	if len(tx.LookupTables) > 0 {
		size += compactLen(len(tx.LookupTables))
		for range tx.LookupTables {
			size += 32 + compactLen(lookedUpCount) + lookedUpCount + compactLen(0)
		}
	}

	return make([]byte, size)
}
