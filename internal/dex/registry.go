// Package dex implements the per-DEX-family binary decoders and swap
// instruction encoders described in spec §4.2 and §6. Families are
// dispatched on owning-program identifier via a small registry, not a type
// switch, so adding a family is a one-file change (design note, spec §9).
package dex

import (
	"encoding/binary"
	"time"

	"github.com/triarb/engine/internal/arbtypes"
)

// Decoder turns a raw account payload into a Pool. Implementations must
// reject short buffers with a ParseError carrying their minimum length, and
// must leave reserves at zero unless the family has no external vault to
// enrich against (see pump.go).
type Decoder interface {
	Family() arbtypes.DexFamily
	MinLen() int
	Decode(owner, address [32]byte, data []byte, now time.Time) (arbtypes.Pool, error)
}

// InstructionEncoder builds the family-specific portion of a swap
// instruction (spec §6): a leading discriminator, the input amount, the
// minimum output floor, and an optional tail.
type InstructionEncoder interface {
	Family() arbtypes.DexFamily
	EncodeSwap(inAmount, minOut uint64, extra SwapExtra) []byte
}

// SwapExtra carries family-specific tail parameters (e.g. Whirlpool's
// sqrt-price limit, a directional flag for two-sided pools).
type SwapExtra struct {
	SqrtPriceLimitX64 [16]byte // Whirlpool only
	AToB              bool
}

var (
	decoders   = map[[32]byte]Decoder{}
	encoders   = map[arbtypes.DexFamily]InstructionEncoder{}
	programIDs = map[arbtypes.DexFamily][32]byte{}
)

// Register associates a program id with its decoder. Called from each
// family file's init().
func Register(programID [32]byte, d Decoder, enc InstructionEncoder) {
	decoders[programID] = d
	encoders[d.Family()] = enc
	programIDs[d.Family()] = programID
}

// ProgramIDFor returns the owning program id registered for family, for
// callers (the Transaction Builder) that need to address an instruction
// to the right on-chain program rather than just encode its data.
func ProgramIDFor(family arbtypes.DexFamily) ([32]byte, bool) {
	id, ok := programIDs[family]
	return id, ok
}

// Lookup returns the decoder registered for an owning program id, or
// (nil, false) if the owner is not a known DEX family (spec §4.2: unknown
// owner -> ParseError{kind: UnknownDex}, caller skips the pool).
func Lookup(owner [32]byte) (Decoder, bool) {
	d, ok := decoders[owner]
	return d, ok
}

// Encoder returns the instruction encoder registered for a family.
func Encoder(family arbtypes.DexFamily) (InstructionEncoder, bool) {
	e, ok := encoders[family]
	return e, ok
}

// Decode dispatches to the family registered for data's owning program,
// returning ParseError{UnknownDex} if none is registered.
func Decode(owner, address [32]byte, data []byte, now time.Time) (arbtypes.Pool, error) {
	d, ok := Lookup(owner)
	if !ok {
		return arbtypes.Pool{}, &arbtypes.ParseError{Kind: arbtypes.ParseUnknownDex, Owner: owner}
	}
	if len(data) < d.MinLen() {
		return arbtypes.Pool{}, &arbtypes.ParseError{
			Kind:           arbtypes.ParseShortBuffer,
			Family:         d.Family(),
			ExpectedMinLen: d.MinLen(),
			ActualLen:      len(data),
		}
	}
	return d.Decode(owner, address, data, now)
}

func readPubkey(data []byte, offset int) [32]byte {
	var out [32]byte
	copy(out[:], data[offset:offset+32])
	return out
}

func readU64(data []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(data[offset : offset+8])
}

func readU32(data []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(data[offset : offset+4])
}

func readU16(data []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(data[offset : offset+2])
}
