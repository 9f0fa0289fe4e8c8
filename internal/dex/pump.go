package dex

import (
	"time"

	"github.com/triarb/engine/internal/arbtypes"
)

// Pump.fun bonding-curve program id (mainnet), base58
// 6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P.
var pumpProgramID = mustBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

// Field offsets into the Pump.fun BondingCurve account.
const (
	pumpMinLen                 = 49
	pumpVirtualTokenResOffset  = 8
	pumpVirtualSolResOffset    = 16
	pumpRealTokenReservesOff   = 24
	pumpRealSolReservesOffset  = 32
)

// pumpQuoteMint is the quote side every bonding curve trades against
// (wrapped SOL); bonding curves have no explicit quote-mint field.
var pumpQuoteMint = mustBase58("So11111111111111111111111111111111111111112")

type pumpDecoder struct{}

func (pumpDecoder) Family() arbtypes.DexFamily { return arbtypes.DexPump }
func (pumpDecoder) MinLen() int                { return pumpMinLen }

// Decode reads a Pump.fun bonding-curve account. Unlike the other three
// families, a bonding curve has no separate SPL vault token account to
// enrich against: the "real" reserves are counters embedded directly in
// this same account, and they are already the authoritative source (there
// is no duplicate/cached copy for the enricher to distrust). We therefore
// populate reserves immediately and leave VaultA/VaultB zero; Pool.Tradeable
// only requires non-zero reserves, not known vaults, so this pool still
// contributes edges without ever touching the Vault Enricher.
func (pumpDecoder) Decode(owner, address [32]byte, data []byte, now time.Time) (arbtypes.Pool, error) {
	return arbtypes.Pool{
		Address:     address,
		Owner:       owner,
		Family:      arbtypes.DexPump,
		TokenA:      arbtypes.Token(address), // the curve account doubles as the mint's pool key
		TokenB:      arbtypes.Token(pumpQuoteMint),
		ReserveA:    readU64(data, pumpRealTokenReservesOff),
		ReserveB:    readU64(data, pumpRealSolReservesOffset),
		FeeBps:      100, // Pump.fun's flat 1% protocol fee
		LastUpdated: now,
	}, nil
}

type pumpEncoder struct{}

func (pumpEncoder) Family() arbtypes.DexFamily { return arbtypes.DexPump }

// EncodeSwap builds Pump.fun's buy/sell instruction: 8-byte Anchor
// discriminator, amountIn, minOut (spec §6).
var pumpSwapDiscriminator = [8]byte{0x66, 0x06, 0x3d, 0x12, 0x01, 0xda, 0xeb, 0xea}

func (pumpEncoder) EncodeSwap(inAmount, minOut uint64, _ SwapExtra) []byte {
	buf := make([]byte, 8+8+8)
	copy(buf[0:8], pumpSwapDiscriminator[:])
	putU64(buf[8:16], inAmount)
	putU64(buf[16:24], minOut)
	return buf
}

func init() {
	Register(pumpProgramID, pumpDecoder{}, pumpEncoder{})
}
