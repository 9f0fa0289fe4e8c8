package dex

import (
	"time"

	"github.com/triarb/engine/internal/arbtypes"
)

// Meteora DLMM program id (mainnet), base58 LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo.
var meteoraProgramID = mustBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")

// Field offsets into the Meteora DLMM LbPair account, matching the layout
// other_examples/.../pkg-pool-meteora-dlmm.go.go decodes by hand:
// discriminator(8) + parameters(32) + vParameters(32) + 11 scalar fields(11)
// = 83 bytes before the base-factor-seed block, bumped to 88 after it.
const (
	meteoraMinLen        = 216 + 16 // through reserveY, plus protocolFee
	meteoraBinStepOffset = 80       // u16, LE
	meteoraTokenXOffset  = 88
	meteoraTokenYOffset  = 120
	meteoraReserveXOffset = 152 // vault, not a balance
	meteoraReserveYOffset = 184
)

type meteoraDecoder struct{}

func (meteoraDecoder) Family() arbtypes.DexFamily { return arbtypes.DexMeteoraDLMM }
func (meteoraDecoder) MinLen() int                { return meteoraMinLen }

// Decode maps Meteora's "bin step" fee parameter to a flat basis-point fee.
// This is a known-imprecise approximation (spec §9 Open Question: Meteora
// is a concentrated-liquidity DEX with no single fee rate); bin step is a
// basis-point figure, and it is used directly as the pool's FeeBps (capped
// at 10000).
func (meteoraDecoder) Decode(owner, address [32]byte, data []byte, now time.Time) (arbtypes.Pool, error) {
	binStep := readU16(data, meteoraBinStepOffset)
	feeBps := binStep
	if feeBps > 10000 {
		feeBps = 10000
	}

	return arbtypes.Pool{
		Address:     address,
		Owner:       owner,
		Family:      arbtypes.DexMeteoraDLMM,
		TokenA:      arbtypes.Token(readPubkey(data, meteoraTokenXOffset)),
		TokenB:      arbtypes.Token(readPubkey(data, meteoraTokenYOffset)),
		VaultA:      readPubkey(data, meteoraReserveXOffset),
		VaultB:      readPubkey(data, meteoraReserveYOffset),
		ReserveA:    0,
		ReserveB:    0,
		FeeBps:      feeBps,
		LastUpdated: now,
	}, nil
}

type meteoraEncoder struct{}

func (meteoraEncoder) Family() arbtypes.DexFamily { return arbtypes.DexMeteoraDLMM }

// EncodeSwap builds Meteora DLMM's swap instruction: an 8-byte Anchor
// discriminator followed by little-endian amountIn and minOut (spec §6).
var meteoraSwapDiscriminator = [8]byte{0xf8, 0xc6, 0x9e, 0x91, 0xe1, 0x75, 0x87, 0xc8}

func (meteoraEncoder) EncodeSwap(inAmount, minOut uint64, _ SwapExtra) []byte {
	buf := make([]byte, 8+8+8)
	copy(buf[0:8], meteoraSwapDiscriminator[:])
	putU64(buf[8:16], inAmount)
	putU64(buf[16:24], minOut)
	return buf
}

func init() {
	Register(meteoraProgramID, meteoraDecoder{}, meteoraEncoder{})
}
