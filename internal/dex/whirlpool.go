package dex

import (
	"time"

	"github.com/triarb/engine/internal/arbtypes"
)

// Orca Whirlpool program id (mainnet), base58 whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc.
var whirlpoolProgramID = mustBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")

// Field offsets into the Whirlpool account, per Orca's published layout.
const (
	whirlpoolMinLen        = 653
	whirlpoolFeeRateOffset = 45 // u16, hundredths of a bip: fee = feeRate/1e6
	whirlpoolTokenAOffset  = 101
	whirlpoolVaultAOffset  = 133
	whirlpoolTokenBOffset  = 181
	whirlpoolVaultBOffset  = 213
)

type whirlpoolDecoder struct{}

func (whirlpoolDecoder) Family() arbtypes.DexFamily { return arbtypes.DexWhirlpool }
func (whirlpoolDecoder) MinLen() int                { return whirlpoolMinLen }

// Decode reads the Whirlpool account. Per spec §9's Open Question,
// concentrated-liquidity pools have no single "reserve" — the original
// Rust prototype projected two u64s out of the liquidity field as a
// placeholder. We instead rely on the standard two-phase vault enrichment
// like every other family (spec §4.3's vault balance is authoritative);
// this is simpler but carries the same known imprecision noted in the
// Open Question: a vault's full SPL balance includes liquidity parked
// outside the pool's current tick range, so it can overstate tradeable
// depth at the active price.
func (whirlpoolDecoder) Decode(owner, address [32]byte, data []byte, now time.Time) (arbtypes.Pool, error) {
	feeRate := readU16(data, whirlpoolFeeRateOffset)
	feeBps := feeRate / 100 // hundredths-of-a-bip -> bps, spec §4.2

	return arbtypes.Pool{
		Address:     address,
		Owner:       owner,
		Family:      arbtypes.DexWhirlpool,
		TokenA:      arbtypes.Token(readPubkey(data, whirlpoolTokenAOffset)),
		TokenB:      arbtypes.Token(readPubkey(data, whirlpoolTokenBOffset)),
		VaultA:      readPubkey(data, whirlpoolVaultAOffset),
		VaultB:      readPubkey(data, whirlpoolVaultBOffset),
		ReserveA:    0,
		ReserveB:    0,
		FeeBps:      feeBps,
		LastUpdated: now,
	}, nil
}

type whirlpoolEncoder struct{}

func (whirlpoolEncoder) Family() arbtypes.DexFamily { return arbtypes.DexWhirlpool }

// EncodeSwap builds Whirlpool's swap instruction: 8-byte Anchor
// discriminator, amountIn, minOut, then the sqrt-price limit and
// direction flag tail (spec §6 "optional family-specific tail").
var whirlpoolSwapDiscriminator = [8]byte{0xf8, 0xc6, 0x9e, 0x91, 0xe1, 0x75, 0x87, 0xc7}

func (whirlpoolEncoder) EncodeSwap(inAmount, minOut uint64, extra SwapExtra) []byte {
	buf := make([]byte, 8+8+8+16+1)
	copy(buf[0:8], whirlpoolSwapDiscriminator[:])
	putU64(buf[8:16], inAmount)
	putU64(buf[16:24], minOut)
	copy(buf[24:40], extra.SqrtPriceLimitX64[:])
	if extra.AToB {
		buf[40] = 1
	}
	return buf
}

func init() {
	Register(whirlpoolProgramID, whirlpoolDecoder{}, whirlpoolEncoder{})
}
