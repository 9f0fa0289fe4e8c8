package dex

import (
	"time"

	"github.com/triarb/engine/internal/arbtypes"
)

// Raydium AMM v4 program id (mainnet), base58 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8.
var raydiumProgramID = mustBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")

// Field offsets into the Raydium AMM v4 liquidity-state account, per
// original_source/src/chain/token_fetch.rs's layout comment, marked there
// as "VERIFIED with actual mainnet data".
const (
	raydiumMinLen             = 752
	raydiumSwapFeeNumOffset   = 144
	raydiumSwapFeeDenomOffset = 152
	raydiumCoinVaultOffset    = 336 // poolCoinTokenAccount
	raydiumPcVaultOffset      = 368 // poolPcTokenAccount
	raydiumCoinMintOffset     = 400
	raydiumPcMintOffset       = 432
)

type raydiumDecoder struct{}

func (raydiumDecoder) Family() arbtypes.DexFamily { return arbtypes.DexRaydium }
func (raydiumDecoder) MinLen() int                { return raydiumMinLen }

func (raydiumDecoder) Decode(owner, address [32]byte, data []byte, now time.Time) (arbtypes.Pool, error) {
	feeNum := readU64(data, raydiumSwapFeeNumOffset)
	feeDenom := readU64(data, raydiumSwapFeeDenomOffset)
	feeBps := feeBpsFromRatio(feeNum, feeDenom)

	return arbtypes.Pool{
		Address:     address,
		Owner:       owner,
		Family:      arbtypes.DexRaydium,
		TokenA:      arbtypes.Token(readPubkey(data, raydiumCoinMintOffset)),
		TokenB:      arbtypes.Token(readPubkey(data, raydiumPcMintOffset)),
		VaultA:      readPubkey(data, raydiumCoinVaultOffset),
		VaultB:      readPubkey(data, raydiumPcVaultOffset),
		ReserveA:    0, // filled by the vault enricher, spec §4.2/§4.3
		ReserveB:    0,
		FeeBps:      feeBps,
		LastUpdated: now,
	}, nil
}

// feeBpsFromRatio converts a numerator/denominator fee representation
// (spec §4.2: "numerator over denominator" form) to basis points.
func feeBpsFromRatio(num, denom uint64) uint16 {
	if denom == 0 {
		return 0
	}
	bps := (num * 10000) / denom
	if bps > 10000 {
		bps = 10000
	}
	return uint16(bps)
}

type raydiumEncoder struct{}

func (raydiumEncoder) Family() arbtypes.DexFamily { return arbtypes.DexRaydium }

// EncodeSwap builds the Raydium AMM v4 swap-base-in instruction body: a
// single-byte discriminator (9), then little-endian amountIn and minOut
// (spec §6).
func (raydiumEncoder) EncodeSwap(inAmount, minOut uint64, _ SwapExtra) []byte {
	buf := make([]byte, 1+8+8)
	buf[0] = 9
	putU64(buf[1:9], inAmount)
	putU64(buf[9:17], minOut)
	return buf
}

func init() {
	Register(raydiumProgramID, raydiumDecoder{}, raydiumEncoder{})
}
