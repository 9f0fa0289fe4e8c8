// Package txbuilder implements the Transaction Builder (spec §4.9): it
// composes one atomic, signed transaction per opportunity out of
// compute-budget hints and per-hop DEX-family swap instructions, enforcing
// the platform's size and compute constraints before returning.
package txbuilder

import (
	"math"

	"github.com/triarb/engine/internal/arbtypes"
	"github.com/triarb/engine/internal/dex"
)

const (
	// maxTxBytes is the Solana transaction size cap (spec §4.9, §6).
	maxTxBytes = 1232
	// maxComputeUnits is the platform compute-budget ceiling (spec §4.9).
	maxComputeUnits = 1_400_000

	baseComputeUnits   = 20_000
	perHopComputeUnits = 80_000
	computeBudgetTag   = byte(0x02) // SetComputeUnitLimit discriminator
	computePriceTag    = byte(0x03) // SetComputeUnitPrice discriminator
)

// Instruction is a minimal versioned-message instruction: the program it
// targets, the accounts it touches (in order), and its opaque data.
type Instruction struct {
	ProgramID [32]byte
	Accounts  []AccountMeta
	Data      []byte
}

// AccountMeta is one account reference within an instruction.
type AccountMeta struct {
	Pubkey     [32]byte
	IsSigner   bool
	IsWritable bool
}

// LookupTable is an address lookup table the versioned message may
// reference to replace full 32-byte account keys with 1-byte indices
// (spec §4.9: "reduces serialized size by ~40%").
type LookupTable struct {
	Address   [32]byte
	Addresses [][32]byte
}

// Transaction is the built, signed artifact returned to the Sender.
type Transaction struct {
	Instructions []Instruction
	LookupTables []LookupTable
	ComputeUnits uint32
	Signature    [64]byte // populated by Sign
	serialized   []byte
}

// SerializedSize returns the transaction's wire size in bytes.
func (t Transaction) SerializedSize() int { return len(t.serialized) }

// HopInput is everything the builder needs about one cycle step to emit
// its swap instruction: the step itself, the signer's associated token
// accounts for the hop's input/output sides, the hop's expected output,
// and the family-specific supporting accounts. The compute unit price is
// taken from Config, not from here.
type HopInput struct {
	Step         arbtypes.CycleStep
	SignerInATA  [32]byte
	SignerOutATA [32]byte
	ExpectedOut  uint64 // this hop's output before the slippage floor is applied

	// SupportingAccounts lists the family-specific accounts a real swap
	// instruction also touches beyond the pool and the signer's token
	// accounts — vaults, AMM authority, serum market accounts for
	// Raydium, the token program, and so on (spec §6). The Pool Parser's
	// decoded metadata (internal/dex) already carries vault addresses;
	// the orchestrator is responsible for assembling this list per hop.
	SupportingAccounts []AccountMeta
}

// Config holds the builder's tunables (spec §4.9).
type Config struct {
	SlippageBps      uint16
	ComputeUnitPrice uint64 // micro-lamports per compute unit, priority fee
	ComputeBudgetBuf uint32 // buffer added to U = 20000 + 80000*hops
	Signer           [32]byte
}

// Builder composes transactions from sized, simulated opportunities.
type Builder struct {
	cfg Config
}

// New builds a Builder.
func New(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// computeUnitCap is U = 20000 + 80000*hops + buffer (spec §4.9).
func computeUnitCap(hops int, buffer uint32) uint32 {
	return baseComputeUnits + perHopComputeUnits*uint32(hops) + buffer
}

// minOut is the contractual slippage guard: floor(expected*(10000-slippageBps)/10000).
func minOut(expected uint64, slippageBps uint16) uint64 {
	if slippageBps >= 10000 {
		return 0
	}
	return uint64(math.Floor(float64(expected) * float64(10000-slippageBps) / 10000))
}

func computeBudgetInstructions(unitCap uint32, unitPrice uint64) []Instruction {
	capData := make([]byte, 5)
	capData[0] = computeBudgetTag
	putU32(capData[1:5], unitCap)

	priceData := make([]byte, 9)
	priceData[0] = computePriceTag
	putU64(priceData[1:9], unitPrice)

	return []Instruction{
		{ProgramID: computeBudgetProgramID, Data: capData},
		{ProgramID: computeBudgetProgramID, Data: priceData},
	}
}

// swapInstruction emits one hop's DEX-family swap instruction (spec §4.9
// step 2): running input amount, slippage-floored minimum output, the
// pool address, and the signer's input/output token accounts.
func swapInstruction(hop HopInput, inAmount uint64, slippageBps uint16) (Instruction, error) {
	enc, ok := dex.Encoder(hop.Step.Family)
	if !ok {
		return Instruction{}, &arbtypes.ParseError{Kind: arbtypes.ParseUnknownDex}
	}
	programID, ok := dex.ProgramIDFor(hop.Step.Family)
	if !ok {
		return Instruction{}, &arbtypes.ParseError{Kind: arbtypes.ParseUnknownDex}
	}
	data := enc.EncodeSwap(inAmount, minOut(hop.ExpectedOut, slippageBps), dex.SwapExtra{})
	accounts := make([]AccountMeta, 0, 3+len(hop.SupportingAccounts))
	accounts = append(accounts,
		AccountMeta{Pubkey: hop.Step.Pool, IsWritable: true},
		AccountMeta{Pubkey: hop.SignerInATA, IsWritable: true},
		AccountMeta{Pubkey: hop.SignerOutATA, IsWritable: true},
	)
	accounts = append(accounts, hop.SupportingAccounts...)
	return Instruction{
		ProgramID: programID,
		Accounts:  accounts,
		Data:      data,
	}, nil
}

// Build assembles the full transaction for a sized opportunity: compute-
// budget instructions, one swap instruction per hop with a running input
// amount, and a versioned message over any configured lookup tables
// (spec §4.9). Constraints are checked before returning; violations
// yield *arbtypes.BuildError rather than a malformed transaction.
func (b *Builder) Build(hops []HopInput, inputAmount uint64, tables []LookupTable) (Transaction, error) {
	n := len(hops)
	unitCap := computeUnitCap(n, b.cfg.ComputeBudgetBuf)
	if unitCap > maxComputeUnits {
		return Transaction{}, &arbtypes.BuildError{Kind: arbtypes.BuildOverCompute, Hops: n}
	}

	instructions := computeBudgetInstructions(unitCap, b.cfg.ComputeUnitPrice)

	running := inputAmount
	for _, hop := range hops {
		ix, err := swapInstruction(hop, running, b.cfg.SlippageBps)
		if err != nil {
			return Transaction{}, err
		}
		instructions = append(instructions, ix)
		running = hop.ExpectedOut
	}

	tx := Transaction{
		Instructions: instructions,
		LookupTables: tables,
		ComputeUnits: unitCap,
	}
	tx.serialized = serialize(tx)

	if len(tx.serialized) > maxTxBytes {
		return Transaction{}, &arbtypes.BuildError{Kind: arbtypes.BuildOverSize, Hops: n}
	}
	return tx, nil
}

// Sign attaches a signature to tx. The engine accepts an already-
// constructed signer (spec.md §1's wallet-key-material non-goal); this
// simply records the signature bytes the caller produced.
func (b *Builder) Sign(tx Transaction, signature [64]byte) Transaction {
	tx.Signature = signature
	return tx
}

var computeBudgetProgramID = mustBase58("ComputeBudget111111111111111111111111111111")

func putU32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func putU64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}
