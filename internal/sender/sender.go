// Package sender implements the Transaction Sender (spec §4.10):
// multi-endpoint race-to-confirm submission with retry/backoff, status
// polling, and post-confirmation front-run detection.
package sender

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/triarb/engine/internal/arbtypes"
	"github.com/triarb/engine/internal/backoff"
	"github.com/triarb/engine/internal/txbuilder"
)

// Status is a transaction's confirmation state as reported by an
// endpoint's getSignatureStatuses (spec §6).
type Status uint8

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFinalized
	StatusFailed
)

// Endpoint submits a signed transaction and polls its confirmation
// status. One Endpoint is built per configured RPC endpoint (spec §4.10).
type Endpoint interface {
	Submit(ctx context.Context, tx txbuilder.Transaction) error
	PollStatus(ctx context.Context, tx txbuilder.Transaction) (Status, error)
	Name() string
}

// Config holds the sender's tunables (spec §4.10).
type Config struct {
	PollInterval   time.Duration // default 400ms
	OverallTimeout time.Duration // default 30s
	FrontRunRatio  float64       // default 0.5
	Retry          backoff.Policy
}

// DefaultConfig matches spec §4.10's stated defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   400 * time.Millisecond,
		OverallTimeout: 30 * time.Second,
		FrontRunRatio:  0.5,
		Retry:          backoff.Sender(),
	}
}

// Result is what Send returns on success: which endpoint won the race.
// Front-run detection is a separate, later step (DetectFrontrun) since it
// needs the realized on-chain profit, observed only after confirmation.
type Result struct {
	Winner string
	Status Status
}

// Sender races a signed transaction across every configured endpoint.
type Sender struct {
	cfg Config
}

// New builds a Sender.
func New(cfg Config) *Sender {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.OverallTimeout == 0 {
		cfg.OverallTimeout = DefaultConfig().OverallTimeout
	}
	if cfg.FrontRunRatio == 0 {
		cfg.FrontRunRatio = DefaultConfig().FrontRunRatio
	}
	return &Sender{cfg: cfg}
}

// Send submits tx to every endpoint concurrently (spec §4.10: "spawn one
// task per endpoint"). The first endpoint to observe Confirmed or
// Finalized status wins; the rest are cancelled via ctx and do not
// report. If every endpoint fails or the overall timeout elapses first,
// Send returns *arbtypes.SendError.
func (s *Sender) Send(ctx context.Context, tx txbuilder.Transaction, endpoints []Endpoint) (Result, error) {
	if len(endpoints) == 0 {
		return Result{}, &arbtypes.SendError{Kind: arbtypes.SendAllEndpointsFailed}
	}

	raceCtx, cancel := context.WithTimeout(ctx, s.cfg.OverallTimeout)
	defer cancel()

	var (
		winnerOnce sync.Once
		result     Result
		winFound   bool
	)

	g, gctx := errgroup.WithContext(raceCtx)
	for _, ep := range endpoints {
		ep := ep
		g.Go(func() error {
			status, err := s.runOne(gctx, ep, tx)
			if err != nil {
				return nil // this endpoint lost the race, not a fatal group error
			}
			winnerOnce.Do(func() {
				winFound = true
				result = Result{Winner: ep.Name(), Status: status}
				cancel() // first-confirm-wins: cancel the remaining tasks
			})
			return nil
		})
	}
	_ = g.Wait()

	if !winFound {
		if raceCtx.Err() == context.DeadlineExceeded {
			return Result{}, &arbtypes.SendError{Kind: arbtypes.SendTimeout}
		}
		return Result{}, &arbtypes.SendError{Kind: arbtypes.SendAllEndpointsFailed}
	}
	return result, nil
}

// FrontRunRatio returns the configured front-run detection threshold
// (spec §4.10 default: 0.5), for callers building their own DetectFrontrun
// call after observing realized profit.
func (s *Sender) FrontRunRatio() float64 { return s.cfg.FrontRunRatio }

// runOne submits tx to ep with retry/backoff, then polls its status until
// Confirmed/Finalized, cancellation, or the overall deadline.
func (s *Sender) runOne(ctx context.Context, ep Endpoint, tx txbuilder.Transaction) (Status, error) {
	err := s.cfg.Retry.Retry(func(attempt int) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ep.Submit(ctx, tx)
	})
	if err != nil {
		return StatusFailed, err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return StatusFailed, ctx.Err()
		case <-ticker.C:
			status, err := ep.PollStatus(ctx, tx)
			if err != nil {
				continue
			}
			if status == StatusConfirmed || status == StatusFinalized {
				return status, nil
			}
		}
	}
}

// DetectFrontrun compares realized to expected profit (spec §4.10): a
// ratio below threshold is reported, observationally, as front-running —
// the transaction still executed regardless.
func DetectFrontrun(expected, realized int64, threshold float64) (ratio float64, suspected bool) {
	if expected <= 0 {
		return 0, false
	}
	ratio = float64(realized) / float64(expected)
	return ratio, ratio < threshold
}
