// Package fetcher implements the Account Fetcher (spec §4.1): batched,
// retrying account fetches over JSON-RPC 2.0 (spec §6), round-robin across
// a rotation of endpoints.
package fetcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/triarb/engine/internal/arbtypes"
	"github.com/triarb/engine/internal/backoff"
)

// maxBatchSize is the typical remote-endpoint limit for getMultipleAccounts
// (spec §4.1).
const maxBatchSize = 100

// Account mirrors the fields of a getAccountInfo/getMultipleAccounts result
// this engine actually needs (spec §6).
type Account struct {
	Owner      [32]byte
	Data       []byte
	Lamports   uint64
	Executable bool
}

// Fetcher is the interface the Vault Enricher and Orchestrator depend on;
// an HTTPFetcher is the production implementation, allowing tests to swap
// in a fake.
type Fetcher interface {
	FetchOne(ctx context.Context, address [32]byte) (*Account, error)
	FetchMany(ctx context.Context, addresses [][32]byte) ([]*Account, error)
}

// HTTPFetcher is a JSON-RPC 2.0 client over HTTPS implementing the Account
// Fetcher contract (spec §4.1, §6).
type HTTPFetcher struct {
	client    *http.Client
	endpoints []string
	next      uint64 // atomic round-robin counter
	retry     backoff.Policy
	log       log.Logger
}

// New builds an HTTPFetcher rotating across endpoints. At least one
// endpoint must be provided.
func New(endpoints []string, logger log.Logger) *HTTPFetcher {
	if logger == nil {
		logger = log.New()
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: 15 * time.Second},
		endpoints: endpoints,
		retry:     backoff.Default(),
		log:       logger,
	}
}

func (f *HTTPFetcher) endpoint() string {
	i := atomic.AddUint64(&f.next, 1) - 1
	return f.endpoints[i%uint64(len(f.endpoints))]
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcAccountValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
}

type rpcResponse struct {
	Result struct {
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// FetchOne returns the on-chain state for a single address (spec §4.1).
func (f *HTTPFetcher) FetchOne(ctx context.Context, address [32]byte) (*Account, error) {
	accounts, err := f.FetchMany(ctx, [][32]byte{address})
	if err != nil {
		return nil, err
	}
	return accounts[0], nil
}

// FetchMany fetches accounts in chunks of at most maxBatchSize, preserving
// input order; absent accounts map to nil (spec §4.1). Chunks are fetched
// concurrently via errgroup since each chunk is an independent round-robin
// request.
func (f *HTTPFetcher) FetchMany(ctx context.Context, addresses [][32]byte) ([]*Account, error) {
	results := make([]*Account, len(addresses))
	if len(addresses) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(addresses); start += maxBatchSize {
		start := start
		end := start + maxBatchSize
		if end > len(addresses) {
			end = len(addresses)
		}
		g.Go(func() error {
			chunk, err := f.fetchChunk(gctx, addresses[start:end])
			if err != nil {
				return err
			}
			copy(results[start:end], chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchChunk performs one getMultipleAccounts call, retrying with jittered
// exponential backoff (spec §4.1).
func (f *HTTPFetcher) fetchChunk(ctx context.Context, addresses [][32]byte) ([]*Account, error) {
	var out []*Account
	var lastEndpoint string
	var lastErr error

	err := f.retry.Retry(func(attempt int) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		endpoint := f.endpoint()
		lastEndpoint = endpoint
		accs, err := f.call(ctx, endpoint, addresses)
		if err != nil {
			f.log.Warn("account fetch attempt failed", "endpoint", endpoint, "attempt", attempt, "err", err)
			lastErr = err
			return err
		}
		out = accs
		return nil
	})
	if err != nil {
		return nil, &arbtypes.FetchError{Kind: classifyErr(lastErr), LastEndpoint: lastEndpoint, Err: lastErr}
	}
	return out, nil
}

func classifyErr(err error) arbtypes.FetchErrorKind {
	if err == context.DeadlineExceeded {
		return arbtypes.FetchTimeout
	}
	return arbtypes.FetchTransport
}

func (f *HTTPFetcher) call(ctx context.Context, endpoint string, addresses [][32]byte) ([]*Account, error) {
	params := make([]string, len(addresses))
	for i, a := range addresses {
		params[i] = base58EncodeAddr(a)
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getMultipleAccounts",
		Params: []any{
			params,
			map[string]string{"encoding": "base64", "commitment": "confirmed"},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc http status %d", resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, &arbtypes.FetchError{Kind: arbtypes.FetchParse, LastEndpoint: endpoint, Err: err}
	}
	if rr.Error != nil {
		return nil, fmt.Errorf("rpc error: %s", rr.Error.Message)
	}

	var values []*rpcAccountValue
	if err := json.Unmarshal(rr.Result.Value, &values); err != nil {
		return nil, &arbtypes.FetchError{Kind: arbtypes.FetchParse, LastEndpoint: endpoint, Err: err}
	}

	out := make([]*Account, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		var data []byte
		if len(v.Data) > 0 {
			data, err = base64.StdEncoding.DecodeString(v.Data[0])
			if err != nil {
				return nil, &arbtypes.FetchError{Kind: arbtypes.FetchParse, LastEndpoint: endpoint, Err: err}
			}
		}
		owner, err := decodeBase58Addr(v.Owner)
		if err != nil {
			return nil, &arbtypes.FetchError{Kind: arbtypes.FetchParse, LastEndpoint: endpoint, Err: err}
		}
		out[i] = &Account{Owner: owner, Data: data, Lamports: v.Lamports, Executable: v.Executable}
	}
	return out, nil
}
