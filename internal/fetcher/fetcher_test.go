package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustAddr(seed byte) [32]byte {
	var a [32]byte
	for i := range a {
		a[i] = seed
	}
	return a
}

func fastFetcher(endpoints []string) *HTTPFetcher {
	f := New(endpoints, nil)
	f.retry.Initial = time.Millisecond
	f.retry.Max = 5 * time.Millisecond
	return f
}

func newFakeRPCServer(t *testing.T, handler func(addrs []string) []any) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		addrsRaw := req.Params[0].([]any)
		addrs := make([]string, len(addrsRaw))
		for i, a := range addrsRaw {
			addrs[i] = a.(string)
		}
		values := handler(addrs)
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]any{"value": values},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestFetchOneReturnsAccount(t *testing.T) {
	srv := newFakeRPCServer(t, func(addrs []string) []any {
		return []any{map[string]any{
			"lamports":   1000,
			"owner":      base58EncodeAddr(mustAddr(7)),
			"data":       []string{base64.StdEncoding.EncodeToString([]byte("hello")), "base64"},
			"executable": false,
		}}
	})
	defer srv.Close()

	f := fastFetcher([]string{srv.URL})
	acc, err := f.FetchOne(context.Background(), mustAddr(1))
	require.NoError(t, err)
	require.NotNil(t, acc)
	require.Equal(t, []byte("hello"), acc.Data)
	require.Equal(t, mustAddr(7), acc.Owner)
}

func TestFetchManySplitsInto100Chunks(t *testing.T) {
	var calls int32
	var maxChunk int32
	srv := newFakeRPCServer(t, func(addrs []string) []any {
		atomic.AddInt32(&calls, 1)
		n := int32(len(addrs))
		for {
			cur := atomic.LoadInt32(&maxChunk)
			if n <= cur || atomic.CompareAndSwapInt32(&maxChunk, cur, n) {
				break
			}
		}
		out := make([]any, len(addrs))
		for i := range addrs {
			out[i] = nil
		}
		return out
	})
	defer srv.Close()

	f := fastFetcher([]string{srv.URL})

	addrs101 := make([][32]byte, 101)
	for i := range addrs101 {
		addrs101[i] = mustAddr(byte(i))
	}
	results, err := f.FetchMany(context.Background(), addrs101)
	require.NoError(t, err)
	require.Len(t, results, 101)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxChunk)), 100)
}

func TestFetchManyExactly100IsOneChunk(t *testing.T) {
	var calls int32
	srv := newFakeRPCServer(t, func(addrs []string) []any {
		atomic.AddInt32(&calls, 1)
		out := make([]any, len(addrs))
		return out
	})
	defer srv.Close()

	f := fastFetcher([]string{srv.URL})
	addrs := make([][32]byte, 100)
	_, err := f.FetchMany(context.Background(), addrs)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchManyMissingAccountIsNil(t *testing.T) {
	srv := newFakeRPCServer(t, func(addrs []string) []any {
		return []any{nil}
	})
	defer srv.Close()

	f := fastFetcher([]string{srv.URL})
	results, err := f.FetchMany(context.Background(), [][32]byte{mustAddr(1)})
	require.NoError(t, err)
	require.Nil(t, results[0])
}

func TestFetchRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := fastFetcher([]string{srv.URL})
	f.retry.MaxRetries = 2
	_, err := f.FetchOne(context.Background(), mustAddr(1))
	require.Error(t, err)
}

func TestEndpointRotation(t *testing.T) {
	var hits [2]int32
	srv0 := newFakeRPCServer(t, func(addrs []string) []any {
		atomic.AddInt32(&hits[0], 1)
		return []any{nil}
	})
	defer srv0.Close()
	srv1 := newFakeRPCServer(t, func(addrs []string) []any {
		atomic.AddInt32(&hits[1], 1)
		return []any{nil}
	})
	defer srv1.Close()

	f := fastFetcher([]string{srv0.URL, srv1.URL})
	for i := 0; i < 4; i++ {
		_, err := f.FetchOne(context.Background(), mustAddr(1))
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), hits[0])
	require.Equal(t, int32(2), hits[1])
}
