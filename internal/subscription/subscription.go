// Package subscription implements the Subscription Manager (spec §4.5):
// one change-notification stream per monitored pool account, sharded
// across transports, with idle/dead-stream detection and a bounded
// reconnect policy. Grounded on original_source/src/chain/pool_monitor.rs
// (PubsubClient subscribe-and-reconnect shape), translated from Solana's
// PubsubClient to a raw gorilla/websocket JSON-RPC client (spec §6).
package subscription

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/triarb/engine/internal/arbtypes"
	"github.com/triarb/engine/internal/backoff"
)

const (
	shardSize            = 50
	interBatchPause      = 50 * time.Millisecond
	idleThreshold        = 30 * time.Second
	maxReconnectAttempts = 10
)

// reconnectDelay is a var, not a const, so tests can shrink it instead of
// waiting out the real backoff.
var reconnectDelay = 2 * time.Second

// Update is one parsed account-change notification (spec §4.5): the
// updated payload plus the slot it was observed at. Address is resolved
// from the subscription id the server assigned when the request was
// acknowledged.
type Update struct {
	Address arbtypes.Token
	Data    []byte
	Slot    uint64
}

// dialer opens a websocket connection. A field (not a free function) so
// tests can substitute a fake transport.
type dialer func(ctx context.Context, url string) (wsConn, error)

// wsConn is the subset of *websocket.Conn the manager depends on.
type wsConn interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	Close() error
}

type realConn struct{ *websocket.Conn }

func defaultDialer(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return realConn{conn}, nil
}

// shard owns one websocket connection and the subset of pool addresses
// subscribed over it, plus the live requestID/subscriptionID -> address
// bookkeeping a single JSON-RPC pubsub connection needs (spec §6).
type shard struct {
	id        int
	addresses []arbtypes.Token

	mu          sync.Mutex
	lastMsg     time.Time
	byRequestID map[int]arbtypes.Token
	bySubID     map[int]arbtypes.Token
}

func (s *shard) touch() {
	s.mu.Lock()
	s.lastMsg = time.Now()
	s.mu.Unlock()
}

func (s *shard) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastMsg)
}

func (s *shard) resetBookkeeping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRequestID = make(map[int]arbtypes.Token, len(s.addresses))
	s.bySubID = make(map[int]arbtypes.Token, len(s.addresses))
}

func (s *shard) recordRequest(reqID int, addr arbtypes.Token) {
	s.mu.Lock()
	s.byRequestID[reqID] = addr
	s.mu.Unlock()
}

func (s *shard) recordSubscription(reqID, subID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr, ok := s.byRequestID[reqID]; ok {
		s.bySubID[subID] = addr
	}
}

func (s *shard) addressForSub(subID int) (arbtypes.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.bySubID[subID]
	return addr, ok
}

// Manager runs the sharded subscription loops and publishes parsed
// updates to Updates().
type Manager struct {
	url     string
	dial    dialer
	log     log.Logger
	retry   backoff.Policy
	updates chan Update

	shards []*shard
}

// New builds a Manager for the given websocket URL, sharding pools across
// ~50-address batches (spec §4.5).
func New(url string, pools []arbtypes.Token, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.New()
	}
	m := &Manager{
		url:     url,
		dial:    defaultDialer,
		log:     logger,
		retry:   backoff.Policy{MaxRetries: maxReconnectAttempts, Initial: reconnectDelay, Max: reconnectDelay, Multiplier: 1, Jitter: 0},
		updates: make(chan Update, 4096),
	}
	for i := 0; i < len(pools); i += shardSize {
		end := i + shardSize
		if end > len(pools) {
			end = len(pools)
		}
		m.shards = append(m.shards, &shard{id: len(m.shards), addresses: pools[i:end]})
	}
	return m
}

// Updates returns the channel parsed updates are published to. The
// channel has a 4096-slot buffer; when it is full, a shard's read loop
// blocks until the consumer catches up, so updates are delayed, not
// dropped. Ordering within a single pool's stream is preserved; cross-pool
// ordering is not guaranteed, matching every shard running independently.
func (m *Manager) Updates() <-chan Update { return m.updates }

// Run starts one goroutine per shard and returns once every shard has
// returned, then closes the Updates channel. A shard returns when ctx is
// cancelled (closing its connection) or when it is abandoned after its
// reconnect budget; with no shards, Run returns at once.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sh := range m.shards {
		wg.Add(1)
		go func(sh *shard) {
			defer wg.Done()
			m.runShard(ctx, sh)
		}(sh)
		time.Sleep(interBatchPause)
	}
	wg.Wait()
	close(m.updates)
}

// runShard subscribes sh's pools and forwards account-change
// notifications until ctx is cancelled or the shard is abandoned after
// exhausting its reconnect budget (spec §4.5). The budget counts every
// failure mode that lands the shard back at "need a new connection" —
// a failed dial, a failed subscribeAll, or a stream that dies before
// ever delivering a message — not just dial failures; otherwise a
// connection that dials fine but never subscribes or immediately dies
// ("flapping") would retry forever. A stream that dies after running
// healthily for a while (it delivered at least one message) earns the
// shard a fresh budget, since that failure mode isn't the one the budget
// guards against.
func (m *Manager) runShard(ctx context.Context, sh *shard) {
	attempts := 0
	abandon := func() {
		m.log.Error("subscription shard abandoned after exhausting reconnect attempts", "shard", sh.id)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := m.dial(ctx, m.url)
		if err != nil {
			attempts++
			if attempts > maxReconnectAttempts {
				abandon()
				return
			}
			m.log.Warn("subscription dial failed, retrying", "shard", sh.id, "attempt", attempts, "err", err)
			sleepOrDone(ctx, reconnectDelay)
			continue
		}
		sh.touch()
		sh.resetBookkeeping()

		if err := subscribeAll(conn, sh); err != nil {
			conn.Close()
			attempts++
			if attempts > maxReconnectAttempts {
				abandon()
				return
			}
			m.log.Warn("subscribe request failed, retrying", "shard", sh.id, "attempt", attempts, "err", err)
			sleepOrDone(ctx, reconnectDelay)
			continue
		}

		dead, gotMessage := m.pump(ctx, conn, sh)
		conn.Close()
		if !dead {
			// ctx was cancelled: clean shutdown, not a failure to retry.
			return
		}
		if gotMessage {
			attempts = 0
		} else {
			attempts++
			if attempts > maxReconnectAttempts {
				abandon()
				return
			}
		}
		m.log.Debug("subscription stream ended, reconnecting", "shard", sh.id, "attempt", attempts)
		sleepOrDone(ctx, reconnectDelay)
	}
}

// pump reads messages from conn until it dies or ctx is cancelled,
// publishing parsed updates and logging idle streams (spec §4.5: no
// message in 30s -> debug log, keep waiting). Returns dead=true if the
// stream died (the caller should reconnect), false if ctx was cancelled.
// gotMessage reports whether at least one message was read before the
// stream died, distinguishing a connection that ran healthily for a
// while from one that flapped immediately.
func (m *Manager) pump(ctx context.Context, conn wsConn, sh *shard) (dead, gotMessage bool) {
	msgs := make(chan []byte, 1)
	readErrs := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErrs <- err
				return
			}
			msgs <- data
		}
	}()

	idleTimer := time.NewTimer(idleThreshold)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, gotMessage
		case <-readErrs:
			return true, gotMessage
		case data := <-msgs:
			gotMessage = true
			sh.touch()
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(idleThreshold)
			m.handleMessage(ctx, sh, data)
		case <-idleTimer.C:
			m.log.Debug("subscription shard idle", "shard", sh.id, "idle_for", sh.idleFor())
			idleTimer.Reset(idleThreshold)
		}
	}
}

func (m *Manager) handleMessage(ctx context.Context, sh *shard, raw []byte) {
	if reqID, subID, ok := parseSubscribeAck(raw); ok {
		sh.recordSubscription(reqID, subID)
		return
	}
	subID, slot, payload, ok := parseNotification(raw)
	if !ok {
		return
	}
	addr, ok := sh.addressForSub(subID)
	if !ok {
		return
	}
	select {
	case m.updates <- Update{Address: addr, Data: payload, Slot: slot}:
	case <-ctx.Done():
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// subscribeAll sends one accountSubscribe JSON-RPC request per address in
// sh (spec §6), recording the request id so the eventual subscribe
// acknowledgement can be matched back to an address.
func subscribeAll(conn wsConn, sh *shard) error {
	for i, addr := range sh.addresses {
		reqID := i + 1
		sh.recordRequest(reqID, addr)
		req := map[string]any{
			"jsonrpc": "2.0",
			"id":      reqID,
			"method":  "accountSubscribe",
			"params":  []any{base58Addr(addr), map[string]any{"encoding": "base64", "commitment": "confirmed"}},
		}
		if err := conn.WriteJSON(req); err != nil {
			return err
		}
	}
	return nil
}

// subscribeAck is the JSON-RPC response to an accountSubscribe call: the
// server-assigned subscription id, correlated back to the request id.
type subscribeAck struct {
	ID     *int `json:"id"`
	Result *int `json:"result"`
}

func parseSubscribeAck(raw []byte) (reqID, subID int, ok bool) {
	var ack subscribeAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return 0, 0, false
	}
	if ack.ID == nil || ack.Result == nil {
		return 0, 0, false
	}
	return *ack.ID, *ack.Result, true
}

// accountNotification mirrors the accountNotification JSON-RPC payload
// shape (spec §6).
type accountNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription int `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Data [2]string `json:"data"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func parseNotification(raw []byte) (subID int, slot uint64, data []byte, ok bool) {
	var n accountNotification
	if err := json.Unmarshal(raw, &n); err != nil || n.Method != "accountNotification" {
		return 0, 0, nil, false
	}
	if n.Params.Result.Value.Data[0] == "" {
		return 0, 0, nil, false
	}
	payload, err := decodeBase64(n.Params.Result.Value.Data[0])
	if err != nil {
		return 0, 0, nil, false
	}
	return n.Params.Subscription, n.Params.Result.Context.Slot, payload, true
}
