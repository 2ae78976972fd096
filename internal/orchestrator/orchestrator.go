// Package orchestrator implements the Event Ingest & Orchestrator
// (spec.md §4.7, SPEC_FULL.md §4.8): per-chain subscriptions to new
// blocks, pending transactions and pool logs, each wrapped in an
// exponential-backoff reconnector; a capacity-512 broadcast channel with
// drop-to-oldest back-pressure; a per-block dispatch pipeline that
// re-runs the Finder only for pools touched since the last block, with
// at most one Finder pass in flight per chain; and a 60s health loop.
//
// The teacher has no multi-chain event loop at all (cmd/main.go dials
// one client and drives a single polling strategy). The reconnector is
// grounded on specs/001-liquidity-repositioning/contracts/strategy_api.go's
// CircuitBreaker idiom: that type counts errors in a window and flips a
// strategy to Halted after a threshold; here the same "count failures,
// trip after a threshold" shape reconnects a subscription with backoff
// instead of halting a strategy, escalating to a fatal callback only
// after repeated consecutive failures.
package orchestrator

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/arbitrageur-go/engine/internal/domain"
	"github.com/arbitrageur-go/engine/internal/metrics"
	"github.com/arbitrageur-go/engine/internal/poolgraph"
	"github.com/arbitrageur-go/engine/internal/submitter"
	"github.com/arbitrageur-go/engine/internal/util"
)

const (
	// broadcastCapacity is the buffered depth of every subscriber channel
	// (SPEC_FULL.md §4.8: "Broadcast channel (capacity 512)").
	broadcastCapacity = 512

	// reconnectBase/reconnectMax parameterise the backoff reconnector
	// (SPEC_FULL.md §4.8: "base 1s, factor 2").
	reconnectBase = 1 * time.Second
	reconnectMax  = 60 * time.Second

	// maxConsecutiveFailures escalates to onFatal after this many
	// reconnect attempts in a row fail (SPEC_FULL.md §4.8: "max 3"),
	// generalising the teacher's CircuitBreakerThreshold.
	maxConsecutiveFailures = 3

	defaultHealthInterval = 60 * time.Second

	// blockStalenessThreshold is the "no new block in N seconds" health
	// leg (spec.md §4.7: "block-timestamp staleness > 120s").
	blockStalenessThreshold = 120 * time.Second
)

// EventKind tags one of the three subscription feeds this package
// multiplexes onto the broadcast channel.
type EventKind int

const (
	EventNewBlock EventKind = iota
	EventPendingTx
	EventPoolLog
)

// Event is the broadcast unit: exactly one of Header/Tx/Log is populated,
// selected by Kind.
type Event struct {
	Kind  EventKind
	Chain domain.Chain

	Header *types.Header
	Tx     *types.Transaction
	Log    types.Log
}

// BlockSource subscribes to new block headers on chain.
type BlockSource interface {
	SubscribeNewHead(ctx context.Context, chain domain.Chain) (<-chan *types.Header, ethereum.Subscription, error)
}

// PendingTxSource subscribes to the pending-transaction feed on chain.
// A production adapter wraps `ethclient/gethclient`'s
// SubscribePendingTransactions; the teacher and the rest of the example
// pack never touch the mempool directly, so this is new surface named
// after go-ethereum's own subscription shape.
type PendingTxSource interface {
	SubscribePendingTx(ctx context.Context, chain domain.Chain) (<-chan *types.Transaction, ethereum.Subscription, error)
}

// LogSource subscribes to contract logs on chain matching q.
type LogSource interface {
	SubscribeLogs(ctx context.Context, chain domain.Chain, q ethereum.FilterQuery) (<-chan types.Log, ethereum.Subscription, error)
}

// ReserveDecoder turns a raw pool log into a reserve snapshot. Protocol-
// specific (V2 Sync, V3 Swap) implementations live alongside the ABI
// bindings that parse them; Orchestrator only needs the result.
type ReserveDecoder interface {
	DecodeReserveSnapshot(log types.Log) (*domain.ReserveSnapshot, bool)
}

// PendingTxDecoder recovers the sender, touched tokens and pool IDs of a
// raw pending transaction, the shape submitter.PendingTx needs for
// sandwich detection. A production implementation recovers the sender
// via the chain's signer and decodes calldata through contractclient.
type PendingTxDecoder interface {
	Decode(chain domain.Chain, tx *types.Transaction) (submitter.PendingTx, bool)
}

// OpportunityFinder is the subset of *finder.Finder the dispatch
// pipeline calls: a touched-pool re-evaluation keyed off what changed
// since the previous block.
type OpportunityFinder interface {
	FindTouched(profitToken common.Address, probeAmount *big.Int, changedPools []string, previous []*domain.Opportunity) []*domain.Opportunity
}

// ChainFeeds bundles the per-chain subscription endpoints and decoder the
// Orchestrator drives. LogQuery is the filter passed to SubscribeLogs
// (e.g. every registered pool address's Sync/Swap topics).
type ChainFeeds struct {
	Chain       domain.Chain
	ProfitToken common.Address
	ProbeAmount *big.Int
	LogQuery    ethereum.FilterQuery
}

// Broadcaster fans Events out to subscribers, each a capacity-512
// channel. A full subscriber channel is drained by one slot (dropping
// its oldest queued event) before the new event is pushed, rather than
// blocking the publisher or silently dropping the newest event
// (SPEC_FULL.md §4.8 back-pressure policy).
type Broadcaster struct {
	mu          sync.Mutex
	subscribers []chan Event
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers and returns a new capacity-512 event channel.
func (b *Broadcaster) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, broadcastCapacity)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish fans evt out to every subscriber.
func (b *Broadcaster) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// OpportunityHandler receives the results of one touched-pool Finder
// pass for a chain.
type OpportunityHandler func(chain domain.Chain, opportunities []*domain.Opportunity)

// FatalHandler is invoked when a subscription's reconnector exhausts
// maxConsecutiveFailures; the composition root decides whether that
// means graceful shutdown or a page.
type FatalHandler func(chain domain.Chain, source string, err *domain.ClassifiedError)

// Orchestrator owns the Pool Graph/Reserve Cache (spec.md §3: "the
// Orchestrator is the sole writer at block boundaries") and drives every
// per-chain subscription into it.
type Orchestrator struct {
	graph      *poolgraph.Graph
	blocks     BlockSource
	pendingTxs PendingTxSource
	logs       LogSource
	decoder    ReserveDecoder
	txDecoder  PendingTxDecoder
	finder     OpportunityFinder
	metrics    *metrics.Metrics

	broadcast     *Broadcaster
	onOpportunity OpportunityHandler
	onFatal       FatalHandler

	healthInterval time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration

	mu             sync.Mutex
	pendingPools   map[domain.Chain]map[string]bool
	finderInFlight map[domain.Chain]*int32
	feeds          map[domain.Chain]feederArgs
	lastOpps       map[domain.Chain][]*domain.Opportunity

	connectedNodes int32
	pendingTxRing  map[domain.Chain]*pendingTxRing

	// lastBlockUnix is the Time field of the most recently dispatched
	// block header, across all chains; 0 means no block has been seen yet.
	lastBlockUnix int64
	// dispatchEnabled gates runFinderPass: spec.md §4.7 defines health as
	// three independent OR'd conditions (block-timestamp staleness > 120s,
	// connected-peer count = 0, RSS > soft cap), any one of which suspends
	// new dispatch until it clears. 1 = enabled, 0 = suspended.
	dispatchEnabled int32
}

// New builds an Orchestrator. pendingTxs/txDecoder, onOpportunity and
// onFatal may all be nil (a nil pendingTxs skips the mempool feed
// entirely).
func New(graph *poolgraph.Graph, blocks BlockSource, pendingTxs PendingTxSource, txDecoder PendingTxDecoder, logs LogSource, decoder ReserveDecoder, finder OpportunityFinder, m *metrics.Metrics, onOpportunity OpportunityHandler, onFatal FatalHandler) *Orchestrator {
	return &Orchestrator{
		graph:           graph,
		blocks:          blocks,
		pendingTxs:      pendingTxs,
		txDecoder:       txDecoder,
		logs:            logs,
		decoder:         decoder,
		finder:          finder,
		metrics:         m,
		broadcast:       NewBroadcaster(),
		onOpportunity:   onOpportunity,
		onFatal:         onFatal,
		healthInterval:  defaultHealthInterval,
		backoffBase:     reconnectBase,
		backoffMax:      reconnectMax,
		pendingPools:    make(map[domain.Chain]map[string]bool),
		finderInFlight:  make(map[domain.Chain]*int32),
		feeds:           make(map[domain.Chain]feederArgs),
		lastOpps:        make(map[domain.Chain][]*domain.Opportunity),
		pendingTxRing:   make(map[domain.Chain]*pendingTxRing),
		dispatchEnabled: 1,
	}
}

// Subscribe returns a new broadcast channel carrying every Event this
// Orchestrator dispatches, across all chains.
func (o *Orchestrator) Subscribe() <-chan Event {
	return o.broadcast.Subscribe()
}

// Run launches the block, log and (if configured) pending-tx
// subscriptions for every chain in feeds, each independently
// reconnected, until ctx is cancelled. Each goroutine handles its own
// failures through reconnect (and onFatal) and returns nil, so Run
// returns nil once ctx is cancelled and every goroutine has stopped.
func (o *Orchestrator) Run(ctx context.Context, feeds []ChainFeeds) error {
	group, gctx := errgroup.WithContext(ctx)

	for _, f := range feeds {
		f := f
		o.mu.Lock()
		o.pendingPools[f.Chain] = make(map[string]bool)
		inFlight := int32(0)
		o.finderInFlight[f.Chain] = &inFlight
		o.feeds[f.Chain] = feederArgs{ProfitToken: f.ProfitToken, ProbeAmount: f.ProbeAmount}
		o.pendingTxRing[f.Chain] = newPendingTxRing(1000)
		o.mu.Unlock()

		group.Go(func() error {
			o.runBlocks(gctx, f.Chain)
			return nil
		})
		group.Go(func() error {
			o.runLogs(gctx, f)
			return nil
		})
		if o.pendingTxs != nil {
			group.Go(func() error {
				o.runPendingTx(gctx, f.Chain)
				return nil
			})
		}
	}

	return group.Wait()
}

// runBlocks reconnects the new-head subscription for chain forever
// until ctx is done, dispatching the per-block pipeline on every header.
func (o *Orchestrator) runBlocks(ctx context.Context, chain domain.Chain) {
	o.reconnect(ctx, chain, "blocks", func(ctx context.Context) error {
		heads, sub, err := o.blocks.SubscribeNewHead(ctx, chain)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		atomic.AddInt32(&o.connectedNodes, 1)
		if o.metrics != nil {
			o.metrics.ConnectedNodes.Inc()
		}
		defer func() {
			atomic.AddInt32(&o.connectedNodes, -1)
			if o.metrics != nil {
				o.metrics.ConnectedNodes.Dec()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-sub.Err():
				return err
			case header, ok := <-heads:
				if !ok {
					return nil
				}
				o.dispatchBlock(chain, header)
			}
		}
	})
}

// runLogs reconnects the pool-log subscription for f.Chain, decoding
// each log into a reserve snapshot and applying it to the graph.
func (o *Orchestrator) runLogs(ctx context.Context, f ChainFeeds) {
	o.reconnect(ctx, f.Chain, "logs", func(ctx context.Context) error {
		logsCh, sub, err := o.logs.SubscribeLogs(ctx, f.Chain, f.LogQuery)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-sub.Err():
				return err
			case log, ok := <-logsCh:
				if !ok {
					return nil
				}
				o.dispatchLog(f.Chain, log)
			}
		}
	})
}

// runPendingTx reconnects the pending-transaction feed for chain,
// recording each into a bounded ring for the submitter's sandwich
// detector and broadcasting it downstream.
func (o *Orchestrator) runPendingTx(ctx context.Context, chain domain.Chain) {
	o.reconnect(ctx, chain, "pendingtx", func(ctx context.Context) error {
		txs, sub, err := o.pendingTxs.SubscribePendingTx(ctx, chain)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-sub.Err():
				return err
			case tx, ok := <-txs:
				if !ok {
					return nil
				}
				if o.txDecoder != nil {
					if ptx, ok := o.txDecoder.Decode(chain, tx); ok {
						o.mu.Lock()
						if ring := o.pendingTxRing[chain]; ring != nil {
							ring.add(ptx)
						}
						o.mu.Unlock()
					}
				}
				o.broadcast.Publish(Event{Kind: EventPendingTx, Chain: chain, Tx: tx})
			}
		}
	})
}

// dispatchBlock broadcasts the new head, then runs one touched-pool
// Finder pass for chain if no pass is already in flight for it — the
// single-in-flight-per-chain back-pressure rule (SPEC_FULL.md §4.8).
func (o *Orchestrator) dispatchBlock(chain domain.Chain, header *types.Header) {
	if header != nil {
		atomic.StoreInt64(&o.lastBlockUnix, int64(header.Time))
	}
	if o.metrics != nil && header != nil {
		o.metrics.LastBlockTime.Set(float64(header.Time))
	}
	o.broadcast.Publish(Event{Kind: EventNewBlock, Chain: chain, Header: header})

	o.mu.Lock()
	touched := o.pendingPools[chain]
	o.pendingPools[chain] = make(map[string]bool)
	inFlight := o.finderInFlight[chain]
	o.mu.Unlock()

	if len(touched) == 0 || o.finder == nil || inFlight == nil {
		return
	}
	if atomic.LoadInt32(&o.dispatchEnabled) == 0 {
		return // suspended: block staleness, zero connected peers, or RSS over cap (spec.md §4.7)
	}
	if !atomic.CompareAndSwapInt32(inFlight, 0, 1) {
		return // a prior pass for this chain hasn't finished; drop this block's dispatch
	}

	pools := make([]string, 0, len(touched))
	for id := range touched {
		pools = append(pools, id)
	}

	go func() {
		defer atomic.StoreInt32(inFlight, 0)
		o.runFinderPass(chain, pools)
	}()
}

// runFinderPass looks up the chain's configured ProfitToken/ProbeAmount
// (set by Run from ChainFeeds) and re-evaluates only touchedPools,
// carrying forward any untouched prior opportunities.
func (o *Orchestrator) runFinderPass(chain domain.Chain, touchedPools []string) {
	args, ok := o.feederArgs(chain)
	if !ok {
		return
	}
	opportunities := o.finder.FindTouched(args.ProfitToken, args.ProbeAmount, touchedPools, o.lastOpportunities(chain))
	o.setLastOpportunities(chain, opportunities)
	if o.metrics != nil {
		o.metrics.OpportunitiesTotal.Add(float64(len(opportunities)))
	}
	if o.onOpportunity != nil {
		o.onOpportunity(chain, opportunities)
	}
}

type feederArgs struct {
	ProfitToken common.Address
	ProbeAmount *big.Int
}

func (o *Orchestrator) feederArgs(chain domain.Chain) (feederArgs, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	args, ok := o.feeds[chain]
	return args, ok
}

func (o *Orchestrator) lastOpportunities(chain domain.Chain) []*domain.Opportunity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastOpps[chain]
}

func (o *Orchestrator) setLastOpportunities(chain domain.Chain, opps []*domain.Opportunity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastOpps == nil {
		o.lastOpps = make(map[domain.Chain][]*domain.Opportunity)
	}
	o.lastOpps[chain] = opps
}

// dispatchLog decodes log into a reserve snapshot, applies it to the
// graph, records the touched pool for the next block dispatch, and
// broadcasts the raw log.
func (o *Orchestrator) dispatchLog(chain domain.Chain, log types.Log) {
	o.broadcast.Publish(Event{Kind: EventPoolLog, Chain: chain, Log: log})

	if o.decoder == nil {
		return
	}
	snapshot, ok := o.decoder.DecodeReserveSnapshot(log)
	if !ok {
		return
	}
	changed := o.graph.UpdateReserves([]*domain.ReserveSnapshot{snapshot})

	o.mu.Lock()
	set := o.pendingPools[chain]
	if set == nil {
		set = make(map[string]bool)
		o.pendingPools[chain] = set
	}
	for _, id := range changed {
		set[id] = true
	}
	o.mu.Unlock()
}

// reconnect runs connect repeatedly until ctx is cancelled, backing off
// between failures and escalating to onFatal after
// maxConsecutiveFailures in a row.
func (o *Orchestrator) reconnect(ctx context.Context, chain domain.Chain, source string, connect func(context.Context) error) {
	backoff := util.NewBackoff(o.backoffBase, o.backoffMax)
	consecutiveFailures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		err := connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Subscription ended without error (e.g. remote closed
			// cleanly); still reconnect, same as a failure, but don't
			// count it against the fatal threshold.
			backoff.Reset()
		} else {
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveFailures && o.onFatal != nil {
				o.onFatal(chain, source, domain.NewClassifiedError(domain.KindFatalConfig, err))
				backoff.Reset()
				consecutiveFailures = 0
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.Next()):
		}
	}
}

// RunHealth samples process RSS every interval (default 60s) via
// gopsutil, reporting through m, and folds it with block staleness and
// connected-peer count into the single dispatchEnabled gate dispatchBlock
// checks before running a Finder pass (spec.md §4.7: any one of
// block-timestamp staleness > 120s, connected-peer count = 0, or RSS over
// softCap — 0 uses metrics.DefaultRSSSoftCapBytes — suspends new dispatch
// until every condition clears). onOverCap, if non-nil, is still invoked
// on every over-cap sample for external alerting. Blocks until ctx is
// cancelled.
func (o *Orchestrator) RunHealth(ctx context.Context, softCapBytes uint64, onOverCap func(rssBytes uint64)) error {
	loop, err := metrics.NewHealthLoop(o.metrics, softCapBytes, o.healthInterval)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(o.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, overCap, sampleErr := loop.Sample(ctx)
			if sampleErr != nil {
				continue
			}
			if overCap && onOverCap != nil {
				onOverCap(rss)
			}
			o.refreshDispatchGate(overCap)
		}
	}
}

// blockStale reports whether the most recently dispatched block (across
// all chains) is older than blockStalenessThreshold. No block observed
// yet (lastBlockUnix == 0, e.g. at startup before the first header
// arrives) is not treated as stale.
func (o *Orchestrator) blockStale() bool {
	last := atomic.LoadInt64(&o.lastBlockUnix)
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(last, 0)) > blockStalenessThreshold
}

// refreshDispatchGate recomputes dispatchEnabled from the three OR'd
// health conditions spec.md §4.7 names.
func (o *Orchestrator) refreshDispatchGate(rssOverCap bool) {
	healthy := !o.blockStale() && atomic.LoadInt32(&o.connectedNodes) > 0 && !rssOverCap
	var enabled int32
	if healthy {
		enabled = 1
	}
	atomic.StoreInt32(&o.dispatchEnabled, enabled)
}

// DispatchSuspended reports whether the health gate currently suspends
// new Finder dispatch (spec.md §4.7).
func (o *Orchestrator) DispatchSuspended() bool {
	return atomic.LoadInt32(&o.dispatchEnabled) == 0
}

// pendingTxRing is a fixed-capacity ring buffer of decoded pending
// transactions, feeding the submitter's sandwich detector a bounded
// recent-transaction window (spec.md §4.5: "scanning the last 1000
// blocks' pending transactions").
type pendingTxRing struct {
	items []submitter.PendingTx
	cap   int
	next  int
	full  bool
}

func newPendingTxRing(capacity int) *pendingTxRing {
	return &pendingTxRing{items: make([]submitter.PendingTx, capacity), cap: capacity}
}

func (r *pendingTxRing) add(ptx submitter.PendingTx) {
	r.items[r.next] = ptx
	r.next = (r.next + 1) % r.cap
	if r.next == 0 {
		r.full = true
	}
}

func (r *pendingTxRing) snapshot() []submitter.PendingTx {
	if !r.full {
		out := make([]submitter.PendingTx, r.next)
		copy(out, r.items[:r.next])
		return out
	}
	out := make([]submitter.PendingTx, r.cap)
	copy(out, r.items[r.next:])
	copy(out[r.cap-r.next:], r.items[:r.next])
	return out
}

// Recent implements submitter.PendingTxFeed, letting the Submitter's
// sandwich detector scan straight off the Orchestrator's ingest buffer
// without a separate storage layer.
func (o *Orchestrator) Recent(chain domain.Chain) []submitter.PendingTx {
	o.mu.Lock()
	defer o.mu.Unlock()
	ring, ok := o.pendingTxRing[chain]
	if !ok {
		return nil
	}
	return ring.snapshot()
}
