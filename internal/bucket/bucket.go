// Package bucket implements the measurement-bucket subsystem of spec.md
// §4.4: FwdBucket, PathBucket, and CountBucket, their shared capture queue,
// and CountBucket's persistent-counter accounting across classifier
// reinstalls (spec.md §5's lock-plus-condition state machine).
package bucket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/marcelodevops/pyretic/internal/errors"
	"github.com/marcelodevops/pyretic/internal/header"
	"github.com/marcelodevops/pyretic/internal/logging"
)

// pullRateLimit bounds how often a single bucket's PullStats may actually
// reach the runtime; a burst of UI-triggered pulls collapses onto the
// persistent snapshot instead of re-issuing a query per click.
const pullRateLimit = 4 * time.Second

// FwdBucket drains captured packets and fires a callback on each, once a
// classifier evaluation delivers them (spec.md §4.4). It compiles to a
// Bucket(id) action that classifier.Sink dispatches by id, not to the
// Controller action; Apply drains the queue and fires each callback on each
// packet.
type FwdBucket struct {
	id string

	mu        sync.Mutex
	queue     []header.Packet
	callbacks []func(header.Packet)

	promDelivered prometheus.Counter
}

// NewFwdBucket allocates a bucket with a fresh identity and, if reg is
// non-nil, registers its delivery counter.
func NewFwdBucket(reg prometheus.Registerer) *FwdBucket {
	id := uuid.NewString()
	b := &FwdBucket{
		id: id,
		promDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pyretic_fwd_bucket_packets_delivered_total",
			Help:        "Total packets delivered to a FwdBucket's callbacks.",
			ConstLabels: prometheus.Labels{"bucket_id": id},
		}),
	}
	if reg != nil {
		reg.MustRegister(b.promDelivered)
	}
	return b
}

func (b *FwdBucket) BucketID() string { return b.id }

// Register subscribes a callback invoked once per delivered packet.
func (b *FwdBucket) Register(cb func(header.Packet)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

// Deliver enqueues a captured packet. It is the classifier.Sink entry point
// the dataplane glue calls when a rule's Bucket action names this bucket.
func (b *FwdBucket) Deliver(pkt header.Packet) {
	b.mu.Lock()
	b.queue = append(b.queue, pkt)
	b.mu.Unlock()
}

// Apply drains the capture queue and fires every registered callback on
// every queued packet, in arrival order.
func (b *FwdBucket) Apply() {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	callbacks := append([]func(header.Packet){}, b.callbacks...)
	b.mu.Unlock()

	for _, pkt := range pending {
		b.promDelivered.Inc()
		for _, cb := range callbacks {
			cb(pkt)
		}
	}
}

// state is the CountBucket update/accounting state machine of spec.md §9's
// design note: "Lock-plus-condition pattern across multiple external calls
// is best modeled as an explicit state machine".
type state int

const (
	stateIdle state = iota
	stateUpdating
)

// matchKey is the comparable form of a (match, priority, version) triple
// CountBucket keys its rule bookkeeping on (spec.md §4.4 step 1): Match.Match
// itself carries an unexported map and is not comparable, so its canonical
// string form stands in for equality.
type matchKey struct {
	match    string
	priority int
	version  int
}

type matchEntry struct {
	toBeDeleted  bool
	existingRule bool
}

// StatsEntry is one row of a flow-stats reply from a single switch
// (spec.md §6: handle_flow_stats_reply payload).
type StatsEntry struct {
	MatchStr    string
	Priority    int
	Version     int
	PacketCount uint64
	ByteCount   uint64
}

// Runtime is the narrow slice of the controller/runtime boundary a
// CountBucket calls out through (spec.md §6 "To the controller/runtime").
type Runtime interface {
	// IssueStatsQuery requests flow stats for bucketID from every switch
	// holding one of its matches, returning the switch IDs queried.
	IssueStatsQuery(bucketID string) []string
	// IssueExistingStatsQuery is the bootstrap variant scoped to rules that
	// predate the bucket (spec.md §4.4 step 6).
	IssueExistingStatsQuery(bucketID string) []string
}

// CountBucket implements spec.md §4.4's counting bucket: it is installed as
// switch-side match entries rather than capturing packets itself, and
// reconciles counters across classifier reinstalls using persistent totals.
type CountBucket struct {
	id      string
	runtime Runtime
	logger  *logging.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	state state

	matches     map[matchKey]*matchEntry
	outstanding map[string]bool

	persistentPackets uint64
	persistentBytes   uint64
	packets           uint64
	bytes             uint64

	newBucket bool
	callbacks []func(packets, bytes uint64)

	limiter *rate.Limiter

	promPackets prometheus.Gauge
	promBytes   prometheus.Gauge
}

// NewCountBucket allocates a CountBucket bound to runtime for issuing stats
// queries, optionally registering Prometheus gauges for its live totals.
func NewCountBucket(runtime Runtime, logger *logging.Logger, reg prometheus.Registerer) *CountBucket {
	if logger == nil {
		logger = logging.Default()
	}
	id := uuid.NewString()
	b := &CountBucket{
		id:          id,
		runtime:     runtime,
		logger:      logger,
		matches:     make(map[matchKey]*matchEntry),
		outstanding: make(map[string]bool),
		newBucket:   true,
		limiter:     rate.NewLimiter(rate.Every(pullRateLimit), 1),
		promPackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pyretic_count_bucket_packets",
			Help:        "Current lifetime packet total reported by a CountBucket.",
			ConstLabels: prometheus.Labels{"bucket_id": id},
		}),
		promBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pyretic_count_bucket_bytes",
			Help:        "Current lifetime byte total reported by a CountBucket.",
			ConstLabels: prometheus.Labels{"bucket_id": id},
		}),
	}
	b.cond = sync.NewCond(&b.mu)
	if reg != nil {
		reg.MustRegister(b.promPackets, b.promBytes)
	}
	return b
}

func (b *CountBucket) BucketID() string { return b.id }

// Register subscribes a callback invoked with the bucket's live totals
// whenever a pull completes.
func (b *CountBucket) Register(cb func(packets, bytes uint64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

// StartUpdate marks a classifier install/remove in progress, per spec.md
// §5: add_match/delete_match calls are bracketed by start_update/
// finish_update, and counter-event handlers block while it holds.
func (b *CountBucket) StartUpdate() {
	b.mu.Lock()
	b.state = stateUpdating
	b.mu.Unlock()
}

// FinishUpdate clears the in-progress flag and wakes every waiter. The
// first FinishUpdate of a bucket's life also triggers the existing-stats
// bootstrap query (step 6); a later FinishUpdate issues it again only while
// replies from the switches it queried are still outstanding.
func (b *CountBucket) FinishUpdate() {
	b.mu.Lock()
	b.state = stateIdle
	bootstrapping := b.newBucket
	b.cond.Broadcast()
	b.mu.Unlock()

	if bootstrapping && b.runtime != nil {
		switches := b.runtime.IssueExistingStatsQuery(b.id)
		b.mu.Lock()
		for _, sw := range switches {
			b.outstanding[sw] = true
		}
		if len(switches) == 0 {
			b.newBucket = false
		}
		b.mu.Unlock()
	}
}

func (b *CountBucket) waitIdleLocked() {
	for b.state == stateUpdating {
		b.cond.Wait()
	}
}

// AddMatch associates a (match, priority, version) rule with the bucket.
// Idempotent on a duplicate key, per spec.md §4.4 step 1.
func (b *CountBucket) AddMatch(matchStr string, priority, version int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := matchKey{matchStr, priority, version}
	if _, exists := b.matches[key]; exists {
		return
	}
	b.matches[key] = &matchEntry{}
}

// DeleteMatch flips the to_be_deleted flag for a match still tracked by the
// bucket; the entry stays until the switch confirms removal via
// HandleFlowRemoved (spec.md §4.4 step 2).
func (b *CountBucket) DeleteMatch(matchStr string, priority, version int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := matchKey{matchStr, priority, version}
	if e, ok := b.matches[key]; ok {
		e.toBeDeleted = true
	}
}

// HandleFlowRemoved processes a switch's final counter report for a match
// being torn down (spec.md §4.4 step 3).
func (b *CountBucket) HandleFlowRemoved(matchStr string, priority, version int, packetCount, byteCount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waitIdleLocked()
	key := matchKey{matchStr, priority, version}
	e, ok := b.matches[key]
	if !ok {
		return nil
	}
	if !e.toBeDeleted {
		return errors.Invariantf(errors.KindAccounting, "counter-accounting",
			"flow_removed for match not marked to_be_deleted: %s priority=%d version=%d", matchStr, priority, version)
	}
	if !e.existingRule {
		b.persistentPackets += packetCount
		b.persistentBytes += byteCount
	}
	delete(b.matches, key)
	return nil
}

// HandleExistingStatsReply seeds existing_rule accounting for matches that
// predate the bucket, per spec.md §4.4 step 6: the counters already
// reflect pre-bucket traffic, so they net out of persistent totals the
// first time they are later re-reported.
func (b *CountBucket) HandleExistingStatsReply(switchID string, entries []StatsEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, se := range entries {
		key := matchKey{se.MatchStr, se.Priority, se.Version}
		e, ok := b.matches[key]
		if !ok {
			continue
		}
		e.existingRule = true
		if b.persistentPackets >= se.PacketCount {
			b.persistentPackets -= se.PacketCount
		} else {
			b.persistentPackets = 0
		}
		if b.persistentBytes >= se.ByteCount {
			b.persistentBytes -= se.ByteCount
		} else {
			b.persistentBytes = 0
		}
	}
	delete(b.outstanding, switchID)
	if len(b.outstanding) == 0 {
		b.newBucket = false
	}
}

// PullStats requests current counts, firing registered callbacks once the
// result is known (spec.md §4.4 step 4). If no switches hold matches for
// this bucket, it resolves synchronously from persistent totals.
func (b *CountBucket) PullStats() {
	b.mu.Lock()
	b.waitIdleLocked()
	if len(b.matches) == 0 {
		packets, bytesTotal := b.persistentPackets, b.persistentBytes
		b.mu.Unlock()
		b.fireCallbacks(packets, bytesTotal)
		return
	}
	b.mu.Unlock()

	if b.runtime == nil {
		return
	}
	if !b.limiter.Allow() {
		b.logger.Debug("bucket: pull rate-limited, serving persistent snapshot", "bucket", b.id)
		b.mu.Lock()
		packets, bytesTotal := b.persistentPackets, b.persistentBytes
		b.mu.Unlock()
		b.fireCallbacks(packets, bytesTotal)
		return
	}
	switches := b.runtime.IssueStatsQuery(b.id)
	if len(switches) == 0 {
		b.mu.Lock()
		packets, bytesTotal := b.persistentPackets, b.persistentBytes
		b.mu.Unlock()
		b.fireCallbacks(packets, bytesTotal)
		return
	}
	b.mu.Lock()
	for _, sw := range switches {
		b.outstanding[sw] = true
	}
	b.mu.Unlock()
}

// HandleFlowStatsReply processes one switch's reply to a stats pull
// (spec.md §4.4 step 5), accumulating into the live snapshot and firing
// callbacks once every outstanding switch has replied.
func (b *CountBucket) HandleFlowStatsReply(switchID string, entries []StatsEntry) {
	b.mu.Lock()
	b.waitIdleLocked()
	for _, se := range entries {
		key := matchKey{se.MatchStr, se.Priority, se.Version}
		e, ok := b.matches[key]
		if !ok {
			continue
		}
		if e.existingRule {
			if b.persistentPackets >= se.PacketCount {
				b.persistentPackets -= se.PacketCount
			} else {
				b.persistentPackets = 0
			}
			if b.persistentBytes >= se.ByteCount {
				b.persistentBytes -= se.ByteCount
			} else {
				b.persistentBytes = 0
			}
			e.existingRule = false
			continue
		}
		b.packets += se.PacketCount
		b.bytes += se.ByteCount
	}
	delete(b.outstanding, switchID)
	done := len(b.outstanding) == 0
	var packets, bytesTotal uint64
	if done {
		packets = b.persistentPackets + b.packets
		bytesTotal = b.persistentBytes + b.bytes
		b.packets, b.bytes = 0, 0
	}
	b.mu.Unlock()

	if done {
		b.fireCallbacks(packets, bytesTotal)
	}
}

// GetMatches returns the match keys currently tracked, blocking while an
// update is in progress (spec.md §5).
func (b *CountBucket) GetMatches() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waitIdleLocked()
	out := make([]string, 0, len(b.matches))
	for k := range b.matches {
		out = append(out, k.match)
	}
	return out
}

func (b *CountBucket) fireCallbacks(packets, bytesTotal uint64) {
	b.promPackets.Set(float64(packets))
	b.promBytes.Set(float64(bytesTotal))
	b.mu.Lock()
	callbacks := append([]func(uint64, uint64){}, b.callbacks...)
	b.mu.Unlock()
	for _, cb := range callbacks {
		cb(packets, bytesTotal)
	}
}
