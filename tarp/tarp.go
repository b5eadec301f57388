// Copyright (c) 2020-2023, The OTNS Authors.
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the distribution.
// 3. Neither the name of the copyright holder nor the
//    names of its contributors may be used to endorse or promote products
//    derived from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
// ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
// LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
// CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
// SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
// CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
// ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
// POSSIBILITY OF SUCH DAMAGE.

// Package tarp implements a tree-based any-to-any routing protocol: epoch-
// driven beacons, ETX-weighted parent selection with hysteresis, fragmented
// topology reports propagated up the tree, and reactive recovery when a
// node's parent link is lost. The protocol's structure -- neighbor table,
// epoch counters, report buffering -- is grounded directly on the reference
// TARP implementation's entity/state layout.
package tarp

import (
	"math"
	"sort"
	"time"

	"github.com/wsnsim/wsnsim/internal/logging"
	"github.com/wsnsim/wsnsim/kernel"
	"github.com/wsnsim/wsnsim/phy"
	"github.com/wsnsim/wsnsim/prng"
	"github.com/wsnsim/wsnsim/signals"
)

// sortedNeighborAddrs returns the neighbor table's keys in ascending order.
// Go's map iteration order is randomized per process; several callers below
// fold over the neighbor table in a way that is observable externally
// (which tied candidate parent wins, in what order REMOVE deltas land in a
// report) and must not depend on that randomization to stay
// bit-reproducible run to run (spec.md §5, §8).
func (t *Instance) sortedNeighborAddrs() []phy.LinkAddr {
	addrs := make([]phy.LinkAddr, 0, len(t.neighbors))
	for addr := range t.neighbors {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Parameters bundles the protocol's fixed constants, matching the reference
// implementation's TARPParameters dataclass.
type Parameters struct {
	MaxStatPerFragment     int
	MaxPathLength          int
	CleanupInterval        time.Duration
	EntryExpirationTime    time.Duration
	TreeBeaconInterval     time.Duration
	SubtreeReportOffset    time.Duration
	SubtreeReportDelay     time.Duration
	SubtreeReportMaxJitter time.Duration
	InitialReportMaxJitter time.Duration
	InitialReportBaseDelay time.Duration
	RSSILowThr             float64
	RSSIHighRef            float64
	DeltaETXMin            float64
	ThrH                   float64
	Alpha                  float64
	TreeBeaconFwdMaxJitter time.Duration
	TreeBeaconFwdBaseDelay time.Duration
}

// DefaultParameters mirrors the reference implementation's constants
// exactly.
func DefaultParameters() Parameters {
	beacon := 60 * time.Second
	return Parameters{
		MaxStatPerFragment:     37,
		MaxPathLength:          40,
		CleanupInterval:        15 * time.Second,
		EntryExpirationTime:    90 * time.Second,
		TreeBeaconInterval:     beacon,
		SubtreeReportOffset:    beacon / 3,
		SubtreeReportDelay:     100 * time.Millisecond,
		SubtreeReportMaxJitter: 100 * time.Millisecond,
		InitialReportMaxJitter: 400 * time.Millisecond,
		InitialReportBaseDelay: 5 * time.Second,
		RSSILowThr:             -85,
		RSSIHighRef:            -35,
		DeltaETXMin:            0.3,
		ThrH:                   50,
		Alpha:                  0.5,
		TreeBeaconFwdMaxJitter: 125 * time.Millisecond,
		TreeBeaconFwdBaseDelay: 100 * time.Millisecond,
	}
}

// ALWAYS_VALID_AGE / ALWAYS_INVALID_AGE sentinel ages, named in Go style.
const (
	alwaysValidAge   = math.MaxFloat64
	alwaysInvalidAge = -1.0
)

// RouteType is the kind of relationship a neighbor-table entry records.
type RouteType int

const (
	RouteParent RouteType = iota
	RouteChild
	RouteDescendant
	RouteNeighbor
)

// NeighborEntry is one row of a node's neighbor/routing table (spec.md
// §3's "Neighbor table" data model): at most one PARENT entry ever exists;
// every DESCENDANT's NextHop equals some CHILD address.
type NeighborEntry struct {
	Addr       phy.LinkAddr
	Type       RouteType
	Metric     float64 // advertised metric (beacon sender's own cost to sink)
	ETX        float64
	RSSI       float64
	NumTx      int
	NumAck     int
	Age        float64 // seconds since last refresh; alwaysValidAge/alwaysInvalidAge are sentinels
	NextHop    phy.LinkAddr
	HopsToSink uint8
}

// etxFromRSSI implements the piecewise-linear ETX estimator: strong links
// (RSSI >= RSSIHighRef) map to 1, weak ones (RSSI <= RSSILowThr) map to 10,
// and the region between is linear.
func etxFromRSSI(rssi, rssiHighRef, rssiLowThr float64) float64 {
	if rssi >= rssiHighRef {
		return 1
	}
	if rssi <= rssiLowThr {
		return 10
	}
	frac := (rssiHighRef - rssi) / (rssiHighRef - rssiLowThr)
	return 1 + frac*9
}

// etxUpdate implements the EWMA-vs-RSSI-reset update rule: when there have
// been acknowledged transmissions and alpha != 1, blend the old ETX with a
// fresh transmission-ratio estimate; otherwise fall back to an RSSI-only
// estimate (spec.md §4.7's "if no ACKs, reset to the RSSI estimate").
func etxUpdate(numTx, numAck int, oldETX, rssi, alpha, rssiHighRef, rssiLowThr float64) float64 {
	if numAck > 0 && alpha != 1 {
		fresh := float64(numTx) / float64(numAck)
		return alpha*oldETX + (1-alpha)*fresh
	}
	return etxFromRSSI(rssi, rssiHighRef, rssiLowThr)
}

func metric(advMetric, etx float64) float64 {
	return advMetric + etx
}

// metricImprovementThreshold is the minimum margin a candidate parent's
// metric must beat the current parent's by before a switch is worthwhile
// (the hysteresis term of spec.md §4.7).
func metricImprovementThreshold(curMetric, thrH, deltaETXMin float64) float64 {
	if curMetric <= 0 {
		return math.Inf(1)
	}
	return math.Max(thrH/curMetric, deltaETXMin)
}

func preferred(newMetric, curMetric, thrH, deltaETXMin float64) bool {
	return newMetric+metricImprovementThreshold(curMetric, thrH, deltaETXMin) < curMetric
}

func entryValid(age, expiration float64) bool {
	if age == alwaysValidAge {
		return true
	}
	if age == alwaysInvalidAge {
		return false
	}
	return age < expiration
}

// StatDelta is one line of a topology report: an add or remove of a
// descendant relative to the reporting node's subtree.
type StatDelta struct {
	Addr   phy.LinkAddr
	Status DeltaStatus
	Metric float64
}

type DeltaStatus int

const (
	StatusAdd DeltaStatus = iota
	StatusRemove
)

// MACSender is the subset of the MAC layer TARP drives.
type MACSender interface {
	Send(dst phy.LinkAddr, payload []byte)
}

// AppNotifiee receives delivered application payloads addressed to this
// node, and delivery-outcome notifications for packets this node
// originated.
type AppNotifiee interface {
	OnDataDelivered(src phy.LinkAddr, payload []byte, hops uint8)
	OnSendResult(dst phy.LinkAddr, ok bool)
}

// Instance is one node's TARP routing layer.
type Instance struct {
	self   phy.LinkAddr
	isRoot bool
	params Parameters

	kq   *kernel.Queue
	mac  MACSender
	app  AppNotifiee
	jRng *prng.Stream
	bus  *signals.Bus
	id   signals.NodeID

	epoch        int
	parent       phy.LinkAddr
	hasParent    bool
	parentMetric float64
	hops         uint8

	neighbors map[phy.LinkAddr]*NeighborEntry

	// periodicReportArmed guards against starting a second concurrent
	// periodic-report timer chain across repeated parent changes: the
	// recurring keep-alive timer, once armed, reschedules itself forever.
	periodicReportArmed bool

	// pendingOrder/pendingStatus together implement spec.md §3's
	// topology-report buffer: an ORDERED mapping from address to status --
	// insertion order is tracked explicitly since Go maps don't preserve
	// one, which matters for fragment boundaries being stable run to run.
	pendingOrder  []phy.LinkAddr
	pendingStatus map[phy.LinkAddr]StatDelta
}

// New constructs a TARP instance. isRoot marks the tree's sink (the root
// has no parent and originates epochs; epoch 0 is never a real epoch --
// the first real epoch broadcast is 1). id and bus wire the instance into
// the observer bus (spec.md §4 row 8); bus may be nil in tests that don't
// care about signals.
func New(self phy.LinkAddr, isRoot bool, params Parameters, kq *kernel.Queue, mac MACSender, app AppNotifiee, jitterRng *prng.Stream, id signals.NodeID, bus *signals.Bus) *Instance {
	t := &Instance{
		self: self, isRoot: isRoot, params: params,
		kq: kq, mac: mac, app: app, jRng: jitterRng, id: id, bus: bus,
		neighbors:     map[phy.LinkAddr]*NeighborEntry{},
		pendingStatus: map[phy.LinkAddr]StatDelta{},
	}
	if isRoot {
		t.epoch = 0
		t.hasParent = true // root is its own source of truth, never seeks a parent
	} else {
		t.parentMetric = math.Inf(1)
		t.hops = uint8(params.MaxPathLength + 1)
	}
	return t
}

// HasParent reports whether this node currently has a parent in the tree
// (always true for the root). A monitor or test uses this to check tree
// connectivity without reaching into unexported fields.
func (t *Instance) HasParent() bool { return t.hasParent }

// ParentAddr returns this node's current parent link address. Its value is
// meaningless when HasParent reports false.
func (t *Instance) ParentAddr() phy.LinkAddr { return t.parent }

// SetApp wires the application layer above TARP once it exists. The
// application's own constructor typically needs a Net handle bound to this
// very Instance, so sim.Simulation constructs TARP with app=nil and fixes
// it up here after building the application.
func (t *Instance) SetApp(app AppNotifiee) { t.app = app }

func (t *Instance) emit(s signals.Signal) {
	if t.bus != nil {
		t.bus.Emit(s)
	}
}

// Start schedules the initial beacon (root only) and the periodic cleanup
// pass every node runs.
func (t *Instance) Start() {
	if t.isRoot {
		t.scheduleBeacon(0)
	}
	t.scheduleCleanup()
}

func (t *Instance) scheduleCleanup() {
	at := t.kq.Now() + uint64(t.params.CleanupInterval.Microseconds())
	t.kq.Schedule(kernel.NewEvent(at, 90, func() {
		t.doCleanup()
		t.scheduleCleanup()
	}))
}

func (t *Instance) scheduleBeacon(delay time.Duration) {
	at := t.kq.Now() + uint64(delay.Microseconds())
	t.kq.Schedule(kernel.NewEvent(at, 50, t.sendBeacon))
}

// sendBeacon advances the epoch (root only), resets the sink's own state
// for the new epoch, and broadcasts the tree beacon carrying
// {epoch, metric, hops, parent}.
func (t *Instance) sendBeacon() {
	if t.isRoot {
		t.epoch++
		t.resetForNewEpoch()
		t.emit(signals.TarpSignal{Node: t.id, Kind: signals.TarpEpochBump, Epoch: t.epoch})
	}
	payload := encodeBeacon(t.epoch, t.currentMetric(), t.hops, t.parent)
	t.mac.Send(phy.BroadcastAddr, payload)
	if t.isRoot {
		t.scheduleBeacon(t.params.TreeBeaconInterval)
	}
}

// resetForNewEpoch implements spec.md §4.7's epoch-reset recipe for a sink
// starting a fresh tree: children and the old parent (n/a for the sink) are
// downgraded to NEIGHBOR, descendants are flagged always-invalid-age for
// the next cleanup sweep, and the pending report buffer is flushed (the
// sink never sends reports, but keeping the recipe uniform costs nothing).
func (t *Instance) resetForNewEpoch() {
	for _, nb := range t.neighbors {
		switch nb.Type {
		case RouteChild, RouteParent:
			nb.Type = RouteNeighbor
			nb.Age = alwaysInvalidAge
		case RouteDescendant:
			nb.Age = alwaysInvalidAge
		}
	}
	t.pendingOrder = nil
	t.pendingStatus = map[phy.LinkAddr]StatDelta{}
}

func (t *Instance) currentMetric() float64 {
	if t.isRoot {
		return 0
	}
	if !t.hasParent {
		return math.Inf(1)
	}
	return t.parentMetric
}

// OnMacReceive implements mac.NetNotifiee for TARP-framed payloads,
// dispatching on the leading wire-kind byte.
func (t *Instance) OnMacReceive(src phy.LinkAddr, payload []byte, rssiDbm float64) {
	k, rest := decodeKind(payload)
	switch k {
	case kindBeacon:
		epoch, advMetric, hops, parent := decodeBeacon(rest)
		t.onBeacon(src, epoch, advMetric, hops, parent, rssiDbm)
	case kindReport:
		t.onReport(src, rest, rssiDbm)
	case kindData:
		t.onData(src, rest)
	}
}

// onBeacon implements spec.md §4.7's parent-selection algorithm on beacon
// receipt, steps 1-6, in order:
//  1. drop silently on weak RSSI, or (non-sink) a stale epoch;
//  2. adopt a strictly newer epoch, resetting connection state first;
//  3. insert/refresh the sender's neighbor entry;
//  4. a same-epoch re-hearing of the current parent only refreshes;
//  5. otherwise adopt if the candidate metric is preferred, with
//     hysteresis, scheduling a beacon forward and the first topology report;
//  6. otherwise, track whether the sender claims this node as its own
//     parent, promoting/demoting it to/from CHILD accordingly.
func (t *Instance) onBeacon(src phy.LinkAddr, epoch int, advMetric float64, senderHops uint8, senderParent phy.LinkAddr, rssiDbm float64) {
	if t.isRoot {
		return
	}
	if rssiDbm < t.params.RSSILowThr {
		return // step 1: too weak to trust
	}
	// Open question (spec.md §9): epoch comparison uses ">", but a fresh
	// node's self.epoch starts at 0, which is smaller than any real epoch;
	// self.epoch==0 is special-cased to behave like "epoch > self.epoch"
	// rather than being silently dropped as stale, mirroring the reference
	// implementation's elif branch.
	isNewEpoch := epoch > t.epoch || t.epoch == 0
	if !isNewEpoch && epoch < t.epoch {
		return // step 1: stale epoch from a non-reset neighbor
	}
	if isNewEpoch {
		t.resetConnectionStatus()
		t.epoch = epoch
	}

	nb := t.touchNeighbor(src, RouteNeighbor)
	nb.Metric = advMetric
	nb.RSSI = rssiDbm
	nb.HopsToSink = senderHops
	if nb.ETX == 0 {
		nb.ETX = etxFromRSSI(rssiDbm, t.params.RSSIHighRef, t.params.RSSILowThr)
	}
	candidateMetric := metric(advMetric, nb.ETX)

	reForward := false
	if t.hasParent && src == t.parent && epoch == t.epoch {
		// step 4: same-epoch re-hearing of the current parent -- refresh only.
		t.parentMetric = candidateMetric
		t.hops = senderHops + 1
	} else if !t.hasParent || preferred(candidateMetric, t.parentMetric, t.params.ThrH, t.params.DeltaETXMin) {
		// step 5.
		t.changeParent(src, candidateMetric, senderHops+1)
		reForward = true
	}

	// step 6: track whether the sender claims this node as its parent.
	claimsUs := senderParent == t.self
	if claimsUs {
		t.promoteChild(src)
	} else if existing, ok := t.neighbors[src]; ok && existing.Type == RouteChild {
		t.demoteChild(src)
	}

	if reForward && t.hasParent {
		at := t.params.TreeBeaconFwdBaseDelay + jitter(t.jRng, t.params.TreeBeaconFwdMaxJitter)
		t.scheduleForwardBeacon(at)
	}
}

// resetConnectionStatus implements the non-sink half of spec.md §4.7's
// epoch-reset recipe: children and the old parent are downgraded to
// NEIGHBOR, descendants are flagged always-invalid-age, the outgoing
// report buffer is flushed, and self metric/hops reset to "disconnected".
func (t *Instance) resetConnectionStatus() {
	for _, nb := range t.neighbors {
		switch nb.Type {
		case RouteChild, RouteParent:
			nb.Type = RouteNeighbor
			nb.Age = alwaysInvalidAge
		case RouteDescendant:
			nb.Age = alwaysInvalidAge
		}
	}
	t.pendingOrder = nil
	t.pendingStatus = map[phy.LinkAddr]StatDelta{}
	t.hasParent = false
	t.parentMetric = math.Inf(1)
	t.hops = uint8(t.params.MaxPathLength + 1)
}

func (t *Instance) scheduleForwardBeacon(delay time.Duration) {
	at := t.kq.Now() + uint64(delay.Microseconds())
	epoch, advMetric, hops, parent := t.epoch, t.currentMetric(), t.hops, t.parent
	t.kq.Schedule(kernel.NewEvent(at, 50, func() {
		if !t.hasParent {
			return
		}
		payload := encodeBeacon(epoch, advMetric, hops, parent)
		t.mac.Send(phy.BroadcastAddr, payload)
	}))
}

func (t *Instance) changeParent(addr phy.LinkAddr, candidateMetric float64, newHops uint8) {
	oldParent := t.parent
	// The active (non-commented-out) variant per spec.md §9: demote the
	// old parent to a plain NEIGHBOR with invalid age rather than deleting
	// it outright, so it stays reachable until refreshed or expired.
	if t.hasParent {
		if old, ok := t.neighbors[t.parent]; ok {
			old.Type = RouteNeighbor
			old.Age = alwaysInvalidAge
		}
	}
	t.parent = addr
	t.hasParent = true
	t.parentMetric = candidateMetric
	t.hops = newHops
	if nb, ok := t.neighbors[addr]; ok {
		nb.Type = RouteParent
	}
	t.emit(signals.TarpSignal{Node: t.id, Kind: signals.TarpParentChange, Epoch: t.epoch, Peer: uint16(addr), OldPeer: uint16(oldParent), Metric: candidateMetric, Hops: newHops})
	t.scheduleInitialReport()
	if !t.periodicReportArmed {
		t.periodicReportArmed = true
		t.schedulePeriodicReport()
	}
}

func (t *Instance) promoteChild(addr phy.LinkAddr) {
	nb, ok := t.neighbors[addr]
	if !ok || nb.Type == RouteChild {
		return
	}
	nb.Type = RouteChild
	t.enqueueDelta(addr, StatusAdd, nb.Metric)
}

func (t *Instance) demoteChild(addr phy.LinkAddr) {
	nb, ok := t.neighbors[addr]
	if !ok {
		return
	}
	nb.Type = RouteNeighbor
	t.enqueueDelta(addr, StatusRemove, 0)
}

func (t *Instance) touchNeighbor(addr phy.LinkAddr, defaultType RouteType) *NeighborEntry {
	nb, ok := t.neighbors[addr]
	if !ok {
		nb = &NeighborEntry{Addr: addr, Type: defaultType}
		t.neighbors[addr] = nb
	}
	nb.Age = 0
	return nb
}

// enqueueDelta records (or overwrites) a pending add/remove for addr in
// the outgoing topology-report buffer, preserving first-seen order for
// stable fragment boundaries.
func (t *Instance) enqueueDelta(addr phy.LinkAddr, status DeltaStatus, metric float64) {
	if _, exists := t.pendingStatus[addr]; !exists {
		t.pendingOrder = append(t.pendingOrder, addr)
	}
	t.pendingStatus[addr] = StatDelta{Addr: addr, Status: status, Metric: metric}
}

func (t *Instance) drainPending() []StatDelta {
	out := make([]StatDelta, 0, len(t.pendingOrder))
	for _, addr := range t.pendingOrder {
		out = append(out, t.pendingStatus[addr])
	}
	t.pendingOrder = nil
	t.pendingStatus = map[phy.LinkAddr]StatDelta{}
	return out
}

// OnMacSent implements mac.NetNotifiee, rolling the per-neighbor
// transmission/ack counters into the ETX estimate and triggering reactive
// recovery when the parent link itself fails outright.
func (t *Instance) OnMacSent(dst phy.LinkAddr, seq byte, ok bool, retries int, ackRSSIDbm float64) {
	nb, exists := t.neighbors[dst]
	if !exists {
		t.app.OnSendResult(dst, ok)
		return
	}
	nb.NumTx += 1 + retries
	if ok {
		nb.NumAck++
		nb.RSSI = ackRSSIDbm
	}
	nb.ETX = etxUpdate(nb.NumTx, nb.NumAck, nb.ETX, nb.RSSI, t.params.Alpha, t.params.RSSIHighRef, t.params.RSSILowThr)

	if !ok {
		nb.Age = alwaysInvalidAge // flagged for eviction on the next cleanup sweep
		if dst == t.parent {
			t.onParentUnreachable()
		}
	}
	t.app.OnSendResult(dst, ok)
}

// onParentUnreachable implements reactive recovery: the parent link just
// failed outright (ACK exhaustion to the parent), so the node immediately
// tries to pick a replacement from its neighbor table rather than waiting
// for the next beacon epoch.
func (t *Instance) onParentUnreachable() {
	if nb, ok := t.neighbors[t.parent]; ok {
		nb.Type = RouteNeighbor
		nb.Age = alwaysInvalidAge
	}
	t.reselectParent()
}

// reselectParent implements spec.md §4.7's "Cleanup" reactive-parent-change
// recipe: pick the NEIGHBOR with the smallest advertised_metric+etx; if
// none exists, become an orphan.
func (t *Instance) reselectParent() {
	var best *NeighborEntry
	bestScore := math.Inf(1)
	for _, addr := range t.sortedNeighborAddrs() {
		nb := t.neighbors[addr]
		if nb.Type != RouteNeighbor || !entryValid(nb.Age, t.params.EntryExpirationTime.Seconds()) {
			continue
		}
		score := nb.Metric + nb.ETX
		if score < bestScore {
			bestScore = score
			best = nb
		}
	}
	if best == nil {
		t.hasParent = false
		t.parentMetric = math.Inf(1)
		t.hops = uint8(t.params.MaxPathLength + 1)
		t.emit(signals.TarpSignal{Node: t.id, Kind: signals.TarpOrphaned, Epoch: t.epoch})
		return
	}
	t.changeParent(best.Addr, bestScore, best.HopsToSink+1)
}

func (t *Instance) scheduleInitialReport() {
	hops := t.hops
	if hops == 0 {
		hops = 1
	}
	delay := time.Duration(5.0/float64(hops)*float64(time.Second)) + jitter(t.jRng, t.params.InitialReportMaxJitter)
	at := t.kq.Now() + uint64(delay.Microseconds())
	t.kq.Schedule(kernel.NewEvent(at, 60, t.sendReport))
}

func (t *Instance) sendReport() {
	if !t.hasParent || t.isRoot {
		return
	}
	deltas := t.drainPending()
	fragments := fragment(deltas, t.params.MaxStatPerFragment)
	if len(fragments) == 0 {
		fragments = [][]StatDelta{nil} // empty report as keep-alive
	}
	for i, frag := range fragments {
		delay := time.Duration(i) * 20 * time.Millisecond
		at := t.kq.Now() + uint64(delay.Microseconds())
		payload := encodeReport(frag)
		t.kq.Schedule(kernel.NewEvent(at, 60, func() {
			t.mac.Send(t.parent, payload)
		}))
	}
	t.emit(signals.TarpSignal{Node: t.id, Kind: signals.TarpReportSent, Epoch: t.epoch, Peer: uint16(t.parent)})
}

// schedulePeriodicReport arms the recurring keep-alive/delta report timer,
// per spec.md's depth-staggered interval SUBTREE_REPORT_OFFSET*(1+1/hops).
func (t *Instance) schedulePeriodicReport() {
	if t.isRoot {
		return
	}
	hops := t.hops
	if hops == 0 {
		hops = 1
	}
	interval := time.Duration(float64(t.params.SubtreeReportOffset) * (1 + 1/float64(hops)))
	delay := interval + jitter(t.jRng, t.params.SubtreeReportMaxJitter)
	at := t.kq.Now() + uint64(delay.Microseconds())
	t.kq.Schedule(kernel.NewEvent(at, 61, func() {
		t.sendReport()
		t.schedulePeriodicReport()
	}))
}

func fragment(deltas []StatDelta, maxPerFragment int) [][]StatDelta {
	if maxPerFragment <= 0 {
		maxPerFragment = 1
	}
	var out [][]StatDelta
	for len(deltas) > 0 {
		n := maxPerFragment
		if n > len(deltas) {
			n = len(deltas)
		}
		out = append(out, deltas[:n])
		deltas = deltas[n:]
	}
	return out
}

// onReport implements spec.md §4.7's "Report processing": an unknown
// sender is reactively inserted as a CHILD (a deliberate repair enabling
// tree formation despite asymmetric beacon hearing); each delta updates
// the neighbor table; the aggregated deltas are re-buffered to forward
// toward this node's own parent within SUBTREE_REPORT_DELAY.
func (t *Instance) onReport(src phy.LinkAddr, payload []byte, rssiDbm float64) {
	nb, ok := t.neighbors[src]
	if !ok {
		nb = t.touchNeighbor(src, RouteChild)
		nb.ETX = etxFromRSSI(rssiDbm, t.params.RSSIHighRef, t.params.RSSILowThr)
		nb.RSSI = rssiDbm
	}
	nb.Type = RouteChild
	nb.Age = 0

	deltas := decodeReport(payload)
	for _, d := range deltas {
		switch d.Status {
		case StatusAdd:
			t.neighbors[d.Addr] = &NeighborEntry{Addr: d.Addr, Type: RouteDescendant, Metric: d.Metric, NextHop: src, Age: alwaysValidAge}
		case StatusRemove:
			delete(t.neighbors, d.Addr)
		}
		t.enqueueDelta(d.Addr, d.Status, d.Metric)
	}
	if !t.isRoot {
		t.scheduleSubtreeReport()
	}
}

func (t *Instance) scheduleSubtreeReport() {
	delay := t.params.SubtreeReportDelay + jitter(t.jRng, t.params.SubtreeReportMaxJitter)
	at := t.kq.Now() + uint64(delay.Microseconds())
	t.kq.Schedule(kernel.NewEvent(at, 60, t.sendReport))
}

// Send originates an application payload toward dst, returning whether a
// route was found (spec.md §6's App→Net "send(payload, dst) -> bool", the
// application's cue to retry). No packet is retransmitted above the MAC
// layer; a false return is terminal for this attempt.
func (t *Instance) Send(dst phy.LinkAddr, payload []byte) bool {
	if dst == t.self {
		return false
	}
	if !t.isRoot && !t.hasParent {
		t.emit(signals.TarpSignal{Node: t.id, Kind: signals.TarpDrop, DropCause: signals.DropNoParent})
		return false
	}
	nextHop := t.lookup(dst)
	if nextHop == 0 {
		t.emit(signals.TarpSignal{Node: t.id, Kind: signals.TarpDrop, DropCause: signals.DropNoRoute})
		return false
	}
	t.mac.Send(nextHop, encodeData(dst, 1, payload))
	return true
}

// lookup resolves the next hop toward dst: if dst is a valid CHILD or
// DESCENDANT entry, that entry's NextHop (or dst itself when none is
// recorded); otherwise, including for NEIGHBOR entries, the parent (which
// always knows a route closer to the root). The root, with no parent,
// falls back to address 0 (no route) in that case.
func (t *Instance) lookup(dst phy.LinkAddr) phy.LinkAddr {
	nb, ok := t.neighbors[dst]
	if ok && entryValid(nb.Age, t.params.EntryExpirationTime.Seconds()) {
		switch nb.Type {
		case RouteChild, RouteDescendant:
			if nb.NextHop != 0 {
				return nb.NextHop
			}
			return dst
		}
	}
	if t.isRoot {
		return 0 // root has no parent to fall back to: genuinely no route
	}
	return t.parent
}

// onData implements DATA forwarding: hop-count increments on every
// forward, dropping packets that would exceed MAX_PATH_LENGTH; packets
// addressed to this node are delivered to the application with the final
// hop count.
func (t *Instance) onData(src phy.LinkAddr, rest []byte) {
	dst, hops, payload, ok := decodeData(rest)
	if !ok {
		t.emit(signals.TarpSignal{Node: t.id, Kind: signals.TarpDrop, DropCause: signals.DropUnknownSender})
		return
	}
	if dst == t.self {
		t.app.OnDataDelivered(src, payload, hops)
		return
	}
	if int(hops) > t.params.MaxPathLength {
		t.emit(signals.TarpSignal{Node: t.id, Kind: signals.TarpDrop, DropCause: signals.DropMaxHops, Hops: hops})
		return
	}
	nextHop := t.lookup(dst)
	if nextHop == 0 {
		t.emit(signals.TarpSignal{Node: t.id, Kind: signals.TarpDrop, DropCause: signals.DropNoRoute})
		return
	}
	t.mac.Send(nextHop, encodeData(dst, hops+1, payload))
}

// doCleanup implements spec.md §4.7's periodic sweep: entries whose age
// has exceeded ENTRY_EXPIRATION_TIME are expired. Expiring a CHILD removes
// its entire subtree (every entry whose NextHop is that child) and emits
// REMOVE deltas for each; expiring the PARENT triggers reactive parent
// reselection.
func (t *Instance) doCleanup() {
	var expiredChildren, expiredParent []phy.LinkAddr
	for _, addr := range t.sortedNeighborAddrs() {
		nb := t.neighbors[addr]
		if nb.Age == alwaysValidAge {
			continue
		}
		if nb.Age != alwaysInvalidAge {
			nb.Age += t.params.CleanupInterval.Seconds()
		}
		if entryValid(nb.Age, t.params.EntryExpirationTime.Seconds()) {
			continue
		}
		switch nb.Type {
		case RouteChild:
			expiredChildren = append(expiredChildren, addr)
		case RouteParent:
			expiredParent = append(expiredParent, addr)
		default:
			delete(t.neighbors, addr)
		}
	}
	for _, addr := range expiredChildren {
		t.expireSubtree(addr)
	}
	if len(expiredParent) > 0 {
		delete(t.neighbors, t.parent)
		t.reselectParent()
	}
	logging.AssertTruef(t.epoch >= 0, "tarp: epoch went negative")
}

// expireSubtree removes a CHILD and every DESCENDANT whose next hop was
// that child, enqueueing REMOVE deltas for each so the loss propagates
// upward in the next report.
func (t *Instance) expireSubtree(child phy.LinkAddr) {
	delete(t.neighbors, child)
	t.enqueueDelta(child, StatusRemove, 0)
	for _, addr := range t.sortedNeighborAddrs() {
		nb, ok := t.neighbors[addr]
		if ok && nb.Type == RouteDescendant && nb.NextHop == child {
			delete(t.neighbors, addr)
			t.enqueueDelta(addr, StatusRemove, 0)
		}
	}
	if !t.isRoot && t.hasParent {
		t.scheduleSubtreeReport()
	}
}

func jitter(rng *prng.Stream, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rng.Uniform() * float64(max))
}
