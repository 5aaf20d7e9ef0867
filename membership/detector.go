package membership

import (
	"context"
	"fmt"
	"sync"
	"time"
)

/*
Failure Detector

Runs one of four protocols, switchable at runtime:

	GOSSIP_WITH_SUSPICION   periodic full-list gossip, SUSPECT before DEAD
	PINGACK_WITH_SUSPICION  direct ping/ack rounds, SUSPECT before DEAD
	GOSSIP                  periodic full-list gossip, straight to DEAD
	PINGACK                 direct ping/ack rounds, straight to DEAD

All protocols share the membership list, the incarnation-based refutation
rules, and the join/leave/switch machinery, so a cluster can change
protocols on the fly with a single SWITCH broadcast.
*/

// Protocol timing. Timeouts are measured against each entry's LocalTime,
// which every update refreshes.
const (
	HeartbeatPeriod = 1 * time.Second
	PingPeriod      = 1 * time.Second
	TTimeout        = 2 * time.Second
	TFail           = 2 * time.Second
	TCleanup        = 2 * time.Second
	KPeers          = 3

	joinAckWait = 500 * time.Millisecond
)

// SendFunc transmits a raw datagram to host:port. Delivery is best
// effort; the detector never waits on a send.
type SendFunc func(addr string, payload []byte)

// Detector drives the failure detection protocol for one node.
type Detector struct {
	self NodeId
	list *MembershipList
	send SendFunc
	logf func(format string, args ...interface{})

	mu             sync.Mutex
	mode           Mode
	left           bool
	acks           map[string]int64 // node id -> unix ms of last ACK
	awaitingJoin   bool
	introducerAddr string
	joinAck        chan Mode

	onJoin   func(NodeId)
	onRemove func(NodeId)
}

// NewDetector creates a detector whose membership list contains only the
// local node. Hooks may be nil.
func NewDetector(self NodeId, mode Mode, send SendFunc, logf func(string, ...interface{})) *Detector {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	d := &Detector{
		self:    self,
		list:    NewMembershipList(),
		send:    send,
		logf:    logf,
		mode:    mode,
		acks:    make(map[string]int64),
		joinAck: make(chan Mode, 1),
	}
	d.list.Add(MembershipInfo{
		ID:          self,
		Status:      Alive,
		Mode:        mode,
		Incarnation: 0,
		Heartbeat:   0,
	})
	return d
}

// SetHooks registers callbacks for membership changes. onJoin fires when
// a new member is learned, onRemove after a member is cleaned out of the
// list. Both run outside the detector's lock.
func (d *Detector) SetHooks(onJoin, onRemove func(NodeId)) {
	d.onJoin = onJoin
	d.onRemove = onRemove
}

// Self returns the local node's id.
func (d *Detector) Self() NodeId {
	return d.self
}

// List exposes the membership list.
func (d *Detector) List() *MembershipList {
	return d.list
}

// Mode returns the current failure detection mode.
func (d *Detector) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// HasLeft reports whether the node has voluntarily left the cluster.
func (d *Detector) HasLeft() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.left
}

// Run drives the protocol until the context is cancelled or the node
// leaves. Gossip modes tick every HeartbeatPeriod; ping-ack modes run a
// ping round (which sleeps TTimeout internally) and then sleep PingPeriod
// before the next one.
func (d *Detector) Run(ctx context.Context) {
	d.logf("failure detector running in %s mode", d.Mode())
	for {
		if ctx.Err() != nil || d.HasLeft() {
			return
		}
		if d.Mode().IsGossip() {
			if !sleepCtx(ctx, HeartbeatPeriod) {
				return
			}
			d.gossipRound()
		} else {
			d.pingRound(ctx)
			if !sleepCtx(ctx, PingPeriod) {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// gossipRound bumps the local heartbeat, ages out peers, and gossips the
// full membership snapshot to K random alive peers.
func (d *Detector) gossipRound() {
	d.list.Apply(d.self, func(info *MembershipInfo) {
		info.Heartbeat++
	})
	d.sweep(d.Mode().Suspicion())

	msg := &Message{Type: MsgGossip, Entries: d.list.Snapshot()}
	payload := msg.Encode()
	for _, peer := range d.list.SelectKRandom(KPeers, d.self) {
		d.send(peer.ID.Addr(), payload)
	}
}

// sweep applies the timeout state machine to every non-self member.
func (d *Detector) sweep(suspicion bool) {
	now := time.Now().UnixMilli()
	for _, info := range d.list.Snapshot() {
		if info.ID == d.self {
			continue
		}
		elapsed := time.Duration(now-info.LocalTime) * time.Millisecond
		switch info.Status {
		case Alive:
			if elapsed <= TFail {
				continue
			}
			if suspicion {
				d.logf("suspecting %s (silent for %v)", info.ID, elapsed.Round(time.Millisecond))
				d.list.UpdateStatus(info.ID, Suspect)
			} else {
				d.logf("marking %s DEAD (silent for %v)", info.ID, elapsed.Round(time.Millisecond))
				d.list.UpdateStatus(info.ID, Dead)
			}
		case Suspect:
			if elapsed > TFail {
				d.logf("suspect %s expired, marking DEAD", info.ID)
				d.list.UpdateStatus(info.ID, Dead)
			}
		case Dead, Left:
			if elapsed > TCleanup {
				d.remove(info.ID)
			}
		}
	}
}

func (d *Detector) remove(id NodeId) {
	d.logf("removing %s from membership", id)
	d.list.Remove(id)
	d.mu.Lock()
	delete(d.acks, id.String())
	d.mu.Unlock()
	if d.onRemove != nil {
		d.onRemove(id)
	}
}

// pingRound pings K random alive peers, waits TTimeout, and judges every
// peer that did not answer. A mode switch mid-round abandons the round
// without judging anyone.
func (d *Detector) pingRound(ctx context.Context) {
	startMode := d.Mode()
	targets := d.list.SelectKRandom(KPeers, d.self)
	roundStart := time.Now().UnixMilli()

	ping := &Message{Type: MsgPing, Entries: []MembershipInfo{d.selfInfo()}}
	payload := ping.Encode()
	for _, t := range targets {
		d.send(t.ID.Addr(), payload)
	}

	if !sleepCtx(ctx, TTimeout) {
		return
	}
	if d.Mode() != startMode {
		return
	}

	suspicion := startMode.Suspicion()
	var changed []MembershipInfo
	for _, t := range targets {
		d.mu.Lock()
		lastAck := d.acks[t.ID.String()]
		d.mu.Unlock()
		if lastAck >= roundStart {
			d.list.Touch(t.ID)
			continue
		}
		info, ok := d.list.Get(t.ID)
		if !ok {
			continue
		}
		switch info.Status {
		case Alive:
			if suspicion {
				d.logf("no ack from %s, suspecting", t.ID)
				d.list.UpdateStatus(t.ID, Suspect)
			} else {
				d.logf("no ack from %s, marking DEAD", t.ID)
				d.list.UpdateStatus(t.ID, Dead)
			}
		case Suspect:
			if time.Duration(roundStart-info.LocalTime)*time.Millisecond > TFail {
				d.logf("suspect %s still silent, marking DEAD", t.ID)
				d.list.UpdateStatus(t.ID, Dead)
			}
		}
		if updated, ok := d.list.Get(t.ID); ok && updated.Status != info.Status {
			changed = append(changed, updated)
		}
	}

	// cleanup pass for terminal entries
	now := time.Now().UnixMilli()
	for _, info := range d.list.Snapshot() {
		if info.ID == d.self {
			continue
		}
		if (info.Status == Dead || info.Status == Left) &&
			time.Duration(now-info.LocalTime)*time.Millisecond > TCleanup {
			d.remove(info.ID)
		}
	}

	if len(changed) > 0 {
		d.gossipEntries(changed)
	}
}

// gossipEntries pushes a partial update to K random alive peers.
func (d *Detector) gossipEntries(entries []MembershipInfo) {
	msg := &Message{Type: MsgGossip, Entries: entries}
	payload := msg.Encode()
	for _, peer := range d.list.SelectKRandom(KPeers, d.self) {
		d.send(peer.ID.Addr(), payload)
	}
}

func (d *Detector) selfInfo() MembershipInfo {
	info, _ := d.list.Get(d.self)
	return info
}

// Join introduces this node to the cluster. It pings the introducer,
// waits up to 500ms for an ACK, then announces itself with a JOIN. An
// unreachable introducer is a fatal condition for the caller.
func (d *Detector) Join(introducerAddr string) error {
	d.mu.Lock()
	d.awaitingJoin = true
	d.introducerAddr = introducerAddr
	d.mu.Unlock()

	ping := &Message{Type: MsgPing, Entries: []MembershipInfo{d.selfInfo()}}
	d.send(introducerAddr, ping.Encode())

	select {
	case introducerMode := <-d.joinAck:
		d.mu.Lock()
		d.awaitingJoin = false
		d.mode = introducerMode
		d.mu.Unlock()
		d.list.Apply(d.self, func(info *MembershipInfo) {
			info.Mode = introducerMode
		})
	case <-time.After(joinAckWait):
		d.mu.Lock()
		d.awaitingJoin = false
		d.mu.Unlock()
		return fmt.Errorf("introducer %s unreachable", introducerAddr)
	}

	join := &Message{Type: MsgJoin, Entries: []MembershipInfo{d.selfInfo()}}
	d.send(introducerAddr, join.Encode())
	d.logf("joined cluster via introducer %s in %s mode", introducerAddr, d.Mode())
	return nil
}

// Leave announces a voluntary departure: bump incarnation so LEFT beats
// any concurrent ALIVE gossip, broadcast to everyone, stop participating.
func (d *Detector) Leave() {
	d.list.Apply(d.self, func(info *MembershipInfo) {
		info.Status = Left
		info.Incarnation++
	})
	msg := &Message{Type: MsgLeave, Entries: []MembershipInfo{d.selfInfo()}}
	payload := msg.Encode()
	for _, info := range d.list.Snapshot() {
		if info.ID == d.self {
			continue
		}
		d.send(info.ID.Addr(), payload)
	}
	d.mu.Lock()
	d.left = true
	d.mu.Unlock()
	d.logf("left the cluster")
}

// Switch broadcasts a protocol change to every member, then applies it
// locally. Receivers update the mode on all of their entries so the
// cluster converges on the new protocol within one broadcast.
func (d *Detector) Switch(newMode Mode) {
	entries := d.list.Snapshot()
	for i := range entries {
		entries[i].Mode = newMode
	}
	msg := &Message{Type: MsgSwitch, Entries: entries}
	payload := msg.Encode()
	for _, info := range entries {
		if info.ID == d.self {
			continue
		}
		d.send(info.ID.Addr(), payload)
	}
	d.applyMode(newMode)
	d.logf("switched failure detection to %s", newMode)
}

func (d *Detector) applyMode(newMode Mode) {
	d.mu.Lock()
	d.mode = newMode
	d.mu.Unlock()
	for _, info := range d.list.Snapshot() {
		d.list.UpdateMode(info.ID, newMode)
	}
}

// Handle processes a decoded membership datagram.
func (d *Detector) Handle(msg *Message) {
	if d.HasLeft() {
		return
	}
	switch msg.Type {
	case MsgPing:
		d.handlePing(msg.Entries)
	case MsgAck:
		d.handleAck(msg.Entries)
	case MsgGossip:
		for _, e := range msg.Entries {
			d.reconcile(e)
		}
	case MsgJoin:
		d.handleJoin(msg.Entries)
	case MsgLeave:
		d.handleLeave(msg.Entries)
	case MsgSwitch:
		d.handleSwitch(msg.Entries)
	}
}

func (d *Detector) handlePing(entries []MembershipInfo) {
	if len(entries) == 0 {
		return
	}
	sender := entries[0]
	if !d.list.Has(sender.ID) {
		if d.list.Add(sender) {
			d.logf("learned %s via PING", sender.ID)
			if d.onJoin != nil {
				d.onJoin(sender.ID)
			}
		}
	} else {
		local, _ := d.list.Get(sender.ID)
		if sender.Incarnation > local.Incarnation {
			d.list.Apply(sender.ID, func(info *MembershipInfo) {
				info.Incarnation = sender.Incarnation
				info.Status = sender.Status
			})
		} else {
			d.list.Touch(sender.ID)
		}
	}
	ack := &Message{Type: MsgAck, Entries: []MembershipInfo{d.selfInfo()}}
	d.send(sender.ID.Addr(), ack.Encode())
}

func (d *Detector) handleAck(entries []MembershipInfo) {
	if len(entries) == 0 {
		return
	}
	sender := entries[0]

	d.mu.Lock()
	d.acks[sender.ID.String()] = time.Now().UnixMilli()
	awaiting := d.awaitingJoin && sender.ID.Addr() == d.introducerAddr
	d.mu.Unlock()

	if awaiting {
		select {
		case d.joinAck <- sender.Mode:
		default:
		}
	}
	if !d.list.Has(sender.ID) {
		d.list.Add(sender)
		return
	}
	local, _ := d.list.Get(sender.ID)
	d.list.Touch(sender.ID)
	if local.Status == Suspect {
		// an answering node is not suspect
		d.list.UpdateStatus(sender.ID, Alive)
	}
}

// reconcile merges one gossiped entry into local state.
func (d *Detector) reconcile(e MembershipInfo) {
	if e.ID == d.self {
		d.refuteIfNeeded(e)
		return
	}

	local, known := d.list.Get(e.ID)
	if !known {
		if d.list.Add(e) {
			d.logf("learned %s via gossip (%s)", e.ID, e.Status)
			if d.onJoin != nil {
				d.onJoin(e.ID)
			}
		}
		return
	}

	switch {
	case e.Incarnation > local.Incarnation:
		d.list.Apply(e.ID, func(info *MembershipInfo) {
			info.Incarnation = e.Incarnation
			info.Status = e.Status
			info.Heartbeat = e.Heartbeat
		})
	case e.Incarnation == local.Incarnation:
		if statusRank(e.Status) > statusRank(local.Status) {
			d.logf("adopting %s for %s from gossip", e.Status, e.ID)
			d.list.UpdateStatus(e.ID, e.Status)
		}
		if e.Heartbeat > local.Heartbeat {
			d.list.UpdateHeartbeat(e.ID, e.Heartbeat)
		}
	}
	// lower incarnation is stale, ignore
}

// refuteIfNeeded answers gossip that claims the local node is suspect,
// dead, or running an old incarnation. The refutation must carry a
// strictly higher incarnation to beat the rumor.
func (d *Detector) refuteIfNeeded(e MembershipInfo) {
	self := d.selfInfo()
	if e.Incarnation < self.Incarnation {
		return
	}
	if e.Status == Alive && e.Incarnation == self.Incarnation {
		return
	}
	newIncarnation := e.Incarnation + 1
	d.logf("refuting %s rumor about self, incarnation %d -> %d", e.Status, self.Incarnation, newIncarnation)
	d.list.Apply(d.self, func(info *MembershipInfo) {
		info.Incarnation = newIncarnation
		info.Status = Alive
	})
	d.gossipEntries([]MembershipInfo{d.selfInfo()})
}

// handleJoin admits a newcomer: add it, hand it the full membership list,
// and gossip its arrival to K peers.
func (d *Detector) handleJoin(entries []MembershipInfo) {
	if len(entries) == 0 {
		return
	}
	newcomer := entries[0]
	newcomer.Status = Alive
	if d.list.Add(newcomer) {
		d.logf("%s joined the cluster", newcomer.ID)
		if d.onJoin != nil {
			d.onJoin(newcomer.ID)
		}
	}

	full := &Message{Type: MsgGossip, Entries: d.list.Snapshot()}
	d.send(newcomer.ID.Addr(), full.Encode())

	d.gossipEntries([]MembershipInfo{newcomer})
}

func (d *Detector) handleLeave(entries []MembershipInfo) {
	if len(entries) == 0 {
		return
	}
	leaver := entries[0]
	if !d.list.Has(leaver.ID) {
		return
	}
	d.logf("%s left the cluster", leaver.ID)
	d.list.Apply(leaver.ID, func(info *MembershipInfo) {
		info.Status = Left
		if leaver.Incarnation > info.Incarnation {
			info.Incarnation = leaver.Incarnation
		}
	})
}

func (d *Detector) handleSwitch(entries []MembershipInfo) {
	if len(entries) == 0 {
		return
	}
	newMode := entries[0].Mode
	if newMode == d.Mode() {
		return
	}
	d.applyMode(newMode)
	d.logf("switched failure detection to %s (remote request)", newMode)
}

func statusRank(s Status) int {
	switch s {
	case Alive:
		return 0
	case Suspect:
		return 1
	case Dead:
		return 2
	case Left:
		return 3
	}
	return -1
}
