package membership

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMsg struct {
	addr    string
	payload []byte
}

type sendRecorder struct {
	mu   sync.Mutex
	msgs []sentMsg
}

func (s *sendRecorder) send(addr string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, sentMsg{addr: addr, payload: payload})
}

// to decodes every message sent to addr, in order.
func (s *sendRecorder) to(t *testing.T, addr string) []*Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Message
	for _, m := range s.msgs {
		if m.addr != addr {
			continue
		}
		msg, err := DecodeMessage(m.payload)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (s *sendRecorder) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

func detNode(port string) NodeId {
	return NodeId{Host: "127.0.0.1", Port: port, Timestamp: 1700000000}
}

func newTestDetector(mode Mode) (*Detector, *sendRecorder) {
	rec := &sendRecorder{}
	d := NewDetector(detNode("9000"), mode, rec.send, nil)
	return d, rec
}

func TestNewDetectorSeedsSelf(t *testing.T) {
	d, _ := newTestDetector(GossipSuspicion)
	info, ok := d.List().Get(d.Self())
	require.True(t, ok)
	assert.Equal(t, Alive, info.Status)
	assert.Equal(t, GossipSuspicion, info.Mode)
	assert.Zero(t, info.Incarnation)
}

func TestHandlePingLearnsSenderAndAcks(t *testing.T) {
	d, rec := newTestDetector(GossipSuspicion)
	joined := []NodeId{}
	d.SetHooks(func(id NodeId) { joined = append(joined, id) }, nil)

	sender := detNode("9001")
	d.Handle(&Message{Type: MsgPing, Entries: []MembershipInfo{{ID: sender, Status: Alive}}})

	assert.True(t, d.List().Has(sender))
	assert.Equal(t, []NodeId{sender}, joined)

	acks := rec.to(t, sender.Addr())
	require.Len(t, acks, 1)
	assert.Equal(t, MsgAck, acks[0].Type)
	require.Len(t, acks[0].Entries, 1)
	assert.Equal(t, d.Self(), acks[0].Entries[0].ID)
}

func TestHandleJoinRepliesWithFullMembership(t *testing.T) {
	d, rec := newTestDetector(GossipSuspicion)
	d.List().Add(MembershipInfo{ID: detNode("9001"), Status: Alive})

	newcomer := detNode("9002")
	d.Handle(&Message{Type: MsgJoin, Entries: []MembershipInfo{{ID: newcomer, Status: Alive}}})

	assert.True(t, d.List().Has(newcomer))

	msgs := rec.to(t, newcomer.Addr())
	require.NotEmpty(t, msgs)
	full := msgs[0]
	assert.Equal(t, MsgGossip, full.Type)
	assert.Len(t, full.Entries, 3, "self, 9001, newcomer")
}

func TestReconcileHigherIncarnationWins(t *testing.T) {
	d, _ := newTestDetector(GossipSuspicion)
	peer := detNode("9001")
	d.List().Add(MembershipInfo{ID: peer, Status: Alive, Incarnation: 1})

	// stale rumor at a lower incarnation is ignored
	d.Handle(&Message{Type: MsgGossip, Entries: []MembershipInfo{
		{ID: peer, Status: Dead, Incarnation: 0},
	}})
	got, _ := d.List().Get(peer)
	assert.Equal(t, Alive, got.Status)

	// higher incarnation adopts status wholesale
	d.Handle(&Message{Type: MsgGossip, Entries: []MembershipInfo{
		{ID: peer, Status: Suspect, Incarnation: 2, Heartbeat: 9},
	}})
	got, _ = d.List().Get(peer)
	assert.Equal(t, Suspect, got.Status)
	assert.Equal(t, uint32(2), got.Incarnation)
	assert.Equal(t, uint64(9), got.Heartbeat)
}

func TestReconcileSameIncarnationWorseStatusWins(t *testing.T) {
	d, _ := newTestDetector(GossipSuspicion)
	peer := detNode("9001")
	d.List().Add(MembershipInfo{ID: peer, Status: Alive, Incarnation: 1})

	d.Handle(&Message{Type: MsgGossip, Entries: []MembershipInfo{
		{ID: peer, Status: Suspect, Incarnation: 1},
	}})
	got, _ := d.List().Get(peer)
	assert.Equal(t, Suspect, got.Status)

	// alive at the same incarnation cannot un-suspect
	d.Handle(&Message{Type: MsgGossip, Entries: []MembershipInfo{
		{ID: peer, Status: Alive, Incarnation: 1},
	}})
	got, _ = d.List().Get(peer)
	assert.Equal(t, Suspect, got.Status)
}

func TestRefutesSuspicionAboutSelf(t *testing.T) {
	d, rec := newTestDetector(GossipSuspicion)
	d.List().Add(MembershipInfo{ID: detNode("9001"), Status: Alive})
	rec.reset()

	d.Handle(&Message{Type: MsgGossip, Entries: []MembershipInfo{
		{ID: d.Self(), Status: Suspect, Incarnation: 0},
	}})

	self, _ := d.List().Get(d.Self())
	assert.Equal(t, Alive, self.Status)
	assert.Equal(t, uint32(1), self.Incarnation, "refutation must outbid the rumor")

	// the refutation is pushed out immediately
	pushed := rec.to(t, detNode("9001").Addr())
	require.NotEmpty(t, pushed)
	assert.Equal(t, MsgGossip, pushed[0].Type)
	require.Len(t, pushed[0].Entries, 1)
	assert.Equal(t, uint32(1), pushed[0].Entries[0].Incarnation)
}

func TestAliveGossipAboutSelfIsNotRefuted(t *testing.T) {
	d, rec := newTestDetector(GossipSuspicion)
	rec.reset()
	d.Handle(&Message{Type: MsgGossip, Entries: []MembershipInfo{
		{ID: d.Self(), Status: Alive, Incarnation: 0},
	}})
	self, _ := d.List().Get(d.Self())
	assert.Zero(t, self.Incarnation)
}

func TestHandleLeaveMarksLeft(t *testing.T) {
	d, _ := newTestDetector(GossipSuspicion)
	peer := detNode("9001")
	d.List().Add(MembershipInfo{ID: peer, Status: Alive})

	d.Handle(&Message{Type: MsgLeave, Entries: []MembershipInfo{{ID: peer, Incarnation: 5}}})
	got, _ := d.List().Get(peer)
	assert.Equal(t, Left, got.Status)
	assert.Equal(t, uint32(5), got.Incarnation)
}

func TestLeaveBroadcastsAndStops(t *testing.T) {
	d, rec := newTestDetector(GossipSuspicion)
	peer := detNode("9001")
	d.List().Add(MembershipInfo{ID: peer, Status: Alive})

	d.Leave()
	assert.True(t, d.HasLeft())

	msgs := rec.to(t, peer.Addr())
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, MsgLeave, last.Type)
	require.Len(t, last.Entries, 1)
	assert.Equal(t, Left, last.Entries[0].Status)
	assert.Equal(t, uint32(1), last.Entries[0].Incarnation)

	// a departed node ignores all further traffic
	d.Handle(&Message{Type: MsgPing, Entries: []MembershipInfo{{ID: detNode("9002"), Status: Alive}}})
	assert.False(t, d.List().Has(detNode("9002")))
}

func TestSwitchBroadcastsAndApplies(t *testing.T) {
	d, rec := newTestDetector(GossipSuspicion)
	peer := detNode("9001")
	d.List().Add(MembershipInfo{ID: peer, Status: Alive})

	d.Switch(PingAck)
	assert.Equal(t, PingAck, d.Mode())
	for _, info := range d.List().Snapshot() {
		assert.Equal(t, PingAck, info.Mode)
	}

	msgs := rec.to(t, peer.Addr())
	require.NotEmpty(t, msgs)
	assert.Equal(t, MsgSwitch, msgs[len(msgs)-1].Type)
}

func TestHandleSwitchAdoptsRemoteMode(t *testing.T) {
	d, _ := newTestDetector(GossipSuspicion)
	d.Handle(&Message{Type: MsgSwitch, Entries: []MembershipInfo{
		{ID: detNode("9001"), Status: Alive, Mode: Gossip},
	}})
	assert.Equal(t, Gossip, d.Mode())
}

func TestJoinAdoptsIntroducerMode(t *testing.T) {
	d, rec := newTestDetector(GossipSuspicion)
	introducer := detNode("9001")

	done := make(chan error, 1)
	go func() { done <- d.Join(introducer.Addr()) }()

	// wait for the join PING to go out, then answer as the introducer
	require.Eventually(t, func() bool {
		return len(rec.to(t, introducer.Addr())) > 0
	}, time.Second, 5*time.Millisecond)

	d.Handle(&Message{Type: MsgAck, Entries: []MembershipInfo{
		{ID: introducer, Status: Alive, Mode: PingAckSuspicion},
	}})

	require.NoError(t, <-done)
	assert.Equal(t, PingAckSuspicion, d.Mode(), "joiner runs whatever the introducer runs")

	msgs := rec.to(t, introducer.Addr())
	assert.Equal(t, MsgJoin, msgs[len(msgs)-1].Type)
}

func TestJoinUnreachableIntroducerFails(t *testing.T) {
	d, _ := newTestDetector(GossipSuspicion)
	err := d.Join("127.0.0.1:19999")
	assert.Error(t, err)
}

func TestAckUnsuspectsAnsweringNode(t *testing.T) {
	d, _ := newTestDetector(PingAckSuspicion)
	peer := detNode("9001")
	d.List().Add(MembershipInfo{ID: peer, Status: Alive})
	d.List().UpdateStatus(peer, Suspect)

	d.Handle(&Message{Type: MsgAck, Entries: []MembershipInfo{
		{ID: peer, Status: Suspect},
	}})
	got, _ := d.List().Get(peer)
	assert.Equal(t, Alive, got.Status)
}
