package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listNode(port string) NodeId {
	return NodeId{Host: "127.0.0.1", Port: port, Timestamp: 1700000000}
}

func TestAddIgnoresDuplicatesAndDeadStrangers(t *testing.T) {
	ml := NewMembershipList()

	a := listNode("9001")
	assert.True(t, ml.Add(MembershipInfo{ID: a, Status: Alive}))
	assert.False(t, ml.Add(MembershipInfo{ID: a, Status: Alive}), "already known")
	assert.Equal(t, 1, ml.Len())

	// DEAD/LEFT gossip about a node we never met is stale noise
	assert.False(t, ml.Add(MembershipInfo{ID: listNode("9002"), Status: Dead}))
	assert.False(t, ml.Add(MembershipInfo{ID: listNode("9003"), Status: Left}))
	assert.Equal(t, 1, ml.Len())
}

func TestUpdatesRefreshLocalTime(t *testing.T) {
	ml := NewMembershipList()
	a := listNode("9001")
	ml.Add(MembershipInfo{ID: a, Status: Alive})

	before, ok := ml.Get(a)
	require.True(t, ok)

	require.True(t, ml.UpdateStatus(a, Suspect))
	after, _ := ml.Get(a)
	assert.Equal(t, Suspect, after.Status)
	assert.GreaterOrEqual(t, after.LocalTime, before.LocalTime)

	require.True(t, ml.UpdateIncarnation(a, 7))
	require.True(t, ml.UpdateHeartbeat(a, 42))
	got, _ := ml.Get(a)
	assert.Equal(t, uint32(7), got.Incarnation)
	assert.Equal(t, uint64(42), got.Heartbeat)

	assert.False(t, ml.UpdateStatus(listNode("9999"), Dead), "unknown member")
}

func TestSnapshotSorted(t *testing.T) {
	ml := NewMembershipList()
	for _, p := range []string{"9003", "9001", "9002"} {
		ml.Add(MembershipInfo{ID: listNode(p), Status: Alive})
	}
	snap := ml.Snapshot()
	require.Len(t, snap, 3)
	for i := 1; i < len(snap); i++ {
		assert.Less(t, snap[i-1].ID.String(), snap[i].ID.String())
	}
}

func TestSelectKRandomExcludesSelfAndNonAlive(t *testing.T) {
	ml := NewMembershipList()
	self := listNode("9000")
	ml.Add(MembershipInfo{ID: self, Status: Alive})
	ml.Add(MembershipInfo{ID: listNode("9001"), Status: Alive})
	ml.Add(MembershipInfo{ID: listNode("9002"), Status: Alive})
	ml.Add(MembershipInfo{ID: listNode("9003"), Status: Alive})
	ml.UpdateStatus(listNode("9003"), Suspect)

	for i := 0; i < 20; i++ {
		picked := ml.SelectKRandom(3, self)
		assert.LessOrEqual(t, len(picked), 2, "only two alive non-self members exist")
		for _, p := range picked {
			assert.NotEqual(t, self, p.ID)
			assert.Equal(t, Alive, p.Status)
		}
	}
}
