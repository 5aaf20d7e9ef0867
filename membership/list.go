package membership

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

/*
MembershipList

The per-node view of the cluster, keyed by the canonical node id string.
The local node's own entry lives here too, so snapshots and gossip
payloads treat self uniformly with remote members.

Every mutation refreshes the entry's LocalTime. LocalTime is the basis
for all timeout decisions (suspicion, death, cleanup), so it must track
the last moment fresh information about the member arrived.
*/
type MembershipList struct {
	mu      sync.RWMutex
	members map[string]*MembershipInfo
}

// NewMembershipList creates an empty list.
func NewMembershipList() *MembershipList {
	return &MembershipList{
		members: make(map[string]*MembershipInfo),
	}
}

// Add inserts a new member. It is a no-op if the member is already known,
// or if the incoming entry is DEAD/LEFT gossip about a node we never met.
func (ml *MembershipList) Add(info MembershipInfo) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	key := info.ID.String()
	if _, ok := ml.members[key]; ok {
		return false
	}
	if info.Status == Dead || info.Status == Left {
		return false
	}
	info.LocalTime = time.Now().UnixMilli()
	ml.members[key] = &info
	return true
}

// Get returns a copy of the member's entry.
func (ml *MembershipList) Get(id NodeId) (MembershipInfo, bool) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	info, ok := ml.members[id.String()]
	if !ok {
		return MembershipInfo{}, false
	}
	return *info, true
}

// Has reports whether the member is known.
func (ml *MembershipList) Has(id NodeId) bool {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	_, ok := ml.members[id.String()]
	return ok
}

// Remove deletes the member.
func (ml *MembershipList) Remove(id NodeId) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.members, id.String())
}

// UpdateStatus sets the member's status and refreshes LocalTime.
func (ml *MembershipList) UpdateStatus(id NodeId, status Status) bool {
	return ml.update(id, func(info *MembershipInfo) {
		info.Status = status
	})
}

// UpdateIncarnation sets the incarnation and refreshes LocalTime.
func (ml *MembershipList) UpdateIncarnation(id NodeId, incarnation uint32) bool {
	return ml.update(id, func(info *MembershipInfo) {
		info.Incarnation = incarnation
	})
}

// UpdateHeartbeat sets the heartbeat counter and refreshes LocalTime.
func (ml *MembershipList) UpdateHeartbeat(id NodeId, heartbeat uint64) bool {
	return ml.update(id, func(info *MembershipInfo) {
		info.Heartbeat = heartbeat
	})
}

// UpdateMode sets the failure detection mode and refreshes LocalTime.
func (ml *MembershipList) UpdateMode(id NodeId, mode Mode) bool {
	return ml.update(id, func(info *MembershipInfo) {
		info.Mode = mode
	})
}

// Touch refreshes the member's LocalTime without changing anything else.
func (ml *MembershipList) Touch(id NodeId) bool {
	return ml.update(id, func(*MembershipInfo) {})
}

// Apply runs fn on the member's entry under the lock and refreshes
// LocalTime. Used when several fields change atomically.
func (ml *MembershipList) Apply(id NodeId, fn func(*MembershipInfo)) bool {
	return ml.update(id, fn)
}

func (ml *MembershipList) update(id NodeId, fn func(*MembershipInfo)) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	info, ok := ml.members[id.String()]
	if !ok {
		return false
	}
	fn(info)
	info.LocalTime = time.Now().UnixMilli()
	return true
}

// Snapshot returns a copy of every entry, sorted by node id string for
// stable iteration.
func (ml *MembershipList) Snapshot() []MembershipInfo {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	result := make([]MembershipInfo, 0, len(ml.members))
	for _, info := range ml.members {
		result = append(result, *info)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result
}

// Len returns the number of known members.
func (ml *MembershipList) Len() int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return len(ml.members)
}

// SelectKRandom picks up to k random members excluding self and anyone
// not ALIVE. Reservoir sampling keeps the pick uniform without building
// an intermediate slice of candidates.
func (ml *MembershipList) SelectKRandom(k int, self NodeId) []MembershipInfo {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	selfKey := self.String()
	reservoir := make([]MembershipInfo, 0, k)
	seen := 0
	for key, info := range ml.members {
		if key == selfKey || info.Status != Alive {
			continue
		}
		seen++
		if len(reservoir) < k {
			reservoir = append(reservoir, *info)
			continue
		}
		if j := rand.Intn(seen); j < k {
			reservoir[j] = *info
		}
	}
	return reservoir
}
