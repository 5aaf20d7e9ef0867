package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSatisfiedWithoutHistory(t *testing.T) {
	ct := NewClientTracker()
	assert.True(t, ct.Satisfied("nobody", "f", nil), "a client with no writes accepts any copy")

	ct.RecordAppend("c1", "f", 10)
	assert.True(t, ct.Satisfied("c1", "other-file", nil))
}

func TestSatisfiedRequiresOwnWrites(t *testing.T) {
	ct := NewClientTracker()
	ct.RecordAppend("c1", "f", 10)
	ct.RecordAppend("c1", "f", 20)

	assert.False(t, ct.Satisfied("c1", "f", []uint64{10}))
	assert.True(t, ct.Satisfied("c1", "f", []uint64{20, 10, 99}))

	// another client's view of the same file is independent
	assert.True(t, ct.Satisfied("c2", "f", nil))

	assert.Equal(t, []uint64{10, 20}, ct.Recorded("c1", "f"))
}

func TestClearClientAndFile(t *testing.T) {
	ct := NewClientTracker()
	ct.RecordAppend("c1", "f", 10)
	ct.RecordAppend("c2", "f", 20)

	ct.ClearClient("c1")
	assert.True(t, ct.Satisfied("c1", "f", nil))
	assert.False(t, ct.Satisfied("c2", "f", nil))

	ct.ClearFile("f")
	assert.True(t, ct.Satisfied("c2", "f", nil))
}
