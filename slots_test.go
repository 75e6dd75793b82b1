package ddp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotsAllocateReuse(t *testing.T) {
	table := newSlots(4)
	a, b := newPendingCall(), newPendingCall()

	idA, err := table.allocate(a)
	require.NoError(t, err)
	idB, err := table.allocate(b)
	require.NoError(t, err)
	assert.Equal(t, 0, idA)
	assert.Equal(t, 1, idB)
	assert.Equal(t, 2, table.len())

	call, ok := table.complete(idA)
	require.True(t, ok)
	assert.Same(t, a, call)

	c := newPendingCall()
	idC, err := table.allocate(c)
	require.NoError(t, err)
	assert.Equal(t, idA, idC)
	assert.Equal(t, idC, c.slot)
}

func TestSlotsExhausted(t *testing.T) {
	table := newSlots(2)
	_, err := table.allocate(newPendingCall())
	require.NoError(t, err)
	_, err = table.allocate(newPendingCall())
	require.NoError(t, err)
	_, err = table.allocate(newPendingCall())
	assert.ErrorIs(t, err, ErrExhausted)

	table.complete(0)
	_, err = table.allocate(newPendingCall())
	assert.NoError(t, err)
}

func TestSlotsCompleteUnknown(t *testing.T) {
	table := newSlots(4)
	_, ok := table.complete(0)
	assert.False(t, ok)
	_, ok = table.complete(-1)
	assert.False(t, ok)

	id, err := table.allocate(newPendingCall())
	require.NoError(t, err)
	_, ok = table.complete(id)
	assert.True(t, ok)
	_, ok = table.complete(id)
	assert.False(t, ok, "second completion of the same id")
}

func TestSlotsAbandon(t *testing.T) {
	table := newSlots(1)
	call := newPendingCall()
	id, err := table.allocate(call)
	require.NoError(t, err)

	assert.True(t, table.abandon(call))
	assert.False(t, table.abandon(call))

	// 被放弃的 id 在结果到达前不可复用
	_, err = table.allocate(newPendingCall())
	assert.ErrorIs(t, err, ErrExhausted)

	got, ok := table.complete(id)
	assert.True(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, 0, table.len())

	// 槽位被新调用占用后，旧调用的放弃不影响新调用
	fresh := newPendingCall()
	_, err = table.allocate(fresh)
	require.NoError(t, err)
	assert.False(t, table.abandon(call))
	got, ok = table.complete(id)
	assert.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestSlotsDrainAll(t *testing.T) {
	table := newSlots(8)
	calls := []*pendingCall{newPendingCall(), newPendingCall(), newPendingCall()}
	for _, call := range calls {
		_, err := table.allocate(call)
		require.NoError(t, err)
	}
	table.abandon(calls[1])

	errClosed := errors.New("closed")
	assert.Equal(t, 2, table.drainAll(errClosed))
	assert.Equal(t, 0, table.len())

	for _, call := range []*pendingCall{calls[0], calls[2]} {
		resp, ok := <-call.response
		require.True(t, ok)
		assert.ErrorIs(t, resp.Error, errClosed)
		_, ok = <-call.response
		assert.False(t, ok, "delivered exactly once")
	}
	assert.Empty(t, calls[1].response)
}
