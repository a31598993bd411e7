package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageTypePriorityIsPureFunctionOfType(t *testing.T) {
	cases := []struct {
		typ  MessageType
		want Priority
	}{
		{TypeAuth, PriorityCritical},
		{TypeAuthResult, PriorityCritical},
		{TypeRoomInfo, PriorityCritical},
		{TypeJoin, PriorityCritical},
		{TypeLeave, PriorityCritical},
		{TypeInitState, PriorityCritical},
		{TypeUpdate, PriorityCritical},
		{TypeSnapshotRecovery, PriorityCritical},
		{TypeOpRejected, PriorityCritical},
		{TypePing, PriorityCritical},
		{TypePong, PriorityCritical},
		{TypeCursorMove, PriorityVolatile},
		{TypeIdleStatus, PriorityLow},
		{TypeUserViewport, PriorityLow},
		{TypeAwareness, PriorityNormal},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.typ.Priority(), "type %s", c.typ)
	}
}

func TestPriorityDroppableOnlyCriticalIsNot(t *testing.T) {
	require.True(t, PriorityVolatile.Droppable())
	require.True(t, PriorityLow.Droppable())
	require.True(t, PriorityNormal.Droppable())
	require.False(t, PriorityCritical.Droppable())
}

func TestPriorityOrderPreservingOnlyCritical(t *testing.T) {
	require.False(t, PriorityVolatile.OrderPreserving())
	require.False(t, PriorityLow.OrderPreserving())
	require.False(t, PriorityNormal.OrderPreserving())
	require.True(t, PriorityCritical.OrderPreserving())
}
