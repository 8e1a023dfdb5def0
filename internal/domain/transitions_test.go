package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAgentTransition(t *testing.T) {
	cases := []struct {
		name string
		from AgentStatus
		to   AgentStatus
		ok   bool
	}{
		{"idle to working", AgentIdle, AgentWorking, true},
		{"idle to maintenance", AgentIdle, AgentMaintenance, true},
		{"working to idle", AgentWorking, AgentIdle, true},
		{"working to failed", AgentWorking, AgentFailed, true},
		{"working to maintenance rejected", AgentWorking, AgentMaintenance, false},
		{"failed to idle", AgentFailed, AgentIdle, true},
		{"failed to maintenance", AgentFailed, AgentMaintenance, true},
		{"failed to working rejected", AgentFailed, AgentWorking, false},
		{"maintenance to idle", AgentMaintenance, AgentIdle, true},
		{"maintenance to working rejected", AgentMaintenance, AgentWorking, false},
		{"idle to failed rejected", AgentIdle, AgentFailed, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, CanAgentTransition(tc.from, tc.to))
		})
	}
}

func TestCanTaskTransition(t *testing.T) {
	cases := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		ok   bool
	}{
		{"queued to assigned", TaskQueued, TaskAssigned, true},
		{"queued to timed_out", TaskQueued, TaskTimedOut, true},
		{"queued to failed", TaskQueued, TaskFailed, true},
		{"queued to in_progress rejected", TaskQueued, TaskInProgress, false},
		{"assigned to in_progress", TaskAssigned, TaskInProgress, true},
		{"assigned to completed", TaskAssigned, TaskCompleted, true},
		{"in_progress to completed", TaskInProgress, TaskCompleted, true},
		{"in_progress to timed_out", TaskInProgress, TaskTimedOut, true},
		{"completed is terminal", TaskCompleted, TaskFailed, false},
		{"failed is terminal", TaskFailed, TaskQueued, false},
		{"timed_out is terminal", TaskTimedOut, TaskInProgress, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTaskTransition(tc.from, tc.to))
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskTimedOut.Terminal())
	assert.False(t, TaskQueued.Terminal())
	assert.False(t, TaskAssigned.Terminal())
	assert.False(t, TaskInProgress.Terminal())
}

func TestPriorityRank(t *testing.T) {
	assert.Greater(t, PriorityUrgent.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
}

func TestHasCapability(t *testing.T) {
	a := &Agent{Capabilities: []string{"build", "analyze"}}
	assert.True(t, a.HasCapability("build"))
	assert.False(t, a.HasCapability("deploy"))
	assert.False(t, a.HasCapability("buil"))
}
