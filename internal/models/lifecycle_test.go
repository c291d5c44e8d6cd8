package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleRecord_CanTransition(t *testing.T) {
	tests := []struct {
		from  LifecycleState
		to    LifecycleState
		legal bool
	}{
		{LifecycleIdle, LifecycleConnecting, true},
		{LifecycleIdle, LifecycleRunning, false},
		{LifecycleConnecting, LifecycleRunning, true},
		{LifecycleConnecting, LifecycleBackoff, true},
		{LifecycleRunning, LifecycleBackoff, true},
		{LifecycleRunning, LifecycleConnecting, false},
		{LifecycleBackoff, LifecycleConnecting, true},
		{LifecycleBackoff, LifecycleFailed, true},
		{LifecycleStopping, LifecycleIdle, true},
		{LifecycleFailed, LifecycleConnecting, true},
		{LifecycleFailed, LifecycleRunning, false},
	}

	for _, tt := range tests {
		r := &LifecycleRecord{State: tt.from}
		got := r.CanTransition(tt.to)
		assert.Equal(t, tt.legal, got, "from %s to %s", tt.from, tt.to)
	}
}
