package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []FileState{
	StateAwaitingUpload, StateAwaitingProcessing, StateProcessing,
	StateDownloading, StateConverting, StateUploading, StateCompleted,
	StateError, StateCorrupted, StateCanceled,
}

func TestFileState_CodesRoundTrip(t *testing.T) {
	want := map[FileState]int{
		StateAwaitingUpload:     0,
		StateAwaitingProcessing: 10,
		StateProcessing:         20,
		StateDownloading:        21,
		StateConverting:         22,
		StateUploading:          23,
		StateCompleted:          30,
		StateError:              40,
		StateCorrupted:          41,
		StateCanceled:           42,
	}
	for s, code := range want {
		assert.Equal(t, code, s.Code(), s.String())
		got, err := ParseFileState(code)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	for _, bad := range []int{-1, 1, 24, 31, 43, 99} {
		_, err := ParseFileState(bad)
		assert.Error(t, err, bad)
	}
}

func TestFileState_Compare(t *testing.T) {
	ordered := []FileState{
		StateAwaitingUpload, StateAwaitingProcessing, StateProcessing,
		StateDownloading, StateConverting, StateUploading, StateCompleted,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Equal(t, -1, ordered[i-1].Compare(ordered[i]))
		assert.Equal(t, 1, ordered[i].Compare(ordered[i-1]))
	}
	assert.Equal(t, 0, StateConverting.Compare(StateConverting))
}

func TestFileState_Classification(t *testing.T) {
	for _, s := range allStates {
		terminal := s == StateCompleted || s == StateError || s == StateCorrupted || s == StateCanceled
		assert.Equal(t, terminal, s.IsTerminal(), s.String())

		processing := s == StateProcessing || s == StateDownloading || s == StateConverting || s == StateUploading
		assert.Equal(t, processing, s.InProcessing(), s.String())
	}
}

func TestCanTransition_TerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range allStates {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range allStates {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_EveryNonTerminalCanCancel(t *testing.T) {
	for _, from := range allStates {
		if from.IsTerminal() {
			continue
		}
		assert.True(t, CanTransition(from, StateCanceled), from.String())
	}
}

func TestCanTransition_Edges(t *testing.T) {
	tests := []struct {
		from, to FileState
		ok       bool
	}{
		{StateAwaitingUpload, StateAwaitingProcessing, true},
		{StateAwaitingUpload, StateDownloading, false},
		{StateAwaitingUpload, StateError, false},
		{StateAwaitingProcessing, StateDownloading, true},
		{StateAwaitingProcessing, StateCompleted, false},
		{StateDownloading, StateConverting, true},
		{StateDownloading, StateUploading, false},
		{StateConverting, StateDownloading, false},
		{StateConverting, StateCorrupted, true},
		{StateConverting, StateUploading, true},
		{StateDownloading, StateCorrupted, false},
		{StateUploading, StateCompleted, true},
		{StateUploading, StateError, true},
		{StateConverting, StateCompleted, false},
		{StateConverting, StateAwaitingProcessing, true},
		{StateUploading, StateAwaitingProcessing, true},
		{StateAwaitingUpload, StateAwaitingProcessing, true},
		{StateCompleted, StateAwaitingProcessing, false},
		{StateError, StateAwaitingProcessing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCanTransition_ProcessingFamilyReleases(t *testing.T) {
	for _, s := range allStates {
		if s == StateAwaitingUpload {
			continue
		}
		assert.Equal(t, s.InProcessing(), CanTransition(s, StateAwaitingProcessing), s.String())
	}
	assert.Len(t, ProcessingStates(), 4)
	for _, s := range ProcessingStates() {
		assert.True(t, s.InProcessing(), s.String())
	}
}

func TestCheckTransition_WrapsSentinel(t *testing.T) {
	err := CheckTransition(StateCompleted, StateCanceled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))
	assert.NoError(t, CheckTransition(StateUploading, StateCompleted))
}

func TestFileState_JSONUsesNames(t *testing.T) {
	out := TransitionOutcome{ID: "f1", State: StateConverting, Applied: true}
	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"uuid":"f1","state":"CONVERTING_AND_EXTRACTING_TOPICS","applied":true}`, string(b))

	var back TransitionOutcome
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, out, back)

	assert.Error(t, json.Unmarshal([]byte(`{"state":"NOPE"}`), &back))
}
