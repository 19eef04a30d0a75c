package models

import (
	"fmt"

	"github.com/dmitrijs2005/bagqueue/internal/common"
)

// Phase is the coarse position of a file in the ingestion pipeline.
type Phase uint8

const (
	PhaseAwaitingUpload Phase = iota
	PhaseAwaitingProcessing
	PhaseProcessing
	PhaseCompleted
	// PhaseAborted groups the out-of-band terminals ERROR, CORRUPTED and CANCELED.
	PhaseAborted
)

// FileState is a {phase, substep} pair. Within PhaseProcessing the substep
// orders DOWNLOADING < CONVERTING_AND_EXTRACTING_TOPICS < UPLOADING; within
// PhaseAborted it distinguishes the terminal kind. Persisted as Code().
type FileState struct {
	Phase   Phase
	Substep uint8
}

var (
	StateAwaitingUpload     = FileState{PhaseAwaitingUpload, 0}
	StateAwaitingProcessing = FileState{PhaseAwaitingProcessing, 0}
	StateProcessing         = FileState{PhaseProcessing, 0}
	StateDownloading        = FileState{PhaseProcessing, 1}
	StateConverting         = FileState{PhaseProcessing, 2}
	StateUploading          = FileState{PhaseProcessing, 3}
	StateCompleted          = FileState{PhaseCompleted, 0}
	StateError              = FileState{PhaseAborted, 0}
	StateCorrupted          = FileState{PhaseAborted, 1}
	StateCanceled           = FileState{PhaseAborted, 2}
)

var stateNames = map[FileState]string{
	StateAwaitingUpload:     "AWAITING_UPLOAD",
	StateAwaitingProcessing: "AWAITING_PROCESSING",
	StateProcessing:         "PROCESSING",
	StateDownloading:        "DOWNLOADING",
	StateConverting:         "CONVERTING_AND_EXTRACTING_TOPICS",
	StateUploading:          "UPLOADING",
	StateCompleted:          "COMPLETED",
	StateError:              "ERROR",
	StateCorrupted:          "CORRUPTED",
	StateCanceled:           "CANCELED",
}

// fileEdges lists every allowed transition. Terminal states have no entry.
// Every PROCESSING state may fall back to AWAITING_PROCESSING when its
// claim is released (worker shutdown or an expired claim).
var fileEdges = map[FileState][]FileState{
	StateAwaitingUpload:     {StateAwaitingProcessing, StateCanceled},
	StateAwaitingProcessing: {StateProcessing, StateDownloading, StateCanceled},
	StateProcessing:         {StateDownloading, StateError, StateCanceled, StateAwaitingProcessing},
	StateDownloading:        {StateConverting, StateError, StateCanceled, StateAwaitingProcessing},
	StateConverting:         {StateUploading, StateError, StateCorrupted, StateCanceled, StateAwaitingProcessing},
	StateUploading:          {StateCompleted, StateError, StateCanceled, StateAwaitingProcessing},
}

// ProcessingStates lists the PROCESSING family in substep order.
func ProcessingStates() []FileState {
	return []FileState{StateProcessing, StateDownloading, StateConverting, StateUploading}
}

// Code returns the persisted numeric code (phase*10 + substep).
func (s FileState) Code() int {
	return int(s.Phase)*10 + int(s.Substep)
}

// ParseFileState maps a persisted code back to a defined state.
func ParseFileState(code int) (FileState, error) {
	if code < 0 {
		return FileState{}, fmt.Errorf("unknown file state code %d", code)
	}
	s := FileState{Phase: Phase(code / 10), Substep: uint8(code % 10)}
	if _, ok := stateNames[s]; !ok {
		return FileState{}, fmt.Errorf("unknown file state code %d", code)
	}
	return s, nil
}

// ParseFileStateName maps a state name such as "DOWNLOADING" to its state.
func ParseFileStateName(name string) (FileState, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return FileState{}, fmt.Errorf("unknown file state %q", name)
}

func (s FileState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("FileState(%d)", s.Code())
}

func (s FileState) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("unknown file state %d", s.Code())
	}
	return []byte(s.String()), nil
}

func (s *FileState) UnmarshalText(b []byte) error {
	parsed, err := ParseFileStateName(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Compare orders states by phase, then substep. It returns -1, 0 or 1.
func (s FileState) Compare(o FileState) int {
	switch {
	case s.Phase < o.Phase:
		return -1
	case s.Phase > o.Phase:
		return 1
	case s.Substep < o.Substep:
		return -1
	case s.Substep > o.Substep:
		return 1
	default:
		return 0
	}
}

// IsTerminal reports whether no transition leaves s.
func (s FileState) IsTerminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseAborted
}

// InProcessing reports whether s belongs to the PROCESSING family, i.e. a
// worker owns the file.
func (s FileState) InProcessing() bool {
	return s.Phase == PhaseProcessing
}

// CanTransition reports whether from -> to is a defined edge.
func CanTransition(from, to FileState) bool {
	for _, next := range fileEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition is CanTransition returning common.ErrInvalidTransition.
func CheckTransition(from, to FileState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, from, to)
	}
	return nil
}
