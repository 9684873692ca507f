package state

import (
	"encoding/json"
	"errors"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/protocol"
)

// ErrTransactionActive is returned by operations that need a quiescent state.
var ErrTransactionActive = errors.New("state transaction in progress")

// JobState is the lifecycle state of a tracked job.
type JobState string

const (
	JobActivatable JobState = "ACTIVATABLE"
	JobActivated   JobState = "ACTIVATED"
	JobFailed      JobState = "FAILED"
	JobErrorThrown JobState = "ERROR_THROWN"
)

// Job is a tracked job.
type Job struct {
	Key   int64              `json:"key"`
	State JobState           `json:"state"`
	Value protocol.JobRecord `json:"value"`
}

// ElementInstance is a live execution token.
type ElementInstance struct {
	Key   int64                          `json:"key"`
	State protocol.Intent                `json:"state"`
	Value protocol.ProcessInstanceRecord `json:"value"`

	// JobKey is the outstanding job of a service task, or 0.
	JobKey int64 `json:"jobKey,omitempty"`
	// ChildProcessInstanceKey is the instance created by a call activity, or 0.
	ChildProcessInstanceKey int64 `json:"childProcessInstanceKey,omitempty"`
	// ActiveChildren counts live element instances in this flow scope.
	ActiveChildren int `json:"activeChildren"`
}

// IsActive reports whether the token is live and not terminating.
func (e ElementInstance) IsActive() bool {
	switch e.State {
	case protocol.ElementActivating, protocol.ElementActivated, protocol.GatewayActivated, protocol.ElementCompleting:
		return true
	}
	return false
}

// Subscription is an open message subscription of a catch event.
type Subscription struct {
	Key   int64                              `json:"key"`
	Value protocol.MessageSubscriptionRecord `json:"value"`
}

// DeployedProcess is a process definition known to the partition.
type DeployedProcess struct {
	Key           int64           `json:"key"`
	BPMNProcessID string          `json:"bpmnProcessId"`
	Version       int             `json:"version"`
	ResourceName  string          `json:"resourceName"`
	Resource      json.RawMessage `json:"resource"`

	Model *model.Process `json:"-"`
}

// IncidentEntry pairs an incident with its key.
type IncidentEntry struct {
	Key    int64
	Record protocol.IncidentRecord
}

// State is the partition-local state. It is owned by the partition's
// processing goroutine and is not safe for concurrent use.
//
// State changes only through Apply. Mutations made between Begin and
// Commit are undone by Rollback.
type State struct {
	partitionID   int
	j             journal
	keyCounter    int64
	lastProcessed int64

	incidents         *table[int64, protocol.IncidentRecord]
	incidentByElement *table[int64, int64]
	incidentByJob     *table[int64, int64]

	elements      *table[int64, ElementInstance]
	childIndex    *setIndex
	jobs          *table[int64, Job]
	variables     *table[int64, map[string]any]
	subscriptions *table[int64, Subscription]
	subByElement  *table[int64, int64]
	processes     *table[int64, DeployedProcess]
	latestProcess *table[string, int64]
}

// New creates an empty state for a partition.
func New(partitionID int) *State {
	s := &State{partitionID: partitionID}
	s.incidents = newTable[int64, protocol.IncidentRecord](&s.j)
	s.incidentByElement = newTable[int64, int64](&s.j)
	s.incidentByJob = newTable[int64, int64](&s.j)
	s.elements = newTable[int64, ElementInstance](&s.j)
	s.childIndex = newSetIndex(&s.j)
	s.jobs = newTable[int64, Job](&s.j)
	s.variables = newTable[int64, map[string]any](&s.j)
	s.subscriptions = newTable[int64, Subscription](&s.j)
	s.subByElement = newTable[int64, int64](&s.j)
	s.processes = newTable[int64, DeployedProcess](&s.j)
	s.latestProcess = newTable[string, int64](&s.j)
	return s
}

// PartitionID returns the owning partition.
func (s *State) PartitionID() int {
	return s.partitionID
}

// Begin starts journaling mutations.
func (s *State) Begin() {
	s.j.begin()
}

// Commit keeps every mutation made since Begin.
func (s *State) Commit() {
	s.j.commit()
}

// Rollback undoes every mutation made since Begin.
func (s *State) Rollback() {
	s.j.rollback()
}

// InTransaction reports whether Begin was called without Commit or Rollback.
func (s *State) InTransaction() bool {
	return s.j.active
}

// NextKey allocates a new partition-encoded key.
func (s *State) NextKey() int64 {
	old := s.keyCounter
	s.j.record(func() { s.keyCounter = old })
	s.keyCounter++
	return protocol.EncodeKey(s.partitionID, s.keyCounter)
}

// observeKey advances the key generator past keys seen in applied events,
// so replay restores the generator without storing it separately.
func (s *State) observeKey(key int64) {
	if key <= 0 || protocol.DecodePartitionID(key) != s.partitionID {
		return
	}
	counter := protocol.DecodeKeyCounter(key)
	if counter <= s.keyCounter {
		return
	}
	old := s.keyCounter
	s.j.record(func() { s.keyCounter = old })
	s.keyCounter = counter
}

// LastProcessedPosition returns the position of the last processed command.
func (s *State) LastProcessedPosition() int64 {
	return s.lastProcessed
}

// SetLastProcessedPosition records that the command at position was processed.
func (s *State) SetLastProcessedPosition(position int64) {
	if position <= s.lastProcessed {
		return
	}
	old := s.lastProcessed
	s.j.record(func() { s.lastProcessed = old })
	s.lastProcessed = position
}
