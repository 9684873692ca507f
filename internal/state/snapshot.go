package state

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/protocol"
)

// snapshot is the serialized form of State. Secondary indexes and parsed
// models are derived, so they are rebuilt on restore instead of stored.
type snapshot struct {
	PartitionID   int                               `json:"partitionId"`
	KeyCounter    int64                             `json:"keyCounter"`
	LastProcessed int64                             `json:"lastProcessed"`
	Incidents     map[int64]protocol.IncidentRecord `json:"incidents"`
	Elements      map[int64]ElementInstance         `json:"elements"`
	Jobs          map[int64]Job                     `json:"jobs"`
	Variables     map[int64]map[string]any          `json:"variables"`
	Subscriptions map[int64]Subscription            `json:"subscriptions"`
	Processes     map[int64]DeployedProcess         `json:"processes"`
	Latest        map[string]int64                  `json:"latest"`
}

// Snapshot serializes the full state.
func (s *State) Snapshot() ([]byte, error) {
	if s.InTransaction() {
		return nil, ErrTransactionActive
	}
	data, err := json.Marshal(snapshot{
		PartitionID:   s.partitionID,
		KeyCounter:    s.keyCounter,
		LastProcessed: s.lastProcessed,
		Incidents:     s.incidents.rows,
		Elements:      s.elements.rows,
		Jobs:          s.jobs.rows,
		Variables:     s.variables.rows,
		Subscriptions: s.subscriptions.rows,
		Processes:     s.processes.rows,
		Latest:        s.latestProcess.rows,
	})
	if err != nil {
		return nil, fmt.Errorf("encode state snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the state with a snapshot produced by Snapshot.
func (s *State) Restore(data []byte) error {
	if s.InTransaction() {
		return ErrTransactionActive
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode state snapshot: %w", err)
	}
	if snap.PartitionID != s.partitionID {
		return fmt.Errorf("snapshot belongs to partition %d, not %d", snap.PartitionID, s.partitionID)
	}

	for key, p := range snap.Processes {
		parsed, err := model.Parse(p.Resource)
		if err != nil {
			return fmt.Errorf("restore process %d: %w", key, err)
		}
		p.Model = parsed
		snap.Processes[key] = p
	}

	byElement := make(map[int64]int64)
	byJob := make(map[int64]int64)
	for key, inc := range snap.Incidents {
		if inc.HasElementInstance() {
			byElement[inc.ElementInstanceKey] = key
		}
		if inc.HasJob() {
			byJob[inc.JobKey] = key
		}
	}

	s.keyCounter = snap.KeyCounter
	s.lastProcessed = snap.LastProcessed
	s.incidents.load(snap.Incidents)
	s.incidentByElement.load(byElement)
	s.incidentByJob.load(byJob)
	s.elements.load(snap.Elements)
	s.childIndex.reset()
	for key, el := range snap.Elements {
		if el.Value.FlowScopeKey > 0 {
			s.childIndex.add(el.Value.FlowScopeKey, key)
		}
	}
	s.jobs.load(snap.Jobs)
	s.variables.load(snap.Variables)
	s.subscriptions.load(snap.Subscriptions)
	subByElement := make(map[int64]int64, len(snap.Subscriptions))
	for key, sub := range snap.Subscriptions {
		subByElement[sub.Value.ElementInstanceKey] = key
	}
	s.subByElement.load(subByElement)
	s.processes.load(snap.Processes)
	s.latestProcess.load(snap.Latest)
	return nil
}
