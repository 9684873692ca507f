package state

import (
	"maps"
	"slices"

	"github.com/roach88/incidentd/internal/protocol"
)

// Incident returns the incident stored under key.
func (s *State) Incident(key int64) (protocol.IncidentRecord, bool) {
	return s.incidents.Get(key)
}

// IncidentKeyForElement returns the open incident of an element instance.
func (s *State) IncidentKeyForElement(elementInstanceKey int64) (int64, bool) {
	return s.incidentByElement.Get(elementInstanceKey)
}

// IncidentKeyForJob returns the open incident of a job.
func (s *State) IncidentKeyForJob(jobKey int64) (int64, bool) {
	return s.incidentByJob.Get(jobKey)
}

// Incidents returns every open incident ordered by key.
func (s *State) Incidents() []IncidentEntry {
	keys := s.incidents.Keys()
	out := make([]IncidentEntry, 0, len(keys))
	for _, k := range keys {
		rec, _ := s.incidents.Get(k)
		out = append(out, IncidentEntry{Key: k, Record: rec})
	}
	return out
}

// OpenIncidentCount returns the number of open incidents.
func (s *State) OpenIncidentCount() int {
	return s.incidents.Len()
}

// ElementInstance returns the live element instance under key.
func (s *State) ElementInstance(key int64) (ElementInstance, bool) {
	return s.elements.Get(key)
}

// Children returns the element instances whose flow scope is flowScopeKey,
// ordered by key.
func (s *State) Children(flowScopeKey int64) []ElementInstance {
	var out []ElementInstance
	for _, k := range s.childIndex.Members(flowScopeKey) {
		if el, ok := s.elements.Get(k); ok {
			out = append(out, el)
		}
	}
	return out
}

// Job returns the tracked job under key.
func (s *State) Job(key int64) (Job, bool) {
	return s.jobs.Get(key)
}

// ActivatableJobs returns the activatable jobs of jobType ordered by key.
// Jobs with an open incident are never handed out.
func (s *State) ActivatableJobs(jobType string) []Job {
	var out []Job
	for _, k := range s.jobs.Keys() {
		job, _ := s.jobs.Get(k)
		if job.State != JobActivatable || job.Value.Type != jobType {
			continue
		}
		if s.incidentByJob.Has(k) {
			continue
		}
		out = append(out, job)
	}
	return out
}

// LocalVariables returns a copy of the variables defined on scopeKey.
func (s *State) LocalVariables(scopeKey int64) map[string]any {
	vars, _ := s.variables.Get(scopeKey)
	return maps.Clone(vars)
}

// VisibleVariables merges the variables of scopeKey and all of its
// enclosing scopes. Inner scopes shadow outer ones.
func (s *State) VisibleVariables(scopeKey int64) map[string]any {
	chain := s.scopeChain(scopeKey)
	out := make(map[string]any)
	for _, key := range slices.Backward(chain) {
		vars, _ := s.variables.Get(key)
		maps.Copy(out, vars)
	}
	return out
}

// FindVariableScope returns the nearest scope, starting at scopeKey, that
// defines name. If no scope does, it returns the root scope.
func (s *State) FindVariableScope(scopeKey int64, name string) int64 {
	chain := s.scopeChain(scopeKey)
	for _, key := range chain {
		vars, _ := s.variables.Get(key)
		if _, ok := vars[name]; ok {
			return key
		}
	}
	if len(chain) == 0 {
		return scopeKey
	}
	return chain[len(chain)-1]
}

// RootScope returns the outermost scope above scopeKey, which is the
// process instance key for element instances.
func (s *State) RootScope(scopeKey int64) int64 {
	chain := s.scopeChain(scopeKey)
	if len(chain) == 0 {
		return scopeKey
	}
	return chain[len(chain)-1]
}

// scopeChain walks from scopeKey outwards through flow scopes. Keys without
// a live element instance still count as a scope of their own.
func (s *State) scopeChain(scopeKey int64) []int64 {
	var chain []int64
	for key := scopeKey; key > 0; {
		chain = append(chain, key)
		el, ok := s.elements.Get(key)
		if !ok {
			break
		}
		key = el.Value.FlowScopeKey
	}
	return chain
}

// Subscription returns the open subscription under key.
func (s *State) Subscription(key int64) (Subscription, bool) {
	return s.subscriptions.Get(key)
}

// SubscriptionForElement returns the open subscription of a catch event
// instance.
func (s *State) SubscriptionForElement(elementInstanceKey int64) (Subscription, bool) {
	key, ok := s.subByElement.Get(elementInstanceKey)
	if !ok {
		return Subscription{}, false
	}
	return s.subscriptions.Get(key)
}

// MatchingSubscriptions returns the open subscriptions waiting for a message
// with the given name and correlation key, ordered by key.
func (s *State) MatchingSubscriptions(messageName, correlationKey string) []Subscription {
	var out []Subscription
	for _, k := range s.subscriptions.Keys() {
		sub, _ := s.subscriptions.Get(k)
		if sub.Value.MessageName == messageName && sub.Value.CorrelationKey == correlationKey {
			out = append(out, sub)
		}
	}
	return out
}

// Process returns the deployed process definition under key.
func (s *State) Process(key int64) (DeployedProcess, bool) {
	return s.processes.Get(key)
}

// LatestProcess returns the highest deployed version of bpmnProcessID.
func (s *State) LatestProcess(bpmnProcessID string) (DeployedProcess, bool) {
	key, ok := s.latestProcess.Get(bpmnProcessID)
	if !ok {
		return DeployedProcess{}, false
	}
	return s.processes.Get(key)
}
