package state

import (
	"fmt"
	"maps"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/protocol"
)

// Apply folds an event into the state. Commands and rejections leave the
// state untouched. Apply is the only way state changes, which is what makes
// replay from the log reproduce the state exactly.
func (s *State) Apply(rec protocol.Record) error {
	if rec.RecordType != protocol.RecordTypeEvent {
		return nil
	}
	s.observeKey(rec.Key)

	switch v := rec.Value.(type) {
	case protocol.IncidentRecord:
		return s.applyIncident(rec.Key, rec.Intent, v)
	case protocol.JobRecord:
		return s.applyJob(rec.Key, rec.Intent, v)
	case protocol.JobBatchRecord:
		if rec.Intent == protocol.JobBatchActivated {
			s.applyJobBatchActivated(v)
		}
		return nil
	case protocol.ProcessInstanceRecord:
		s.applyElement(rec.Key, rec.Intent, v)
		return nil
	case protocol.VariableDocumentRecord:
		if rec.Intent == protocol.VariableDocumentUpdated {
			s.applyVariables(v)
		}
		return nil
	case protocol.MessageSubscriptionRecord:
		s.applySubscription(rec.Key, rec.Intent, v)
		return nil
	case protocol.DeploymentRecord:
		if rec.Intent == protocol.DeploymentCreated {
			return s.applyDeployment(v)
		}
		return nil
	default:
		// PROCESS_INSTANCE_CREATION and MESSAGE events carry no state of
		// their own; their effects arrive as separate events.
		return nil
	}
}

func (s *State) applyIncident(key int64, intent protocol.Intent, v protocol.IncidentRecord) error {
	switch intent {
	case protocol.IncidentCreated:
		s.incidents.Put(key, v)
		if v.HasElementInstance() {
			s.incidentByElement.Put(v.ElementInstanceKey, key)
		}
		if v.HasJob() {
			s.incidentByJob.Put(v.JobKey, key)
		}
		s.observeKey(v.ElementInstanceKey)

	case protocol.IncidentResolveFailed:
		if !s.incidents.Has(key) {
			return fmt.Errorf("apply %s: incident %d not found", intent, key)
		}
		s.incidents.Put(key, v)

	case protocol.IncidentResolved:
		stored, ok := s.removeIncident(key)
		if !ok {
			return fmt.Errorf("apply %s: incident %d not found", intent, key)
		}
		if stored.HasJob() {
			if job, ok := s.jobs.Get(stored.JobKey); ok && job.State != JobActivated {
				job.State = JobActivatable
				s.jobs.Put(job.Key, job)
			}
		}

	case protocol.IncidentDeleted:
		if _, ok := s.removeIncident(key); !ok {
			return fmt.Errorf("apply %s: incident %d not found", intent, key)
		}
	}
	return nil
}

func (s *State) removeIncident(key int64) (protocol.IncidentRecord, bool) {
	stored, ok := s.incidents.Get(key)
	if !ok {
		return protocol.IncidentRecord{}, false
	}
	if k, ok := s.incidentByElement.Get(stored.ElementInstanceKey); ok && k == key {
		s.incidentByElement.Delete(stored.ElementInstanceKey)
	}
	if k, ok := s.incidentByJob.Get(stored.JobKey); ok && k == key {
		s.incidentByJob.Delete(stored.JobKey)
	}
	s.incidents.Delete(key)
	return stored, true
}

func (s *State) applyJob(key int64, intent protocol.Intent, v protocol.JobRecord) error {
	switch intent {
	case protocol.JobCreated:
		s.jobs.Put(key, Job{Key: key, State: JobActivatable, Value: v})
		if el, ok := s.elements.Get(v.ElementInstanceKey); ok {
			el.JobKey = key
			s.elements.Put(el.Key, el)
		}
		return nil

	case protocol.JobCompleted, protocol.JobCanceled:
		job, ok := s.jobs.Get(key)
		if !ok {
			return fmt.Errorf("apply job %s: job %d not found", intent, key)
		}
		s.jobs.Delete(key)
		if el, ok := s.elements.Get(job.Value.ElementInstanceKey); ok && el.JobKey == key {
			el.JobKey = 0
			s.elements.Put(el.Key, el)
		}
		return nil
	}

	job, ok := s.jobs.Get(key)
	if !ok {
		return fmt.Errorf("apply job %s: job %d not found", intent, key)
	}
	switch intent {
	case protocol.JobFailed:
		job.Value.Retries = v.Retries
		job.Value.ErrorMessage = v.ErrorMessage
		if v.Retries > 0 {
			job.State = JobActivatable
		} else {
			job.State = JobFailed
		}
	case protocol.JobRetriesUpdated:
		job.Value.Retries = v.Retries
	case protocol.JobErrorThrown:
		job.State = JobErrorThrown
		job.Value.ErrorCode = v.ErrorCode
		job.Value.ErrorMessage = v.ErrorMessage
	default:
		return nil
	}
	s.jobs.Put(key, job)
	return nil
}

func (s *State) applyJobBatchActivated(v protocol.JobBatchRecord) {
	for _, key := range v.JobKeys {
		job, ok := s.jobs.Get(key)
		if !ok {
			continue
		}
		job.State = JobActivated
		job.Value.Worker = v.Worker
		s.jobs.Put(key, job)
	}
}

func (s *State) applyElement(key int64, intent protocol.Intent, v protocol.ProcessInstanceRecord) {
	switch intent {
	case protocol.ElementActivating:
		s.elements.Put(key, ElementInstance{Key: key, State: intent, Value: v})
		s.adjustChildren(v.FlowScopeKey, 1)
		if v.FlowScopeKey > 0 {
			s.childIndex.Add(v.FlowScopeKey, key)
		}
		if v.BPMNElementType == string(model.ElementProcess) && v.ParentElementInstanceKey > 0 {
			if parent, ok := s.elements.Get(v.ParentElementInstanceKey); ok {
				parent.ChildProcessInstanceKey = key
				s.elements.Put(parent.Key, parent)
			}
		}

	case protocol.ElementActivated, protocol.GatewayActivated, protocol.ElementCompleting, protocol.ElementTerminating:
		if el, ok := s.elements.Get(key); ok {
			el.State = intent
			s.elements.Put(key, el)
		}

	case protocol.ElementCompleted, protocol.ElementTerminated:
		el, ok := s.elements.Get(key)
		if !ok {
			return
		}
		s.elements.Delete(key)
		s.variables.Delete(key)
		s.childIndex.Remove(el.Value.FlowScopeKey, key)
		s.adjustChildren(v.FlowScopeKey, -1)
		if v.BPMNElementType == string(model.ElementProcess) && v.ParentElementInstanceKey > 0 {
			if parent, ok := s.elements.Get(v.ParentElementInstanceKey); ok && parent.ChildProcessInstanceKey == key {
				parent.ChildProcessInstanceKey = 0
				s.elements.Put(parent.Key, parent)
			}
		}
	}
}

func (s *State) adjustChildren(flowScopeKey int64, delta int) {
	if flowScopeKey <= 0 {
		return
	}
	if scope, ok := s.elements.Get(flowScopeKey); ok {
		scope.ActiveChildren += delta
		s.elements.Put(flowScopeKey, scope)
	}
}

func (s *State) applyVariables(v protocol.VariableDocumentRecord) {
	current, _ := s.variables.Get(v.ScopeKey)
	updated := make(map[string]any, len(current)+len(v.Variables))
	maps.Copy(updated, current)
	maps.Copy(updated, v.Variables)
	s.variables.Put(v.ScopeKey, updated)
}

func (s *State) applySubscription(key int64, intent protocol.Intent, v protocol.MessageSubscriptionRecord) {
	switch intent {
	case protocol.MessageSubscriptionOpened:
		s.subscriptions.Put(key, Subscription{Key: key, Value: v})
		s.subByElement.Put(v.ElementInstanceKey, key)
	case protocol.MessageSubscriptionCorrelated, protocol.MessageSubscriptionClosed:
		sub, ok := s.subscriptions.Get(key)
		if !ok {
			return
		}
		s.subscriptions.Delete(key)
		if current, ok := s.subByElement.Get(sub.Value.ElementInstanceKey); ok && current == key {
			s.subByElement.Delete(sub.Value.ElementInstanceKey)
		}
	}
}

func (s *State) applyDeployment(v protocol.DeploymentRecord) error {
	resources := make(map[string]protocol.DeploymentResource, len(v.Resources))
	for _, r := range v.Resources {
		resources[r.Name] = r
	}

	for _, meta := range v.Processes {
		res, ok := resources[meta.ResourceName]
		if !ok {
			return fmt.Errorf("apply deployment: resource %q not found", meta.ResourceName)
		}
		p, err := model.Parse(res.Content)
		if err != nil {
			return fmt.Errorf("apply deployment: %w", err)
		}

		s.observeKey(meta.ProcessDefinitionKey)
		s.processes.Put(meta.ProcessDefinitionKey, DeployedProcess{
			Key:           meta.ProcessDefinitionKey,
			BPMNProcessID: meta.BPMNProcessID,
			Version:       meta.Version,
			ResourceName:  meta.ResourceName,
			Resource:      res.Content,
			Model:         p,
		})

		latestKey, ok := s.latestProcess.Get(meta.BPMNProcessID)
		if latest, found := s.processes.Get(latestKey); !ok || !found || meta.Version > latest.Version {
			s.latestProcess.Put(meta.BPMNProcessID, meta.ProcessDefinitionKey)
		}
	}
	return nil
}
