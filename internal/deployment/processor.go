// Package deployment handles DEPLOYMENT CREATE: it validates process
// resources and assigns definition keys and versions.
package deployment

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// Processor handles DEPLOYMENT commands.
type Processor struct {
	state *state.State
}

// NewProcessor creates the deployment command handler.
func NewProcessor(st *state.State) *Processor {
	return &Processor{state: st}
}

// Register adds the DEPLOYMENT route to d.
func (p *Processor) Register(d *processing.Dispatcher) error {
	return d.RegisterFunc(protocol.ValueTypeDeployment, protocol.DeploymentCreate, p.create)
}

// create versions every resource of the deployment. A resource identical
// to the latest deployed version of its process keeps that version and key.
func (p *Processor) create(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	req, ok := cmd.Value.(protocol.DeploymentRecord)
	if !ok {
		return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected a deployment value, but got %s", cmd.ValueType)
	}
	if len(req.Resources) == 0 {
		return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected to deploy at least one resource, but none given")
	}

	created := protocol.DeploymentRecord{Resources: make([]protocol.DeploymentResource, 0, len(req.Resources))}
	seenNames := make(map[string]bool, len(req.Resources))
	seenIDs := make(map[string]string, len(req.Resources))
	for _, res := range req.Resources {
		if res.Name == "" {
			return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected every resource to have a name, but one was empty")
		}
		if seenNames[res.Name] {
			return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected resource names to be unique, but '%s' is given twice", res.Name)
		}
		seenNames[res.Name] = true

		proc, err := model.Parse(res.Content)
		if err != nil {
			return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected to deploy a valid process in resource '%s', but: %s", res.Name, err.Error())
		}
		if other, dup := seenIDs[proc.ID]; dup {
			return processing.NewRejection(protocol.RejectionInvalidArgument,
				"Expected process ids to be unique within a deployment, but '%s' is defined in '%s' and '%s'", proc.ID, other, res.Name)
		}
		seenIDs[proc.ID] = res.Name

		content, err := protocol.MarshalCanonical(res.Content)
		if err != nil {
			return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected resource '%s' to be JSON, but: %s", res.Name, err.Error())
		}
		created.Resources = append(created.Resources, protocol.DeploymentResource{Name: res.Name, Content: content})
		created.Processes = append(created.Processes, p.version(proc.ID, res.Name, content))
	}

	if _, err := w.AppendEvent(p.state.NextKey(), protocol.DeploymentCreated, created); err != nil {
		return err
	}
	for _, meta := range created.Processes {
		ctxlog.FromContext(ctx).Info("process deployed",
			"process", meta.BPMNProcessID,
			"version", meta.Version,
			"definition", meta.ProcessDefinitionKey,
		)
	}
	return nil
}

func (p *Processor) version(processID, resourceName string, content json.RawMessage) protocol.ProcessMetadata {
	meta := protocol.ProcessMetadata{BPMNProcessID: processID, Version: 1, ResourceName: resourceName}
	if latest, ok := p.state.LatestProcess(processID); ok {
		if bytes.Equal(latest.Resource, content) {
			meta.Version = latest.Version
			meta.ProcessDefinitionKey = latest.Key
			return meta
		}
		meta.Version = latest.Version + 1
	}
	meta.ProcessDefinitionKey = p.state.NextKey()
	return meta
}
