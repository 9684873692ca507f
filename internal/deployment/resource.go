package deployment

import (
	"fmt"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/protocol"
)

// Resource serializes p as a deployment resource named after its id.
func Resource(p *model.Process) (protocol.DeploymentResource, error) {
	content, err := p.Marshal()
	if err != nil {
		return protocol.DeploymentResource{}, fmt.Errorf("serialize process %q: %w", p.ID, err)
	}
	return protocol.DeploymentResource{Name: p.ID + ".json", Content: content}, nil
}

// Resources serializes every process.
func Resources(processes []*model.Process) ([]protocol.DeploymentResource, error) {
	out := make([]protocol.DeploymentResource, 0, len(processes))
	for _, p := range processes {
		res, err := Resource(p)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
