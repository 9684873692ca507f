package model

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

//go:embed schema.cue
var schemaCUE string

// LoadError reports a CUE loading or schema failure for a models directory.
type LoadError struct {
	Dir     string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load models %s: %s: %v", e.Dir, e.Message, e.Err)
	}
	return fmt.Sprintf("load models %s: %s", e.Dir, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadDir loads every process declared under `processes` in the CUE
// package found in dir. Each process is unified with the embedded schema
// and then validated like a JSON deployment resource.
//
// Processes are returned sorted by id.
func LoadDir(dir string) ([]*Process, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{Dir: dir, Message: "cannot access directory", Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Dir: dir, Message: "not a directory"}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &LoadError{Dir: dir, Message: "scan directory", Err: err}
	}
	if len(files) == 0 {
		return nil, &LoadError{Dir: dir, Message: "no CUE files found"}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &LoadError{Dir: dir, Message: "compile schema", Err: err}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	var processes []*Process
	for _, inst := range instances {
		if inst.Err != nil {
			return nil, &LoadError{Dir: dir, Message: "load instance", Err: inst.Err}
		}

		value := ctx.BuildInstance(inst)
		if err := value.Err(); err != nil {
			return nil, &LoadError{Dir: dir, Message: "build instance", Err: err}
		}

		unified := schema.Unify(value)
		if err := unified.Validate(cue.Concrete(true)); err != nil {
			return nil, &LoadError{Dir: dir, Message: "schema validation", Err: err}
		}

		declared := unified.LookupPath(cue.ParsePath("processes"))
		if !declared.Exists() {
			continue
		}
		iter, err := declared.Fields()
		if err != nil {
			return nil, &LoadError{Dir: dir, Message: "iterate processes", Err: err}
		}
		for iter.Next() {
			p, err := decodeProcess(iter.Value())
			if err != nil {
				return nil, &LoadError{Dir: dir, Message: fmt.Sprintf("process %s", iter.Selector().Unquoted()), Err: err}
			}
			processes = append(processes, p)
		}
	}

	if len(processes) == 0 {
		return nil, &LoadError{Dir: dir, Message: "no processes declared"}
	}
	sort.Slice(processes, func(i, j int) bool { return processes[i].ID < processes[j].ID })
	return processes, nil
}

// decodeProcess round-trips through JSON so CUE models and deployment
// resources share a single validation path.
func decodeProcess(v cue.Value) (*Process, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
