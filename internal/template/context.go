package template

import (
	"maps"

	"testbed/internal/api"
)

// ResourceView is what templates see of a started resource.
type ResourceView struct {
	Name    string
	Address string
	Values  map[string]any
}

// ContextView identifies the running test context.
type ContextView struct {
	ID      string
	Fixture string
}

// Data is the root object property templates are executed against.
type Data struct {
	Resources map[string]ResourceView
	Env       map[string]string
	Context   ContextView
}

// ViewOf returns the template view of a started resource.
func ViewOf(inst *api.ResourceInstance) ResourceView {
	return ResourceView{
		Name:    inst.Name(),
		Address: inst.Address(),
		Values:  inst.Values(),
	}
}

// MergeEnv merges multiple environments into one.
// Later environments override values from earlier ones.
func MergeEnv(envs ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, env := range envs {
		maps.Copy(result, env)
	}
	return result
}
