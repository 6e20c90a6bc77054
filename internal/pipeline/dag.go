package pipeline

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/openaq-sync/internal/model"
)

// Task names.
const (
	TaskCreateTables        = "create_tables"
	TaskExtractCountries    = "extract_countries"
	TaskExtractLocations    = "extract_locations"
	TaskExtractParameters   = "extract_parameters"
	TaskLoadCountries       = "load_countries"
	TaskLoadLocations       = "load_locations"
	TaskLoadParameters      = "load_parameters"
	TaskDiscoverSensors     = "discover_sensors"
	TaskExtractMeasurements = "extract_measurements"
	TaskLoadMeasurements    = "load_measurements"
	TaskValidate            = "validate"
)

// edges is the fixed dependency graph, listed in a valid execution order.
var edges = []struct {
	name string
	deps []string
}{
	{TaskCreateTables, nil},
	{TaskExtractCountries, []string{TaskCreateTables}},
	{TaskExtractLocations, []string{TaskCreateTables}},
	{TaskExtractParameters, []string{TaskCreateTables}},
	{TaskLoadCountries, []string{TaskExtractCountries}},
	{TaskLoadLocations, []string{TaskExtractLocations}},
	{TaskLoadParameters, []string{TaskExtractParameters}},
	{TaskDiscoverSensors, []string{TaskLoadLocations}},
	{TaskExtractMeasurements, []string{TaskDiscoverSensors}},
	{TaskLoadMeasurements, []string{TaskExtractMeasurements}},
	{TaskValidate, []string{TaskLoadCountries, TaskLoadLocations, TaskLoadParameters, TaskLoadMeasurements}},
}

// TaskNames returns every task in execution order.
func TaskNames() []string {
	names := make([]string, len(edges))
	for i, e := range edges {
		names[i] = e.name
	}
	return names
}

// DependsOn returns the direct dependencies of a task.
func DependsOn(name string) ([]string, bool) {
	for _, e := range edges {
		if e.name == name {
			return slices.Clone(e.deps), true
		}
	}
	return nil, false
}

// TaskFunc is the body of one task attempt.
type TaskFunc func(ctx context.Context, runID string) (*model.TaskResult, error)

// Task is one node of the graph.
type Task struct {
	Name string
	Deps []string
	Run  TaskFunc
}

// checkGraph verifies names are unique, every dependency exists and the
// graph has no cycle. It returns the tasks in topological order.
func checkGraph(tasks []Task) ([]Task, error) {
	byName := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		if t.Name == "" {
			return nil, eris.New("pipeline: task with empty name")
		}
		if t.Run == nil {
			return nil, eris.Errorf("pipeline: task %s has no body", t.Name)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, eris.Errorf("pipeline: duplicate task %s", t.Name)
		}
		byName[t.Name] = t
	}

	indegree := make(map[string]int, len(tasks))
	children := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, d := range t.Deps {
			if _, ok := byName[d]; !ok {
				return nil, eris.Errorf("pipeline: task %s depends on unknown task %s", t.Name, d)
			}
			indegree[t.Name]++
			children[d] = append(children[d], t.Name)
		}
	}

	// Kahn's algorithm, seeded in declaration order so the result is stable.
	var queue []string
	for _, t := range tasks {
		if indegree[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}
	ordered := make([]Task, 0, len(tasks))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byName[name])
		for _, c := range children[name] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if len(ordered) != len(tasks) {
		return nil, eris.New("pipeline: dependency cycle")
	}
	return ordered, nil
}

// downstream returns every task that transitively depends on name.
func downstream(tasks []Task, name string) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(string)
	walk = func(n string) {
		for _, t := range tasks {
			if slices.Contains(t.Deps, n) && !seen[t.Name] {
				seen[t.Name] = true
				out = append(out, t.Name)
				walk(t.Name)
			}
		}
	}
	walk(name)
	return out
}
