// Package plan loads task plans from YAML files. A plan is a named list
// of task definitions plus the inventory snapshot the CLI's resource
// arbitration runs against.
package plan

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/voxbot/taskforge/internal/task"
)

// Plan is the parsed form of a plan file.
type Plan struct {
	Name      string         `yaml:"name"`
	Inventory map[string]int `yaml:"inventory,omitempty"`
	Tasks     []TaskSpec     `yaml:"tasks"`
}

// TaskSpec is one task definition as written in the plan file.
type TaskSpec struct {
	ID           string            `yaml:"id,omitempty"` // generated when omitted
	Type         string            `yaml:"type"`
	Priority     int               `yaml:"priority,omitempty"`
	Parameters   map[string]any    `yaml:"parameters,omitempty"`
	DependsOn    []string          `yaml:"depends_on,omitempty"`
	Requirements *RequirementsSpec `yaml:"requirements,omitempty"`
	Retry        *RetrySpec        `yaml:"retry,omitempty"`
	Timeout      string            `yaml:"timeout,omitempty"` // Go duration string
}

// RequirementsSpec mirrors task.Requirements in YAML form.
type RequirementsSpec struct {
	Items    []ItemSpec    `yaml:"items,omitempty"`
	Tool     string        `yaml:"tool,omitempty"`
	Position *PositionSpec `yaml:"position,omitempty"`
	Window   *WindowSpec   `yaml:"window,omitempty"`
}

// ItemSpec is one item-quantity requirement.
type ItemSpec struct {
	Item     string `yaml:"item"`
	Quantity int    `yaml:"quantity"`
}

// PositionSpec is a target position with working radius.
type PositionSpec struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Z      float64 `yaml:"z"`
	Radius float64 `yaml:"radius"`
}

// WindowSpec is a time window in RFC3339.
type WindowSpec struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// RetrySpec overrides the scheduler's retry defaults for one task.
type RetrySpec struct {
	MaxAttempts  int     `yaml:"max_attempts,omitempty"`
	InitialDelay string  `yaml:"initial_delay,omitempty"`
	MaxDelay     string  `yaml:"max_delay,omitempty"`
	Multiplier   float64 `yaml:"multiplier,omitempty"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses plan YAML and validates task identity and references.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}

	if len(p.Tasks) == 0 {
		return nil, fmt.Errorf("plan contains no tasks")
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		spec := &p.Tasks[i]
		if spec.Type == "" {
			return nil, fmt.Errorf("task %d: missing type", i)
		}
		if spec.ID == "" {
			spec.ID = uuid.NewString()
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("duplicate task id %q", spec.ID)
		}
		seen[spec.ID] = true
	}

	for _, spec := range p.Tasks {
		for _, dep := range spec.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("task %q depends on unknown task %q", spec.ID, dep)
			}
		}
	}

	return &p, nil
}

// BuildTasks converts every spec into the core task model.
func (p *Plan) BuildTasks() ([]*task.Task, error) {
	out := make([]*task.Task, 0, len(p.Tasks))
	for _, spec := range p.Tasks {
		t, err := spec.Task()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Task converts one spec into the core task model.
func (s TaskSpec) Task() (*task.Task, error) {
	t := &task.Task{
		ID:         s.ID,
		Type:       s.Type,
		Priority:   s.Priority,
		Parameters: s.Parameters,
		DependsOn:  s.DependsOn,
	}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("task %q: invalid timeout: %w", s.ID, err)
		}
		t.Timeout = d
	}

	if s.Retry != nil {
		retry, err := s.Retry.policy(s.ID)
		if err != nil {
			return nil, err
		}
		t.Retry = retry
	}

	if s.Requirements != nil {
		reqs, err := s.Requirements.requirements(s.ID)
		if err != nil {
			return nil, err
		}
		t.Requirements = reqs
	}

	return t, nil
}

func (r RetrySpec) policy(taskID string) (task.RetryPolicy, error) {
	policy := task.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		Multiplier:  r.Multiplier,
	}

	if r.InitialDelay != "" {
		d, err := time.ParseDuration(r.InitialDelay)
		if err != nil {
			return policy, fmt.Errorf("task %q: invalid initial_delay: %w", taskID, err)
		}
		policy.InitialDelay = d
	}
	if r.MaxDelay != "" {
		d, err := time.ParseDuration(r.MaxDelay)
		if err != nil {
			return policy, fmt.Errorf("task %q: invalid max_delay: %w", taskID, err)
		}
		policy.MaxDelay = d
	}
	return policy, nil
}

func (r RequirementsSpec) requirements(taskID string) (task.Requirements, error) {
	reqs := task.Requirements{Tool: r.Tool}

	for _, item := range r.Items {
		reqs.Items = append(reqs.Items, task.ItemRequirement{Item: item.Item, Quantity: item.Quantity})
	}

	if r.Position != nil {
		reqs.Position = &task.Position{
			X:      r.Position.X,
			Y:      r.Position.Y,
			Z:      r.Position.Z,
			Radius: r.Position.Radius,
		}
	}

	if r.Window != nil {
		start, err := time.Parse(time.RFC3339, r.Window.Start)
		if err != nil {
			return reqs, fmt.Errorf("task %q: invalid window start: %w", taskID, err)
		}
		end, err := time.Parse(time.RFC3339, r.Window.End)
		if err != nil {
			return reqs, fmt.Errorf("task %q: invalid window end: %w", taskID, err)
		}
		if end.Before(start) {
			return reqs, fmt.Errorf("task %q: window ends before it starts", taskID)
		}
		reqs.Window = &task.TimeWindow{Start: start, End: end}
	}

	return reqs, nil
}
