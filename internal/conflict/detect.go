package conflict

import (
	"sort"

	"github.com/voxbot/taskforge/internal/task"
)

// Detector computes conflicts across all four dimensions in one pass per
// dimension. It holds no mutable state; the inventory oracle is its only
// collaborator.
type Detector struct {
	inventory InventoryOracle
}

// NewDetector creates a detector backed by the given inventory oracle.
func NewDetector(inventory InventoryOracle) *Detector {
	return &Detector{inventory: inventory}
}

// Detect evaluates every dimension independently over the given tasks and
// returns the union of all conflicts found. Tasks lacking the relevant
// requirement are excluded from that dimension's grouping.
func (d *Detector) Detect(tasks []*task.Task) []Conflict {
	// Sort once so grouping and pairwise walks are deterministic.
	sorted := make([]*task.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var conflicts []Conflict
	conflicts = append(conflicts, d.detectResource(sorted)...)
	conflicts = append(conflicts, d.detectLocation(sorted)...)
	conflicts = append(conflicts, d.detectTool(sorted)...)
	conflicts = append(conflicts, d.detectTime(sorted)...)
	return conflicts
}

// DetectForTask seeds the evaluation with a candidate plus the tasks it
// would run alongside (typically the queue's running + ready set).
func (d *Detector) DetectForTask(candidate *task.Task, others []*task.Task) []Conflict {
	all := make([]*task.Task, 0, len(others)+1)
	all = append(all, candidate)
	for _, t := range others {
		if t.ID != candidate.ID {
			all = append(all, t)
		}
	}
	return d.Detect(all)
}

// detectResource groups tasks by required item, sums the quantities, and
// raises a conflict whenever the sum exceeds what the inventory holds.
func (d *Detector) detectResource(tasks []*task.Task) []Conflict {
	type group struct {
		required int
		taskIDs  []string
	}
	groups := make(map[string]*group)
	var items []string

	for _, t := range tasks {
		for _, ir := range t.Requirements.Items {
			g, ok := groups[ir.Item]
			if !ok {
				g = &group{}
				groups[ir.Item] = g
				items = append(items, ir.Item)
			}
			g.required += ir.Quantity
			// A task listing the same item twice contributes its quantity
			// per entry but its id once.
			if n := len(g.taskIDs); n == 0 || g.taskIDs[n-1] != t.ID {
				g.taskIDs = append(g.taskIDs, t.ID)
			}
		}
	}

	var conflicts []Conflict
	for _, item := range items {
		g := groups[item]
		available := d.inventory.AvailableQuantity(item)
		if g.required > available {
			conflicts = append(conflicts, ResourceConflict{
				Item:              item,
				RequiredQuantity:  g.required,
				AvailableQuantity: available,
				TaskIDs:           g.taskIDs,
			})
		}
	}
	return conflicts
}

// detectLocation raises a conflict for every pair of tasks whose working
// circles overlap: distance between centers < sum of radii.
func (d *Detector) detectLocation(tasks []*task.Task) []Conflict {
	var positioned []*task.Task
	for _, t := range tasks {
		if t.Requirements.Position != nil {
			positioned = append(positioned, t)
		}
	}

	var conflicts []Conflict
	for i := 0; i < len(positioned); i++ {
		for j := i + 1; j < len(positioned); j++ {
			a, b := positioned[i], positioned[j]
			pa, pb := *a.Requirements.Position, *b.Requirements.Position
			if pa.DistanceTo(pb) < pa.Radius+pb.Radius {
				conflicts = append(conflicts, LocationConflict{
					Positions: []task.Position{pa, pb},
					TaskIDs:   []string{a.ID, b.ID},
				})
			}
		}
	}
	return conflicts
}

// detectTool groups by required tool; any group with more than one task is
// a conflict. Tools are exclusive: no quantity reasoning.
func (d *Detector) detectTool(tasks []*task.Task) []Conflict {
	groups := make(map[string][]string)
	var tools []string

	for _, t := range tasks {
		tool := t.Requirements.Tool
		if tool == "" {
			continue
		}
		if _, ok := groups[tool]; !ok {
			tools = append(tools, tool)
		}
		groups[tool] = append(groups[tool], t.ID)
	}

	var conflicts []Conflict
	for _, tool := range tools {
		ids := groups[tool]
		if len(ids) > 1 {
			conflicts = append(conflicts, ToolConflict{Tool: tool, TaskIDs: ids})
		}
	}
	return conflicts
}

// detectTime raises a conflict for every pair of overlapping windows,
// reporting the intersection of the two.
func (d *Detector) detectTime(tasks []*task.Task) []Conflict {
	var windowed []*task.Task
	for _, t := range tasks {
		if t.Requirements.Window != nil {
			windowed = append(windowed, t)
		}
	}

	var conflicts []Conflict
	for i := 0; i < len(windowed); i++ {
		for j := i + 1; j < len(windowed); j++ {
			a, b := windowed[i], windowed[j]
			wa, wb := *a.Requirements.Window, *b.Requirements.Window
			if wa.Overlaps(wb) {
				shared := wa.Intersect(wb)
				conflicts = append(conflicts, TimeConflict{
					Start:   shared.Start,
					End:     shared.End,
					TaskIDs: []string{a.ID, b.ID},
				})
			}
		}
	}
	return conflicts
}
