package conflict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voxbot/taskforge/internal/task"
)

// TaskSource resolves task IDs back to their scheduling nodes. The queue
// satisfies this.
type TaskSource interface {
	Get(id string) (*task.Node, bool)
}

// Resolver attempts to settle detected conflicts without operator
// intervention, preferring the higher-priority task. Alternative finding
// is delegated to the injected AlternativeFinder; a nil finder means no
// alternatives exist.
type Resolver struct {
	tasks       TaskSource
	inventory   InventoryOracle
	finder      AlternativeFinder
	escalations *Escalations
}

// NewResolver creates a resolver. escalations may be nil to disable
// operator hand-off of unresolved conflicts.
func NewResolver(tasks TaskSource, inventory InventoryOracle, finder AlternativeFinder, escalations *Escalations) *Resolver {
	return &Resolver{
		tasks:       tasks,
		inventory:   inventory,
		finder:      finder,
		escalations: escalations,
	}
}

// Resolve arbitrates one conflict. All internally produced resolutions are
// ModeAuto. An unknown conflict variant is a programming error, not a
// runtime-recoverable condition.
func (r *Resolver) Resolve(c Conflict) (Resolution, error) {
	switch c := c.(type) {
	case ResourceConflict:
		return r.resolveResource(c), nil
	case LocationConflict:
		return r.resolveLocation(c), nil
	case ToolConflict:
		return r.resolveTool(c), nil
	case TimeConflict:
		return r.resolveTime(c), nil
	default:
		return Resolution{}, fmt.Errorf("unhandled conflict variant %T", c)
	}
}

// ResolveAll resolves every conflict in order. Unresolved resolutions are
// offered to the escalation channel when one is configured.
func (r *Resolver) ResolveAll(conflicts []Conflict) ([]Resolution, error) {
	out := make([]Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		res, err := r.Resolve(c)
		if err != nil {
			return out, err
		}
		if !res.Resolved && r.escalations != nil {
			r.escalations.Offer(res)
		}
		out = append(out, res)
	}
	return out, nil
}

// resolveResource walks the tasks in priority order, greedily allocating
// from the available pool. The first task that doesn't fit fails the
// resolution.
func (r *Resolver) resolveResource(c ResourceConflict) Resolution {
	remaining := c.AvailableQuantity
	for _, node := range r.byPriority(c.TaskIDs) {
		need := node.Task.Requirements.ItemQuantity(c.Item)
		if need > remaining {
			return Resolution{
				Conflict: c,
				Mode:     ModeAuto,
				Resolved: false,
				Action:   ActionAdjustQuantity,
				Message: fmt.Sprintf("task %s needs %d %s but only %d remain after higher-priority allocation",
					node.Task.ID, need, c.Item, remaining),
			}
		}
		remaining -= need
	}

	return Resolution{
		Conflict: c,
		Mode:     ModeAuto,
		Resolved: true,
		Action:   ActionAdjustQuantity,
		Message:  fmt.Sprintf("all requirements for %s fit within the available %d", c.Item, c.AvailableQuantity),
	}
}

// resolveLocation keeps the highest-priority task in place and tries to
// relocate each lower-priority task in turn.
func (r *Resolver) resolveLocation(c LocationConflict) Resolution {
	nodes := r.byPriority(c.TaskIDs)
	if len(nodes) < 2 {
		return r.trivial(c, ActionMoveLocation)
	}

	for _, node := range nodes[1:] {
		pos := node.Task.Requirements.Position
		if pos == nil || r.finder == nil {
			continue
		}
		if alt, ok := r.finder.AlternativeLocation(node.Task.ID, *pos); ok {
			return Resolution{
				Conflict: c,
				Mode:     ModeAuto,
				Resolved: true,
				Action:   ActionMoveLocation,
				Message: fmt.Sprintf("task %s moves to (%.1f, %.1f, %.1f); %s keeps its site",
					node.Task.ID, alt.X, alt.Y, alt.Z, nodes[0].Task.ID),
			}
		}
	}

	return Resolution{
		Conflict: c,
		Mode:     ModeAuto,
		Resolved: false,
		Action:   ActionMoveLocation,
		Message:  fmt.Sprintf("no alternative location frees the area for %s", strings.Join(c.TaskIDs, ", ")),
	}
}

// resolveTool keeps the highest-priority task on the contended tool and
// tries to re-equip each lower-priority task.
func (r *Resolver) resolveTool(c ToolConflict) Resolution {
	nodes := r.byPriority(c.TaskIDs)
	if len(nodes) < 2 {
		return r.trivial(c, ActionChangeTool)
	}

	for _, node := range nodes[1:] {
		if r.finder == nil {
			break
		}
		if alt, ok := r.finder.AlternativeTool(node.Task.ID, c.Tool); ok {
			return Resolution{
				Conflict: c,
				Mode:     ModeAuto,
				Resolved: true,
				Action:   ActionChangeTool,
				Message: fmt.Sprintf("task %s switches to %s; %s keeps %s",
					node.Task.ID, alt, nodes[0].Task.ID, c.Tool),
			}
		}
	}

	return Resolution{
		Conflict: c,
		Mode:     ModeAuto,
		Resolved: false,
		Action:   ActionChangeTool,
		Message:  fmt.Sprintf("no alternative tool available for %s", c.Tool),
	}
}

// resolveTime keeps the highest-priority task's window and tries to
// reschedule each lower-priority task.
func (r *Resolver) resolveTime(c TimeConflict) Resolution {
	nodes := r.byPriority(c.TaskIDs)
	if len(nodes) < 2 {
		return r.trivial(c, ActionReschedule)
	}

	for _, node := range nodes[1:] {
		win := node.Task.Requirements.Window
		if win == nil || r.finder == nil {
			continue
		}
		if alt, ok := r.finder.AlternativeTimeWindow(node.Task.ID, *win); ok {
			return Resolution{
				Conflict: c,
				Mode:     ModeAuto,
				Resolved: true,
				Action:   ActionReschedule,
				Message: fmt.Sprintf("task %s reschedules to [%s, %s]; %s keeps its window",
					node.Task.ID, alt.Start.Format("15:04:05"), alt.End.Format("15:04:05"), nodes[0].Task.ID),
			}
		}
	}

	return Resolution{
		Conflict: c,
		Mode:     ModeAuto,
		Resolved: false,
		Action:   ActionReschedule,
		Message:  fmt.Sprintf("no alternative time window for %s", strings.Join(c.TaskIDs, ", ")),
	}
}

func (r *Resolver) trivial(c Conflict, action Action) Resolution {
	return Resolution{
		Conflict: c,
		Mode:     ModeAuto,
		Resolved: true,
		Action:   action,
		Message:  "fewer than two resolvable tasks remain in contention",
	}
}

// byPriority resolves the IDs to nodes (skipping any the source no longer
// knows) and sorts them descending by priority, ties broken by ID so the
// outcome is deterministic.
func (r *Resolver) byPriority(ids []string) []*task.Node {
	nodes := make([]*task.Node, 0, len(ids))
	for _, id := range ids {
		if node, ok := r.tasks.Get(id); ok {
			nodes = append(nodes, node)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Task.Priority != nodes[j].Task.Priority {
			return nodes[i].Task.Priority > nodes[j].Task.Priority
		}
		return nodes[i].Task.ID < nodes[j].Task.ID
	})
	return nodes
}
