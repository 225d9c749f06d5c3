// Package conflict detects and arbitrates contention among tasks over
// four independent dimensions: resource quantities, spatial areas, tools,
// and time windows. Detection is a pure function of its inputs; resolution
// prefers the higher-priority task and falls back to externally supplied
// alternative finders.
package conflict

import (
	"time"

	"github.com/voxbot/taskforge/internal/task"
)

// Kind discriminates the conflict variants.
type Kind string

const (
	KindResource Kind = "resource"
	KindLocation Kind = "location"
	KindTool     Kind = "tool"
	KindTime     Kind = "time"
)

// Conflict is the sealed union over the four contention dimensions.
// Conflicts are values: produced fresh on each detection pass and
// discarded after resolution.
type Conflict interface {
	ConflictKind() Kind
	ContendingTasks() []string
}

// ResourceConflict means the tasks together require more of an item than
// the inventory currently holds.
type ResourceConflict struct {
	Item              string
	RequiredQuantity  int
	AvailableQuantity int
	TaskIDs           []string
}

func (c ResourceConflict) ConflictKind() Kind        { return KindResource }
func (c ResourceConflict) ContendingTasks() []string { return c.TaskIDs }

// LocationConflict means two tasks' working circles overlap.
type LocationConflict struct {
	Positions []task.Position // parallel to TaskIDs
	TaskIDs   []string
}

func (c LocationConflict) ConflictKind() Kind        { return KindLocation }
func (c LocationConflict) ContendingTasks() []string { return c.TaskIDs }

// ToolConflict means more than one task needs the same exclusive tool.
type ToolConflict struct {
	Tool    string
	TaskIDs []string
}

func (c ToolConflict) ConflictKind() Kind        { return KindTool }
func (c ToolConflict) ContendingTasks() []string { return c.TaskIDs }

// TimeConflict means two tasks' windows overlap. Start and End carry the
// intersection of the contending windows.
type TimeConflict struct {
	Start   time.Time
	End     time.Time
	TaskIDs []string
}

func (c TimeConflict) ConflictKind() Kind        { return KindTime }
func (c TimeConflict) ContendingTasks() []string { return c.TaskIDs }

// Mode says whether a resolution was reached automatically or was handed
// to an operator.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Action is what the resolver decided should happen to settle the conflict.
type Action string

const (
	ActionAdjustQuantity Action = "adjust_quantity"
	ActionMoveLocation   Action = "move_location"
	ActionChangeTool     Action = "change_tool"
	ActionReschedule     Action = "reschedule"
)

// Resolution is the outcome record for one conflict. Transient: returned
// to the caller, not retained by the resolver.
type Resolution struct {
	Conflict Conflict
	Mode     Mode
	Resolved bool
	Action   Action
	Message  string
}

// InventoryOracle reports how much of an item the agent currently holds.
// Queried from the game-world side; assumed consistent for the duration of
// one detection/resolution pass.
type InventoryOracle interface {
	AvailableQuantity(item string) int
}

// AlternativeFinder proposes substitutes that remove a contention for a
// lower-priority task. Each method returns ok=false when no alternative
// exists.
type AlternativeFinder interface {
	AlternativeLocation(taskID string, original task.Position) (task.Position, bool)
	AlternativeTool(taskID string, original string) (string, bool)
	AlternativeTimeWindow(taskID string, original task.TimeWindow) (task.TimeWindow, bool)
}
