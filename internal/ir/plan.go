package ir

// Action is the operation a plan schedules for one resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNoop   Action = "noop"
)

// Plan is the ordered list of resource changes derived from the dependency
// graph for one apply run. Changes appear in creation order; deletions in
// reverse creation order at the end.
type Plan struct {
	Metadata *PlanMetadata     `pkl:"metadata"`
	Changes  []*ResourceChange `pkl:"changes"`
	Summary  *PlanSummary      `pkl:"summary"`
	Outputs  map[string]string `pkl:"outputs"`
}

type PlanMetadata struct {
	Timestamp string `pkl:"timestamp"`
}

type ResourceChange struct {
	Address string                   `pkl:"address"`
	Action  Action                   `pkl:"action"`
	Desired *Resource                `pkl:"resource"`
	Prior   *ResourceState           `pkl:"prior"`
	Diff    map[string]*PropertyDiff `pkl:"diff"`
}

type PropertyDiff struct {
	Before    any    `pkl:"before"`
	After     any    `pkl:"after"`
	Sensitive bool   `pkl:"sensitive"`
	Action    Action `pkl:"action"`
}

type PlanSummary struct {
	Create int `pkl:"create"`
	Update int `pkl:"update"`
	Delete int `pkl:"delete"`
	NoOp   int `pkl:"noop"`
}

// HasChanges reports whether the plan schedules any provider operation.
func (p *Plan) HasChanges() bool {
	return len(p.Changes) > 0
}
