package tally

// changeset.go defines the reviewable result of diffing an upload.
//
// Actions form a closed set: AddAction, UpdateAction and DeleteAction. Add and
// update carry the uploaded row; delete carries a snapshot of the persisted
// entity so a reviewer can see exactly what will be deactivated.
//
// On the wire each action is an envelope:
//
//	{"action":"add","enclosure":"enc1","row":{...}}
//	{"action":"update","enclosure":"enc1","row":{...},"changed":["sex"]}
//	{"action":"delete","enclosure":"enc1","snapshot":{...}}

import (
	"encoding/json"
	"fmt"
)

// Op is the operation an Action performs.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Action is one reviewable change to an Animal or Group.
type Action interface {
	Op() Op
	Enclosure() string
	Accession() string
	isAction()
}

// AddAction creates the entity described by Row.
type AddAction struct {
	Row Row
}

func (a AddAction) Op() Op            { return OpAdd }
func (a AddAction) Enclosure() string { return a.Row.Enclosure }
func (a AddAction) Accession() string { return a.Row.Accession }
func (AddAction) isAction()           {}

// UpdateAction overwrites a persisted entity with Row. Changed names the
// attributes whose persisted value differs; it may be empty.
type UpdateAction struct {
	Row     Row
	Changed []string
}

func (a UpdateAction) Op() Op            { return OpUpdate }
func (a UpdateAction) Enclosure() string { return a.Row.Enclosure }
func (a UpdateAction) Accession() string { return a.Row.Accession }
func (UpdateAction) isAction()           {}

// DeleteAction deactivates a persisted entity.
type DeleteAction[T AnimalSet] struct {
	Snapshot T
}

func (a DeleteAction[T]) Op() Op            { return OpDelete }
func (a DeleteAction[T]) Enclosure() string { return a.Snapshot.EnclosureLabel() }
func (a DeleteAction[T]) Accession() string { return a.Snapshot.Accession() }
func (DeleteAction[T]) isAction()           {}

// Changeset is the staged hand-off between stage and confirm.
type Changeset struct {
	Animals    []Action
	Groups     []Action
	Enclosures []string
}

// OpCounts tallies the actions of one kind.
type OpCounts struct {
	Add    int `json:"add"`
	Update int `json:"update"`
	Delete int `json:"delete"`
}

// Total returns the number of actions counted.
func (c OpCounts) Total() int { return c.Add + c.Update + c.Delete }

// Summary counts a changeset's actions per kind.
type Summary struct {
	Animals    OpCounts `json:"animals"`
	Groups     OpCounts `json:"groups"`
	Enclosures int      `json:"enclosures"`
}

// Summary returns per-kind action counts.
func (cs *Changeset) Summary() Summary {
	return Summary{
		Animals:    countOps(cs.Animals),
		Groups:     countOps(cs.Groups),
		Enclosures: len(cs.Enclosures),
	}
}

func countOps(actions []Action) OpCounts {
	var c OpCounts
	for _, a := range actions {
		switch a.Op() {
		case OpAdd:
			c.Add++
		case OpUpdate:
			c.Update++
		case OpDelete:
			c.Delete++
		}
	}
	return c
}

// Empty reports whether the changeset has no actions.
func (cs *Changeset) Empty() bool {
	return len(cs.Animals) == 0 && len(cs.Groups) == 0
}

// UpsertRows returns the rows of every add and update action of both kinds.
func (cs *Changeset) UpsertRows() []Row {
	return append(upsertRowsOf(cs.Animals), upsertRowsOf(cs.Groups)...)
}

type actionEnvelope struct {
	Action    Op              `json:"action"`
	Enclosure string          `json:"enclosure"`
	Row       *Row            `json:"row,omitempty"`
	Changed   []string        `json:"changed,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
}

type changesetJSON struct {
	Animals    []actionEnvelope `json:"animals"`
	Groups     []actionEnvelope `json:"groups"`
	Enclosures []string         `json:"enclosures"`
}

// MarshalJSON encodes actions as tagged envelopes.
func (cs Changeset) MarshalJSON() ([]byte, error) {
	animals, err := encodeActions(cs.Animals)
	if err != nil {
		return nil, err
	}
	groups, err := encodeActions(cs.Groups)
	if err != nil {
		return nil, err
	}
	enclosures := cs.Enclosures
	if enclosures == nil {
		enclosures = []string{}
	}
	return json.Marshal(changesetJSON{Animals: animals, Groups: groups, Enclosures: enclosures})
}

// UnmarshalJSON restores the concrete action types.
func (cs *Changeset) UnmarshalJSON(data []byte) error {
	var raw changesetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	animals, err := decodeActions[Animal](raw.Animals)
	if err != nil {
		return fmt.Errorf("animals: %w", err)
	}
	groups, err := decodeActions[Group](raw.Groups)
	if err != nil {
		return fmt.Errorf("groups: %w", err)
	}
	*cs = Changeset{Animals: animals, Groups: groups, Enclosures: raw.Enclosures}
	return nil
}

func encodeActions(actions []Action) ([]actionEnvelope, error) {
	out := make([]actionEnvelope, 0, len(actions))
	for _, a := range actions {
		env := actionEnvelope{Action: a.Op(), Enclosure: a.Enclosure()}
		switch act := a.(type) {
		case AddAction:
			env.Row = &act.Row
		case UpdateAction:
			env.Row = &act.Row
			env.Changed = act.Changed
		case DeleteAction[Animal]:
			snap, err := json.Marshal(act.Snapshot)
			if err != nil {
				return nil, err
			}
			env.Snapshot = snap
		case DeleteAction[Group]:
			snap, err := json.Marshal(act.Snapshot)
			if err != nil {
				return nil, err
			}
			env.Snapshot = snap
		default:
			return nil, fmt.Errorf("unknown action type %T", a)
		}
		out = append(out, env)
	}
	return out, nil
}

func decodeActions[T AnimalSet](envs []actionEnvelope) ([]Action, error) {
	out := make([]Action, 0, len(envs))
	for i, env := range envs {
		switch env.Action {
		case OpAdd, OpUpdate:
			if env.Row == nil {
				return nil, fmt.Errorf("action %d: %s without row", i, env.Action)
			}
			if env.Action == OpAdd {
				out = append(out, AddAction{Row: *env.Row})
			} else {
				out = append(out, UpdateAction{Row: *env.Row, Changed: env.Changed})
			}
		case OpDelete:
			var snap T
			if len(env.Snapshot) == 0 {
				return nil, fmt.Errorf("action %d: delete without snapshot", i)
			}
			if err := json.Unmarshal(env.Snapshot, &snap); err != nil {
				return nil, fmt.Errorf("action %d: %w", i, err)
			}
			out = append(out, DeleteAction[T]{Snapshot: snap})
		default:
			return nil, fmt.Errorf("action %d: unknown action %q", i, env.Action)
		}
	}
	return out, nil
}
