package chat

import (
	_ "embed"
	"fmt"

	"github.com/roach88/resync/internal/ir"
	"github.com/roach88/resync/internal/resource"
	"github.com/roach88/resync/internal/schema"
)

// ResourceType is the registered name of the chat type.
const ResourceType = "chat"

// Action types.
const (
	ActionAddParticipant    = "addParticipant"
	ActionRemoveParticipant = "removeParticipant"
	ActionWriteMessage      = "writeMessage"
)

//go:embed schema.cue
var schemaSource string

// Schema returns the compiled CUE schema of chat states.
func Schema() *schema.Schema {
	return schema.MustCompile("chat/schema.cue", schemaSource)
}

// SchemaSource returns the CUE source of the schema.
func SchemaSource() string {
	return schemaSource
}

// Type returns the chat resource type with its reducer and schema.
func Type() resource.Type {
	return resource.Type{
		Name:    ResourceType,
		Reducer: Reduce,
		Schema:  Schema(),
	}
}

// InitialState is an empty room.
func InitialState() ir.IRObject {
	return ir.IRObject{
		"participants": ir.IRObject{},
		"messages":     ir.IRArray{},
	}
}

// AddParticipant builds an addParticipant action.
func AddParticipant(id, color string, at int64) ir.Action {
	return ir.NewAction(ActionAddParticipant, ir.Obj(
		ir.O("id", ir.IRString(id)),
		ir.O("color", ir.IRString(color)),
		ir.O("atTimestamp", ir.IRInt(at)),
	))
}

// RemoveParticipant builds a removeParticipant action.
func RemoveParticipant(id string, at int64) ir.Action {
	return ir.NewAction(ActionRemoveParticipant, ir.Obj(
		ir.O("id", ir.IRString(id)),
		ir.O("atTimestamp", ir.IRInt(at)),
	))
}

// WriteMessage builds a writeMessage action.
func WriteMessage(id, participantID, msg string, at int64) ir.Action {
	return ir.NewAction(ActionWriteMessage, ir.Obj(
		ir.O("id", ir.IRString(id)),
		ir.O("participantId", ir.IRString(participantID)),
		ir.O("msg", ir.IRString(msg)),
		ir.O("atTimestamp", ir.IRInt(at)),
	))
}

// Reduce is the chat reducer. Unknown action types leave the state as is.
func Reduce(state ir.IRValue, action ir.Action) (ir.IRValue, error) {
	room, ok := state.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("chat state must be an object, got %T", state)
	}

	switch action.Type {
	case ActionAddParticipant:
		return addParticipant(room, action)
	case ActionRemoveParticipant:
		return removeParticipant(room, action)
	case ActionWriteMessage:
		return writeMessage(room, action)
	default:
		return room, nil
	}
}

func addParticipant(room ir.IRObject, action ir.Action) (ir.IRValue, error) {
	p, err := action.PayloadObject()
	if err != nil {
		return nil, err
	}
	id, err := requireString(p, "id")
	if err != nil {
		return nil, err
	}
	color, _ := p.String("color")
	at, err := requireInt(p, "atTimestamp")
	if err != nil {
		return nil, err
	}

	// Rejoining resets the entry; leftAt is dropped.
	participant := ir.Obj(
		ir.O("id", ir.IRString(id)),
		ir.O("color", ir.IRString(color)),
		ir.O("active", ir.IRBool(true)),
		ir.O("joinedAt", ir.IRInt(at)),
	)
	participants, _ := room.Object("participants")
	return room.With("participants", participants.With(id, participant)), nil
}

func removeParticipant(room ir.IRObject, action ir.Action) (ir.IRValue, error) {
	p, err := action.PayloadObject()
	if err != nil {
		return nil, err
	}
	id, err := requireString(p, "id")
	if err != nil {
		return nil, err
	}
	at, err := requireInt(p, "atTimestamp")
	if err != nil {
		return nil, err
	}

	participants, _ := room.Object("participants")
	participant, ok := participants.Object(id)
	if !ok {
		return nil, fmt.Errorf("unknown participant %q", id)
	}
	participant = participant.With("active", ir.IRBool(false)).With("leftAt", ir.IRInt(at))
	return room.With("participants", participants.With(id, participant)), nil
}

func writeMessage(room ir.IRObject, action ir.Action) (ir.IRValue, error) {
	p, err := action.PayloadObject()
	if err != nil {
		return nil, err
	}
	participantID, err := requireString(p, "participantId")
	if err != nil {
		return nil, err
	}
	content, _ := p.String("msg")
	id, _ := p.String("id")
	at, err := requireInt(p, "atTimestamp")
	if err != nil {
		return nil, err
	}

	participants, _ := room.Object("participants")
	participant, ok := participants.Object(participantID)
	if !ok {
		return nil, fmt.Errorf("unknown participant %q", participantID)
	}
	if active, _ := participant.Bool("active"); !active {
		return nil, fmt.Errorf("participant %q has left", participantID)
	}

	messages, _ := room.Array("messages")
	next := make(ir.IRArray, len(messages), len(messages)+1)
	copy(next, messages)
	next = append(next, ir.Obj(
		ir.O("content", ir.IRString(content)),
		ir.O("participantId", ir.IRString(participantID)),
		ir.O("at", ir.IRInt(at)),
		ir.O("id", ir.IRString(id)),
	))
	return room.With("messages", next), nil
}

func requireString(p ir.IRObject, key string) (string, error) {
	s, ok := p.String(key)
	if !ok || s == "" {
		return "", fmt.Errorf("payload field %q must be a non-empty string", key)
	}
	return s, nil
}

func requireInt(p ir.IRObject, key string) (int64, error) {
	n, ok := p.Int(key)
	if !ok {
		return 0, fmt.Errorf("payload field %q must be an integer", key)
	}
	return n, nil
}
