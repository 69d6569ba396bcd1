package ir

import "fmt"

// RID identifies one resource instance. Issued by the master at create time
// and immutable afterwards. Clients treat it as opaque.
type RID string

// String implements fmt.Stringer.
func (r RID) String() string {
	return string(r)
}

// Action is a client-authored request to transition a resource's state.
// It carries no ordering information: order is assigned by arrival at the
// master.
type Action struct {
	Type    string  `json:"type" yaml:"type"`
	Payload IRValue `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// NewAction builds an Action from a type and an object payload.
func NewAction(actionType string, payload IRObject) Action {
	return Action{Type: actionType, Payload: payload}
}

// PayloadObject returns the payload as an IRObject. A missing payload is an
// empty object.
func (a Action) PayloadObject() (IRObject, error) {
	switch p := a.Payload.(type) {
	case nil:
		return IRObject{}, nil
	case IRObject:
		return p, nil
	default:
		return nil, fmt.Errorf("action %q: payload must be an object, got %T", a.Type, a.Payload)
	}
}

// AsValue returns the action as an IR object ({type, payload}) suitable for
// canonical encoding. A nil payload canonicalizes as {}.
func (a Action) AsValue() IRObject {
	payload := a.Payload
	if payload == nil {
		payload = IRObject{}
	}
	return IRObject{
		"type":    IRString(a.Type),
		"payload": payload,
	}
}

// ActionFromValue is the inverse of AsValue.
func ActionFromValue(v IRValue) (Action, error) {
	obj, ok := v.(IRObject)
	if !ok {
		return Action{}, fmt.Errorf("action must be an object, got %T", v)
	}
	typ, ok := obj.String("type")
	if !ok || typ == "" {
		return Action{}, fmt.Errorf("action: type is required")
	}
	return Action{Type: typ, Payload: obj["payload"]}, nil
}
