package realtime

import (
	"encoding/json"
	"errors"
)

type Event string

const (
	EventAll    Event = "*"
	EventInsert Event = "INSERT"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
)

type Status string

const (
	StatusSubscribed Status = "SUBSCRIBED"
	StatusClosed     Status = "CLOSED"
)

var (
	ErrNotSubscribed = errors.New("channel not subscribed")
	ErrClosed        = errors.New("channel closed")
)

// Change is a row-change notification. New and Old carry the JSON encoding
// of the affected row.
type Change struct {
	Table  string          `json:"table"`
	Event  Event           `json:"event"`
	RoomID string          `json:"room_id"`
	New    json.RawMessage `json:"new,omitempty"`
	Old    json.RawMessage `json:"old,omitempty"`
}

func (c Change) DecodeNew(dest any) error {
	if len(c.New) == 0 {
		return errors.New("change has no new record")
	}
	return json.Unmarshal(c.New, dest)
}

// NewChange encodes a row into a change notification.
func NewChange(table string, event Event, roomID string, row any) Change {
	change := Change{
		Table:  table,
		Event:  event,
		RoomID: roomID,
	}
	data, err := json.Marshal(row)
	if err != nil {
		return change
	}
	if event == EventDelete {
		change.Old = data
	} else {
		change.New = data
	}
	return change
}

// Filter selects changes by table, event and room. Empty fields match
// anything, as does EventAll.
type Filter struct {
	Event  Event
	Table  string
	RoomID string
}

func (f Filter) matches(c Change) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAll && f.Event != c.Event {
		return false
	}
	if f.RoomID != "" && f.RoomID != c.RoomID {
		return false
	}
	return true
}

type Broadcast struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Publisher receives row changes from the storage layer.
type Publisher interface {
	PublishChange(c Change)
}

// Forwarder relays locally published traffic to other processes.
type Forwarder interface {
	ForwardChange(c Change)
	ForwardBroadcast(topic string, b Broadcast)
}

func RoomTopic(roomID string) string {
	return "room:" + roomID
}
