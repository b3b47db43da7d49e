// Package registry implements the static message-schema table (C2): a
// read-only lookup from (channel, id, direction) to a schema descriptor
// carrying its dispatch mode, permission class, and handler.
//
// Grounded on original_source/include/keepkey/board/messages.h's
// MessagesMap_t table and the MSG_IN/MSG_OUT/RAW_IN macro family; the Go
// shape (map-literal built once, looked up by a composite key) follows the
// teacher's internal/bfd/fsm.go fsmTable idiom.
package registry

import (
	"errors"
	"fmt"

	"github.com/keepkey/hostcore/internal/proto"
)

// Channel distinguishes the normal host channel from the debug-link channel.
type Channel uint8

const (
	ChannelNormal Channel = iota
	ChannelDebug
)

func (c Channel) String() string {
	if c == ChannelDebug {
		return "debug"
	}
	return "normal"
}

// Direction records whether a schema describes an inbound or outbound
// message.
type Direction uint8

const (
	DirectionInFromHost Direction = iota
	DirectionOutToHost
)

// Dispatch selects whether the dispatcher decodes the whole body before
// invoking the handler (Parsed) or streams raw chunks to it (Raw).
type Dispatch uint8

const (
	DispatchParsed Dispatch = iota
	DispatchRaw
)

// Permission gates a message to a particular manufacturing mode.
type Permission uint8

const (
	PermissionAny Permission = iota
	PermissionFactoryOnly
	PermissionFactoryProhibited
)

// ErrPermissionDenied is returned when an entry's permission class is
// inconsistent with the device's current manufacturing mode.
var ErrPermissionDenied = errors.New("registry: permission denied for device mode")

// Allowed reports whether a message with this permission class may be
// dispatched on a device currently in Factory mode (or not).
func (p Permission) Allowed(factory bool) bool {
	switch p {
	case PermissionFactoryOnly:
		return factory
	case PermissionFactoryProhibited:
		return !factory
	default:
		return true
	}
}

// ParsedHandler decodes and reacts to a fully reassembled Parsed message.
// body is the raw, still-encoded bytes; the handler is responsible for
// unmarshaling into its own schema type.
type ParsedHandler func(body []byte) error

// RawHandler streams chunks of a Raw message's body as they arrive.
// total is the declared length of the entire body; final is true on the
// last chunk (cursor has reached total).
type RawHandler func(chunk []byte, total uint32, final bool) error

// Entry is one immutable row of the message registry.
type Entry struct {
	ID         proto.MessageID
	Channel    Channel
	Direction  Direction
	Dispatch   Dispatch
	Permission Permission

	// On inbound entries exactly one of Parsed/Raw is set, matching
	// Dispatch; outbound entries set neither.
	Parsed ParsedHandler
	Raw    RawHandler
}

type key struct {
	channel   Channel
	id        proto.MessageID
	direction Direction
}

// Registry is the read-only, O(1)-lookup message schema table. The zero
// value is not usable; construct with New.
type Registry struct {
	entries map[key]*Entry
}

// New builds a Registry from a fixed slice of entries, as if assembled from
// a static table at initialization. Duplicate (channel, id, direction)
// keys are a programming error and panic immediately, mirroring a
// C static-initializer table that can't contain duplicate rows either.
func New(entries []Entry) *Registry {
	r := &Registry{entries: make(map[key]*Entry, len(entries))}
	for i := range entries {
		e := &entries[i]
		k := key{channel: e.Channel, id: e.ID, direction: e.Direction}
		if _, dup := r.entries[k]; dup {
			panic(fmt.Sprintf("registry: duplicate entry for channel=%s id=%s direction=%d", e.Channel, e.ID, e.Direction))
		}
		r.entries[k] = e
	}
	return r
}

// Lookup resolves an entry by (channel, id, direction). The second return
// value is false both when the id is entirely absent and when it exists
// only under a different channel or direction -- callers must not treat a
// direction/channel mismatch as equivalent to a present entry.
func (r *Registry) Lookup(channel Channel, id proto.MessageID, direction Direction) (*Entry, bool) {
	e, ok := r.entries[key{channel: channel, id: id, direction: direction}]
	return e, ok
}

// CheckPermission resolves an entry and additionally enforces its
// permission class against the device's manufacturing mode.
func (r *Registry) CheckPermission(channel Channel, id proto.MessageID, direction Direction, factory bool) (*Entry, error) {
	e, ok := r.Lookup(channel, id, direction)
	if !ok {
		return nil, fmt.Errorf("registry: no entry for channel=%s id=%s direction=%d", channel, id, direction)
	}
	if !e.Permission.Allowed(factory) {
		return nil, fmt.Errorf("%w: channel=%s id=%s factory=%v", ErrPermissionDenied, channel, id, factory)
	}
	return e, nil
}
