// Package presence abstracts the peer to peer substrate underneath a ZOCP
// node. The substrate discovers peers on the local network, groups them and
// carries opaque payloads between them; it knows nothing about ZOCP frames.
//
// Two implementations are provided: Gyre, which speaks the ZRE protocol over
// real sockets, and the inproc fabric, which connects clients inside one
// process and is what the tests run on.
package presence

// Do not block on delivering events.
const eventBacklog = 10000

type EventType int

const (
	EventEnter EventType = iota + 1
	EventJoin
	EventLeave
	EventExit
	EventWhisper
	EventShout
)

// Converts EventType to string
func (e EventType) String() string {
	switch e {
	case EventEnter:
		return "EventEnter"
	case EventJoin:
		return "EventJoin"
	case EventLeave:
		return "EventLeave"
	case EventExit:
		return "EventExit"
	case EventWhisper:
		return "EventWhisper"
	case EventShout:
		return "EventShout"
	}

	return ""
}

type Event struct {
	eventType EventType         // Event type
	sender    string            // Sender peer id, 32 uppercase hex characters
	name      string            // Sender public name as string
	address   string            // Sender address, for an ENTER event
	headers   map[string]string // Headers, for an ENTER event
	group     string            // Group name for a JOIN, LEAVE or SHOUT event
	msg       []byte            // Message payload for SHOUT or WHISPER
}

// Returns event type, which is a EventType.
func (e *Event) Type() EventType {
	return e.eventType
}

// Returns the sending peer's id as a string.
func (e *Event) Sender() string {
	return e.sender
}

// Returns the sending peer's public name as a string.
func (e *Event) Name() string {
	return e.name
}

// Returns the sending peer's address as a string.
func (e *Event) Addr() string {
	return e.address
}

// Returns the event headers, or nil if there are none
func (e *Event) Headers() map[string]string {
	return e.headers
}

// Returns value of a header from the message headers
// obtained by ENTER.
func (e *Event) Header(name string) (value string, ok bool) {
	value, ok = e.headers[name]
	return
}

// Returns the group name that a JOIN, LEAVE or SHOUT event was sent to.
func (e *Event) Group() string {
	return e.group
}

// Returns the incoming message payload (currently one frame).
func (e *Event) Msg() []byte {
	return e.msg
}

// Client is one endpoint on the substrate. Peers are identified everywhere
// by their 32 character uppercase hex UUID, without dashes.
//
// A Client delivers at most once and preserves the order of frames sent by
// any one peer. Name and headers must be set before Start; headers travel
// with the ENTER announcement and do not change afterwards.
type Client interface {
	// UUID returns our id on the substrate.
	UUID() string

	// Name returns our public name.
	Name() string

	// SetName sets our public name, before Start.
	SetName(name string)

	// SetHeader sets a discovery header, before Start.
	SetHeader(name, value string)

	// PeerHeaderValue looks up a discovery header of a known peer.
	PeerHeaderValue(peer, name string) (string, bool)

	// Peers returns the ids of all peers currently present.
	Peers() []string

	// PeerAddress returns the address a known peer announced itself with.
	PeerAddress(peer string) (string, bool)

	// OwnGroups returns the groups we have joined.
	OwnGroups() []string

	// PeerGroups returns the groups known to have at least one peer in them.
	PeerGroups() []string

	// Join starts receiving SHOUTs sent to group.
	Join(group string)

	// Leave stops receiving SHOUTs sent to group.
	Leave(group string)

	// Whisper sends payload to a single peer. Unknown peers are dropped
	// silently; delivery is best effort.
	Whisper(peer string, payload []byte)

	// Shout sends payload to every member of group except ourselves.
	Shout(group string, payload []byte)

	// Events returns the channel the substrate delivers on. The channel is
	// never closed; after Stop it simply goes quiet.
	Events() <-chan *Event

	// Start announces us on the substrate and begins delivery.
	Start() error

	// Stop withdraws us from the substrate.
	Stop()
}
