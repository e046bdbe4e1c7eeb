package presence

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InprocFabric connects Clients inside a single process. Delivery is a
// plain channel send, so after Whisper or Shout returns the frame is
// already queued on the target; there is no network in between. That
// makes node behaviour reproducible in tests without sleeps.
//
// The fabric mimics ZRE semantics: starting a client announces it with
// ENTER to everyone already present (and vice versa), group joins and
// leaves are broadcast to all clients, shouts reach group members only,
// and a client's own shouts and whispers are never echoed back to it.
type InprocFabric struct {
	mu      sync.Mutex
	clients map[string]*InprocClient
}

// InprocClient is one endpoint on an InprocFabric.
type InprocClient struct {
	fabric  *InprocFabric
	id      string
	name    string
	headers map[string]string
	groups  map[string]struct{}
	events  chan *Event
	started bool
	stopped bool
}

func NewInprocFabric() *InprocFabric {
	return &InprocFabric{
		clients: make(map[string]*InprocClient),
	}
}

// NewClient creates a new endpoint on the fabric. Like a real node it is
// invisible to the others until Start.
func (f *InprocFabric) NewClient() *InprocClient {
	u := uuid.New()
	id := fmt.Sprintf("%X", u[:])

	c := &InprocClient{
		fabric:  f,
		id:      id,
		name:    id[:6],
		headers: make(map[string]string),
		groups:  make(map[string]struct{}),
		events:  make(chan *Event, eventBacklog),
	}

	f.mu.Lock()
	f.clients[id] = c
	f.mu.Unlock()

	return c
}

func (c *InprocClient) UUID() string {
	return c.id
}

func (c *InprocClient) Name() string {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()
	return c.name
}

func (c *InprocClient) SetName(name string) {
	c.fabric.mu.Lock()
	c.name = name
	c.fabric.mu.Unlock()
}

func (c *InprocClient) SetHeader(name, value string) {
	c.fabric.mu.Lock()
	c.headers[name] = value
	c.fabric.mu.Unlock()
}

func (c *InprocClient) PeerHeaderValue(peer, name string) (string, bool) {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	p, ok := c.fabric.clients[peer]
	if !ok || !p.started {
		return "", false
	}
	value, ok := p.headers[name]
	return value, ok
}

func (c *InprocClient) Peers() []string {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	var peers []string
	for id, p := range c.fabric.clients {
		if p != c && p.started {
			peers = append(peers, id)
		}
	}
	return peers
}

func (c *InprocClient) PeerAddress(peer string) (string, bool) {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	p, ok := c.fabric.clients[peer]
	if !ok || !p.started {
		return "", false
	}
	return p.addr(), true
}

func (c *InprocClient) addr() string {
	return "inproc://" + c.id
}

func (c *InprocClient) OwnGroups() []string {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	var groups []string
	for g := range c.groups {
		groups = append(groups, g)
	}
	return groups
}

func (c *InprocClient) PeerGroups() []string {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	seen := make(map[string]struct{})
	for _, p := range c.fabric.clients {
		if p == c || !p.started {
			continue
		}
		for g := range p.groups {
			seen[g] = struct{}{}
		}
	}
	var groups []string
	for g := range seen {
		groups = append(groups, g)
	}
	return groups
}

func (c *InprocClient) Join(group string) {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	if _, ok := c.groups[group]; ok {
		return
	}
	c.groups[group] = struct{}{}

	if !c.started {
		return
	}
	for _, p := range c.fabric.clients {
		if p != c && p.started {
			p.deliver(&Event{eventType: EventJoin, sender: c.id, name: c.name, group: group})
		}
	}
}

func (c *InprocClient) Leave(group string) {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	if _, ok := c.groups[group]; !ok {
		return
	}
	delete(c.groups, group)

	if !c.started {
		return
	}
	for _, p := range c.fabric.clients {
		if p != c && p.started {
			p.deliver(&Event{eventType: EventLeave, sender: c.id, name: c.name, group: group})
		}
	}
}

func (c *InprocClient) Whisper(peer string, payload []byte) {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	if !c.started {
		return
	}
	p, ok := c.fabric.clients[peer]
	if !ok || p == c || !p.started {
		return
	}
	p.deliver(&Event{eventType: EventWhisper, sender: c.id, name: c.name, msg: payload})
}

func (c *InprocClient) Shout(group string, payload []byte) {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	if !c.started {
		return
	}
	for _, p := range c.fabric.clients {
		if p == c || !p.started {
			continue
		}
		if _, ok := p.groups[group]; ok {
			p.deliver(&Event{eventType: EventShout, sender: c.id, name: c.name, group: group, msg: payload})
		}
	}
}

func (c *InprocClient) Events() <-chan *Event {
	return c.events
}

// Start announces the client on the fabric. Everyone already present gets
// our ENTER followed by a JOIN per group we are in, and we get theirs,
// exactly like a ZRE HELLO exchange plays out.
func (c *InprocClient) Start() error {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	if c.stopped {
		return fmt.Errorf("presence: client %s already stopped", c.id)
	}
	if c.started {
		return fmt.Errorf("presence: client %s already started", c.id)
	}
	c.started = true

	for _, p := range c.fabric.clients {
		if p == c || !p.started {
			continue
		}

		p.deliver(&Event{eventType: EventEnter, sender: c.id, name: c.name, address: c.addr(), headers: copyHeaders(c.headers)})
		for g := range c.groups {
			p.deliver(&Event{eventType: EventJoin, sender: c.id, name: c.name, group: g})
		}

		c.deliver(&Event{eventType: EventEnter, sender: p.id, name: p.name, address: p.addr(), headers: copyHeaders(p.headers)})
		for g := range p.groups {
			c.deliver(&Event{eventType: EventJoin, sender: p.id, name: p.name, group: g})
		}
	}

	return nil
}

// Stop withdraws the client. The others get an EXIT; our own events
// channel stays open but goes quiet.
func (c *InprocClient) Stop() {
	c.fabric.mu.Lock()
	defer c.fabric.mu.Unlock()

	if !c.started || c.stopped {
		c.stopped = true
		c.started = false
		return
	}
	c.started = false
	c.stopped = true

	for _, p := range c.fabric.clients {
		if p != c && p.started {
			p.deliver(&Event{eventType: EventExit, sender: c.id, name: c.name})
		}
	}
}

func (c *InprocClient) deliver(e *Event) {
	select {
	case c.events <- e:
	default:
		// Backlog full; drop it like a lossy network would.
	}
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
