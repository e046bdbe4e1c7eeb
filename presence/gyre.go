package presence

import (
	"sync"

	"github.com/zeromq/gyre"
)

// Gyre adapts a gyre node to the Client interface. A running gyre node
// keeps no queryable peer state, so the adapter shadows what it learns from
// the event stream: names, addresses and headers from ENTER, group
// membership from JOIN and LEAVE. Events are re-emitted on our own channel
// after the bookkeeping is done.
type Gyre struct {
	g        *gyre.Gyre
	events   chan *Event
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.RWMutex
	name      string
	peers     map[string]*gyrePeer
	ownGroups map[string]struct{}
}

type gyrePeer struct {
	name    string
	addr    string
	headers map[string]string
	groups  map[string]struct{}
}

// NewGyre creates a Client backed by a new gyre node. The node is silent
// and invisible to the network until Start.
func NewGyre() (*Gyre, error) {
	g, err := gyre.New()
	if err != nil {
		return nil, err
	}

	return &Gyre{
		g:         g,
		events:    make(chan *Event, eventBacklog),
		done:      make(chan struct{}),
		peers:     make(map[string]*gyrePeer),
		ownGroups: make(map[string]struct{}),
	}, nil
}

func (c *Gyre) UUID() string {
	return c.g.UUID()
}

func (c *Gyre) Name() string {
	c.mu.RLock()
	name := c.name
	c.mu.RUnlock()

	if name != "" {
		return name
	}
	return c.g.Name()
}

func (c *Gyre) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()

	c.g.SetName(name)
}

func (c *Gyre) SetHeader(name, value string) {
	c.g.SetHeader(name, "%s", value)
}

func (c *Gyre) PeerHeaderValue(peer, name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.peers[peer]
	if !ok {
		return "", false
	}
	value, ok := p.headers[name]
	return value, ok
}

func (c *Gyre) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	peers := make([]string, 0, len(c.peers))
	for id := range c.peers {
		peers = append(peers, id)
	}
	return peers
}

func (c *Gyre) PeerAddress(peer string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.peers[peer]
	if !ok {
		return "", false
	}
	return p.addr, true
}

func (c *Gyre) OwnGroups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]string, 0, len(c.ownGroups))
	for g := range c.ownGroups {
		groups = append(groups, g)
	}
	return groups
}

func (c *Gyre) PeerGroups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, p := range c.peers {
		for g := range p.groups {
			seen[g] = struct{}{}
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	return groups
}

func (c *Gyre) Join(group string) {
	c.mu.Lock()
	c.ownGroups[group] = struct{}{}
	c.mu.Unlock()

	c.g.Join(group)
}

func (c *Gyre) Leave(group string) {
	c.mu.Lock()
	delete(c.ownGroups, group)
	c.mu.Unlock()

	c.g.Leave(group)
}

func (c *Gyre) Whisper(peer string, payload []byte) {
	c.g.Whisper(peer, payload)
}

func (c *Gyre) Shout(group string, payload []byte) {
	c.g.Shout(group, payload)
}

func (c *Gyre) Events() <-chan *Event {
	return c.events
}

func (c *Gyre) Start() error {
	if err := c.g.Start(); err != nil {
		return err
	}
	go c.pump()
	return nil
}

func (c *Gyre) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.g.Stop()
	})
}

// pump moves events from the gyre node to our channel, updating the
// shadowed peer state on the way.
func (c *Gyre) pump() {
	for {
		var e *gyre.Event
		select {
		case e = <-c.g.Events():
		case <-c.done:
			return
		}

		out := c.observe(e)
		if out == nil {
			continue
		}

		select {
		case c.events <- out:
		case <-c.done:
			return
		}
	}
}

// observe folds one gyre event into the shadow state and converts it.
// Events of a type we do not know are dropped.
func (c *Gyre) observe(e *gyre.Event) *Event {
	out := &Event{
		sender:  e.Sender(),
		name:    e.Name(),
		address: e.Addr(),
		group:   e.Group(),
		msg:     e.Msg(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Type() {
	case gyre.EventEnter:
		out.eventType = EventEnter
		headers := make(map[string]string, len(e.Headers()))
		for k, v := range e.Headers() {
			headers[k] = v
		}
		out.headers = headers
		c.peers[e.Sender()] = &gyrePeer{
			name:    e.Name(),
			addr:    e.Addr(),
			headers: headers,
			groups:  make(map[string]struct{}),
		}
	case gyre.EventExit:
		out.eventType = EventExit
		delete(c.peers, e.Sender())
	case gyre.EventJoin:
		out.eventType = EventJoin
		if p, ok := c.peers[e.Sender()]; ok {
			p.groups[e.Group()] = struct{}{}
		}
	case gyre.EventLeave:
		out.eventType = EventLeave
		if p, ok := c.peers[e.Sender()]; ok {
			delete(p.groups, e.Group())
		}
	case gyre.EventWhisper:
		out.eventType = EventWhisper
	case gyre.EventShout:
		out.eventType = EventShout
	default:
		return nil
	}

	return out
}
