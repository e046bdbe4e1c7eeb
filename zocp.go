// Package zocp implements ZOCP, the Z25 orchestration control protocol:
// self describing nodes on a local network that expose a capability
// tree, watch each other change and pipe live parameter values between
// themselves.
//
// A Node sits on a presence substrate (gyre on real networks, an inproc
// fabric in tests), announces itself in the ZOCP group, mirrors the
// capability tree of every peer it meets and speaks eight JSON verbs
// with them: GET, SET, CALL, SUB, UNSUB, REP, MOD and SIG.
//
// All node state belongs to one goroutine, the one pumping Run or
// RunOnce. Other goroutines reach in through Do.
package zocp

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/z25/gozocp/msg"
	"github.com/z25/gozocp/presence"
)

// Group is the presence group every node joins on construction.
const Group = "ZOCP"

// protocolHeader is announced at discovery so peers can tell ZOCP nodes
// from other traffic on the substrate.
const protocolHeader = "X-ZOCP"

const funnelBacklog = 64

// Node is one ZOCP endpoint.
type Node struct {
	// Callbacks may be filled in between New and Start.
	Callbacks Callbacks

	client presence.Client
	log    *logrus.Entry
	id     uuid.UUID

	capability Capability
	curObjKeys []string
	peerCaps   map[uuid.UUID]Capability

	subscriptions map[uuid.UUID]map[string][]string
	subscribers   map[uuid.UUID]map[string][]string

	handlers map[msg.Verb]Handler
	funnel   chan func(*Node)
	metrics  *nodeMetrics
	reg      prometheus.Registerer
	running  bool
}

// An Option configures a Node at construction.
type Option func(*Node)

// WithLogger routes the node's logging through log.
func WithLogger(log *logrus.Entry) Option {
	return func(n *Node) { n.log = log }
}

// WithCapability seeds the capability tree instead of starting empty.
func WithCapability(c Capability) Option {
	return func(n *Node) { n.capability = c }
}

// WithRegisterer registers the node's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(n *Node) { n.reg = reg }
}

// New wraps a presence client into a ZOCP node. The node joins the ZOCP
// group and sets the protocol header, but stays invisible to the network
// until Start.
func New(client presence.Client, opts ...Option) (*Node, error) {
	id, err := msg.ParseID(client.UUID())
	if err != nil {
		return nil, fmt.Errorf("zocp: substrate uuid: %w", err)
	}

	n := &Node{
		client:        client,
		id:            id,
		capability:    Capability{},
		peerCaps:      make(map[uuid.UUID]Capability),
		subscriptions: make(map[uuid.UUID]map[string][]string),
		subscribers:   make(map[uuid.UUID]map[string][]string),
		handlers:      make(map[msg.Verb]Handler),
		funnel:        make(chan func(*Node), funnelBacklog),
	}
	for _, opt := range opts {
		opt(n)
	}

	short := msg.IDString(id)[:6]
	if n.log == nil {
		n.log = newLogger().WithField("node", short)
	}
	n.metrics = newNodeMetrics(short)
	if n.reg != nil {
		if err := n.metrics.register(n.reg); err != nil {
			return nil, err
		}
	}

	client.SetHeader(protocolHeader, "1")
	client.Join(Group)

	return n, nil
}

// newLogger builds the default logger. ZOCP_LOG picks the level.
func newLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(os.Getenv("ZOCP_LOG")); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// Start announces the node on the network.
func (n *Node) Start() error {
	if err := n.client.Start(); err != nil {
		return err
	}
	n.running = true
	n.log.WithField("uuid", msg.IDString(n.id)).Info("node started")
	return nil
}

// Stop withdraws the node from the network.
func (n *Node) Stop() {
	if !n.running {
		return
	}
	n.running = false
	n.client.Stop()
	n.log.Info("node stopped")
}

// UUID returns the node's peer id.
func (n *Node) UUID() uuid.UUID {
	return n.id
}

// Name returns the node's public name on the network.
func (n *Node) Name() string {
	return n.client.Name()
}

// SetName sets the node's public name, before Start.
func (n *Node) SetName(name string) {
	n.client.SetName(name)
}

// SetHeader sets a discovery header, before Start.
func (n *Node) SetHeader(name, value string) {
	n.client.SetHeader(name, value)
}

// PeerHeaderValue looks up a discovery header of a present peer.
func (n *Node) PeerHeaderValue(peer uuid.UUID, name string) (string, bool) {
	return n.client.PeerHeaderValue(msg.IDString(peer), name)
}

// Peers returns the ids of all peers currently present.
func (n *Node) Peers() []uuid.UUID {
	ids := n.client.Peers()
	peers := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		peer, err := msg.ParseID(id)
		if err != nil {
			continue
		}
		peers = append(peers, peer)
	}
	return peers
}

// PeerAddress returns the address a peer announced itself with.
func (n *Node) PeerAddress(peer uuid.UUID) (string, bool) {
	return n.client.PeerAddress(msg.IDString(peer))
}

// OwnGroups returns the groups this node is in.
func (n *Node) OwnGroups() []string {
	return n.client.OwnGroups()
}

// PeerGroups returns the groups peers are known to be in.
func (n *Node) PeerGroups() []string {
	return n.client.PeerGroups()
}

// Join adds the node to a group beyond the default ZOCP one.
func (n *Node) Join(group string) {
	n.client.Join(group)
}

// Leave removes the node from a group.
func (n *Node) Leave(group string) {
	n.client.Leave(group)
}

// Whisper sends a raw payload to one peer, outside the protocol.
func (n *Node) Whisper(peer uuid.UUID, payload []byte) {
	n.client.Whisper(msg.IDString(peer), payload)
}

// Shout sends a raw payload to a group, outside the protocol.
func (n *Node) Shout(group string, payload []byte) {
	n.client.Shout(group, payload)
}

// PeerCapability returns the cached capability tree of a peer. Like the
// node's own tree it belongs to the event loop.
func (n *Node) PeerCapability(peer uuid.UUID) (Capability, bool) {
	c, ok := n.peerCaps[peer]
	return c, ok
}

// PeerGetCapability asks peer for its whole capability tree. The answer
// arrives as a MOD and lands in the peer cache.
func (n *Node) PeerGetCapability(peer uuid.UUID) {
	n.whisperFrame(peer, msg.Get, nil)
}

// PeerGet asks peer for the named root entries of its capability.
func (n *Node) PeerGet(peer uuid.UUID, names []string) {
	n.whisperFrame(peer, msg.Get, names)
}

// PeerSet writes data into peer's capability tree. A payload shaped
// {name: {"value": v}} ends up signalled to the peer's subscribers;
// anything bigger is announced as a MOD.
func (n *Node) PeerSet(peer uuid.UUID, data Capability) {
	n.whisperFrame(peer, msg.Set, data)
}

// PeerCall invokes a remote procedure on peer. ZOCP transports the
// frame; whether the peer acts on it is the peer's business.
func (n *Node) PeerCall(peer uuid.UUID, method string, args ...interface{}) {
	n.whisperFrame(peer, msg.Call, msg.Invocation{Method: method, Args: args})
}

// PeerReply sends a REP payload to peer, for hosts that answer CALLs.
func (n *Node) PeerReply(peer uuid.UUID, payload interface{}) {
	n.whisperFrame(peer, msg.Rep, payload)
}
