package zocp

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/z25/gozocp/msg"
)

// Callbacks are the hooks the event loop runs as traffic arrives. Every
// field is optional; a nil hook logs its event at debug level instead.
// An error returned from a hook stops the loop and surfaces from Run or
// RunOnce.
type Callbacks struct {
	// OnPeerEnter runs when a peer appears on the network, before its
	// capability has been fetched.
	OnPeerEnter func(peer uuid.UUID, name string, headers map[string]string) error

	// OnPeerExit runs when a peer leaves or times out, after its state
	// has been forgotten.
	OnPeerExit func(peer uuid.UUID, name string) error

	// OnPeerJoin runs when a peer joins a group.
	OnPeerJoin func(peer uuid.UUID, name, group string) error

	// OnPeerLeave runs when a peer leaves a group.
	OnPeerLeave func(peer uuid.UUID, name, group string) error

	// OnPeerWhisper runs for every whispered frame, before decoding.
	OnPeerWhisper func(peer uuid.UUID, name string, payload []byte) error

	// OnPeerShout runs for every shouted frame, before decoding.
	OnPeerShout func(peer uuid.UUID, name, group string, payload []byte) error

	// OnPeerModified runs after a MOD updated our cached copy of a
	// peer's capability. Data is the changed subtree as it arrived.
	OnPeerModified func(peer uuid.UUID, name string, data Capability) error

	// OnPeerSubscribed runs when a peer subscribed to one of our
	// emitters, or confirmed a subscription we asked for.
	OnPeerSubscribed func(peer uuid.UUID, name string, sub msg.Subscription) error

	// OnPeerUnsubscribed is the counterpart of OnPeerSubscribed.
	OnPeerUnsubscribed func(peer uuid.UUID, name string, sub msg.Subscription) error

	// OnPeerSignaled runs when an emitter we subscribed to fired.
	// Receivers lists the local parameters wired to that emitter, in
	// subscription order.
	OnPeerSignaled func(peer uuid.UUID, name, emitter string, value interface{}, receivers []string) error

	// OnPeerReplied runs for REP frames.
	OnPeerReplied func(peer uuid.UUID, name string, payload interface{}) error

	// OnModified runs after this node's own capability changed, for
	// local and remote writes alike. Peer is uuid.Nil for local changes.
	OnModified func(peer uuid.UUID, name string, data Capability) error
}

func (n *Node) firePeerEnter(peer uuid.UUID, name string, headers map[string]string) error {
	if f := n.Callbacks.OnPeerEnter; f != nil {
		return f(peer, name, headers)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name}).Debug("peer entered")
	return nil
}

func (n *Node) firePeerExit(peer uuid.UUID, name string) error {
	if f := n.Callbacks.OnPeerExit; f != nil {
		return f(peer, name)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name}).Debug("peer exited")
	return nil
}

func (n *Node) firePeerJoin(peer uuid.UUID, name, group string) error {
	if f := n.Callbacks.OnPeerJoin; f != nil {
		return f(peer, name, group)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name, "group": group}).Debug("peer joined group")
	return nil
}

func (n *Node) firePeerLeave(peer uuid.UUID, name, group string) error {
	if f := n.Callbacks.OnPeerLeave; f != nil {
		return f(peer, name, group)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name, "group": group}).Debug("peer left group")
	return nil
}

func (n *Node) firePeerWhisper(peer uuid.UUID, name string, payload []byte) error {
	if f := n.Callbacks.OnPeerWhisper; f != nil {
		return f(peer, name, payload)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name}).Debug("peer whispered")
	return nil
}

func (n *Node) firePeerShout(peer uuid.UUID, name, group string, payload []byte) error {
	if f := n.Callbacks.OnPeerShout; f != nil {
		return f(peer, name, group, payload)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name, "group": group}).Debug("peer shouted")
	return nil
}

func (n *Node) firePeerModified(peer uuid.UUID, name string, data Capability) error {
	if f := n.Callbacks.OnPeerModified; f != nil {
		return f(peer, name, data)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name}).Debug("peer modified")
	return nil
}

func (n *Node) firePeerSubscribed(peer uuid.UUID, name string, sub msg.Subscription) error {
	if f := n.Callbacks.OnPeerSubscribed; f != nil {
		return f(peer, name, sub)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name, "emitter": sub.Emitter}).Debug("peer subscribed")
	return nil
}

func (n *Node) firePeerUnsubscribed(peer uuid.UUID, name string, sub msg.Subscription) error {
	if f := n.Callbacks.OnPeerUnsubscribed; f != nil {
		return f(peer, name, sub)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name, "emitter": sub.Emitter}).Debug("peer unsubscribed")
	return nil
}

func (n *Node) firePeerSignaled(peer uuid.UUID, name, emitter string, value interface{}, receivers []string) error {
	if f := n.Callbacks.OnPeerSignaled; f != nil {
		return f(peer, name, emitter, value, receivers)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "emitter": emitter}).Debug("peer signaled")
	return nil
}

func (n *Node) firePeerReplied(peer uuid.UUID, name string, payload interface{}) error {
	if f := n.Callbacks.OnPeerReplied; f != nil {
		return f(peer, name, payload)
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name}).Debug("peer replied")
	return nil
}

func (n *Node) fireModified(peer uuid.UUID, name string, data Capability) error {
	if f := n.Callbacks.OnModified; f != nil {
		return f(peer, name, data)
	}
	n.log.WithField("peer", peer).Debug("capability modified")
	return nil
}
