package zocp

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/z25/gozocp/msg"
	"github.com/z25/gozocp/presence"
)

// ErrUnknownVerb is returned when a frame carries a verb nothing is
// registered for.
var ErrUnknownVerb = errors.New("zocp: unknown verb")

// Handler processes the payload of one inbound frame. Peer and name
// identify the sender; group is set when the frame arrived by shout.
type Handler func(peer uuid.UUID, name, group string, payload json.RawMessage) error

// RegisterHandler installs a handler for an extension verb. The eight
// canonical verbs cannot be replaced.
func (n *Node) RegisterHandler(verb msg.Verb, h Handler) error {
	switch verb {
	case msg.Get, msg.Set, msg.Call, msg.Sub, msg.Unsub, msg.Rep, msg.Mod, msg.Sig:
		return fmt.Errorf("zocp: verb %s is built in", verb)
	}
	n.handlers[verb] = h
	return nil
}

// processEvent folds one substrate event into the node.
func (n *Node) processEvent(e *presence.Event) error {
	peer, err := msg.ParseID(e.Sender())
	if err != nil {
		n.log.WithError(err).WithField("sender", e.Sender()).Error("unparseable peer id")
		return nil
	}

	switch e.Type() {
	case presence.EventEnter:
		if _, ok := n.peerCaps[peer]; !ok {
			n.peerCaps[peer] = Capability{}
		}
		n.metrics.peers(len(n.peerCaps))
		n.PeerGetCapability(peer)
		return n.firePeerEnter(peer, e.Name(), e.Headers())

	case presence.EventExit:
		n.dropPeer(peer)
		n.metrics.peers(len(n.peerCaps))
		return n.firePeerExit(peer, e.Name())

	case presence.EventJoin:
		return n.firePeerJoin(peer, e.Name(), e.Group())

	case presence.EventLeave:
		return n.firePeerLeave(peer, e.Name(), e.Group())

	case presence.EventWhisper:
		if err := n.firePeerWhisper(peer, e.Name(), e.Msg()); err != nil {
			return err
		}
		return n.dispatchFrame(peer, e.Name(), "", e.Msg())

	case presence.EventShout:
		if err := n.firePeerShout(peer, e.Name(), e.Group(), e.Msg()); err != nil {
			return err
		}
		return n.dispatchFrame(peer, e.Name(), e.Group(), e.Msg())
	}

	n.log.WithField("type", e.Type()).Debug("ignoring event")
	return nil
}

// dispatchFrame decodes one ZOCP frame and routes it by verb. Frames
// that do not decode are logged and dropped.
func (n *Node) dispatchFrame(peer uuid.UUID, name, group string, raw []byte) error {
	frame, err := msg.Unmarshal(raw)
	if err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{"peer": peer, "name": name}).Error("dropping frame")
		return nil
	}
	n.metrics.received(frame.Verb)

	switch frame.Verb {
	case msg.Get:
		return n.handleGet(peer, frame.Data)
	case msg.Set:
		return n.handleSet(peer, name, frame.Data)
	case msg.Call:
		return n.handleCall(peer, name, frame.Data)
	case msg.Sub:
		return n.handleSub(peer, name, frame.Data)
	case msg.Unsub:
		return n.handleUnsub(peer, name, frame.Data)
	case msg.Rep:
		return n.handleRep(peer, name, frame.Data)
	case msg.Mod:
		return n.handleMod(peer, name, frame.Data)
	case msg.Sig:
		return n.handleSig(peer, name, frame.Data)
	}

	if h, ok := n.handlers[frame.Verb]; ok {
		return h(peer, name, group, frame.Data)
	}
	return fmt.Errorf("%w: %q from %s", ErrUnknownVerb, frame.Verb, name)
}

// handleGet answers with a MOD carrying the whole tree for a null
// payload, or the named root entries for a list of names. Names we do
// not have come back as null.
func (n *Node) handleGet(peer uuid.UUID, data json.RawMessage) error {
	var names []string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &names); err != nil {
			n.log.WithError(err).Error("dropping GET")
			return nil
		}
	}

	if names == nil {
		n.whisperFrame(peer, msg.Mod, n.capability)
		return nil
	}

	ret := make(Capability, len(names))
	for _, name := range names {
		ret[name] = n.capability[name]
	}
	n.whisperFrame(peer, msg.Mod, ret)
	return nil
}

// handleSet merges the payload into our capability and runs the change
// pipeline, crediting the sender so it is not echoed back.
func (n *Node) handleSet(peer uuid.UUID, name string, data json.RawMessage) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		n.log.WithError(err).Error("dropping SET")
		return nil
	}

	n.capability = merge(n.capability, m)
	return n.notify(m, peer, name)
}

// handleCall accepts remote procedure frames. Dispatching them onto
// anything is the host's business; the engine validates and logs.
func (n *Node) handleCall(peer uuid.UUID, name string, data json.RawMessage) error {
	var call msg.Invocation
	if err := json.Unmarshal(data, &call); err != nil {
		n.log.WithError(err).Error("dropping CALL")
		return nil
	}
	n.log.WithFields(logrus.Fields{"peer": peer, "name": name, "method": call.Method}).Debug("call ignored")
	return nil
}

// handleSub is the inbound half of the subscription handshake. A frame
// can reach us as the receiving peer (the emitter confirmed), as the
// emitting peer (someone wants our signals), or as a request from a
// third node wiring two others together, which the emitting peer runs
// as if it were its own.
func (n *Node) handleSub(peer uuid.UUID, name string, data json.RawMessage) error {
	var sub msg.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		n.log.WithError(err).Error("dropping SUB")
		return nil
	}

	switch {
	case sub.RecvPeer == n.id:
		n.subscribeRemote(sub.EmitPeer, sub.Emitter, sub.Receiver)
	case sub.EmitPeer == n.id:
		if sub.RecvPeer != peer {
			if err := n.SignalSubscribe(sub.RecvPeer, sub.Receiver, sub.EmitPeer, sub.Emitter); err != nil {
				return err
			}
		} else if err := n.subscribeLocal(sub.RecvPeer, sub.Receiver, sub.Emitter); err != nil {
			return err
		}
	default:
		n.log.WithFields(logrus.Fields{"peer": peer, "name": name}).Warn("subscription request not for us")
		return nil
	}

	return n.firePeerSubscribed(peer, name, sub)
}

// handleUnsub mirrors handleSub for tearing a subscription down.
func (n *Node) handleUnsub(peer uuid.UUID, name string, data json.RawMessage) error {
	var sub msg.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		n.log.WithError(err).Error("dropping UNSUB")
		return nil
	}

	switch {
	case sub.RecvPeer == n.id:
		tableRemove(n.subscriptions, sub.EmitPeer, sub.Emitter, sub.Receiver)
	case sub.EmitPeer == n.id:
		if sub.RecvPeer != peer {
			if err := n.SignalUnsubscribe(sub.RecvPeer, sub.Receiver, sub.EmitPeer, sub.Emitter); err != nil {
				return err
			}
		} else if err := n.unsubscribeLocal(sub.RecvPeer, sub.Receiver, sub.Emitter); err != nil {
			return err
		}
	default:
		n.log.WithFields(logrus.Fields{"peer": peer, "name": name}).Warn("unsubscription request not for us")
		return nil
	}

	return n.firePeerUnsubscribed(peer, name, sub)
}

// handleRep hands a reply payload to the host and forgets it.
func (n *Node) handleRep(peer uuid.UUID, name string, data json.RawMessage) error {
	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		n.log.WithError(err).Error("dropping REP")
		return nil
	}
	return n.firePeerReplied(peer, name, payload)
}

// handleMod merges a peer's change announcement into our cached copy of
// its capability.
func (n *Node) handleMod(peer uuid.UUID, name string, data json.RawMessage) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		n.log.WithError(err).Error("dropping MOD")
		return nil
	}

	n.peerCaps[peer] = merge(n.peerCaps[peer], m)
	return n.firePeerModified(peer, name, m)
}

// handleSig takes an inbound signal, writes the value through to the
// emitter's record in our peer cache, feeds every wired local receiver
// whose value actually changes (EmitSignal from there cascades to our
// own subscribers), and runs OnPeerSignaled when the signal was asked
// for, concretely or by wildcard.
func (n *Node) handleSig(peer uuid.UUID, name string, data json.RawMessage) error {
	var sig msg.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		n.log.WithError(err).Error("dropping SIG")
		return nil
	}

	if cached, ok := n.peerCaps[peer]; ok {
		if rec, ok := cached[sig.Emitter].(map[string]interface{}); ok {
			rec["value"] = sig.Value
		}
	}

	receivers := n.subscriptions[peer][sig.Emitter]
	_, wildcard := n.subscriptions[peer][""]

	for _, receiver := range receivers {
		if receiver == "" {
			continue
		}
		if current, ok := n.capability.Value(receiver); ok && !reflect.DeepEqual(current, sig.Value) {
			n.EmitSignal(receiver, sig.Value)
		}
	}

	if len(receivers) > 0 || wildcard {
		return n.firePeerSignaled(peer, name, sig.Emitter, sig.Value, receivers)
	}
	return nil
}
