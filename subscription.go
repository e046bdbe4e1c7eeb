package zocp

import (
	"github.com/google/uuid"

	"github.com/z25/gozocp/msg"
)

// Subscription state lives in two mirrored tables. subscriptions answers
// "which remote emitters feed which of my receivers"; subscribers
// answers "which peers listen to which of my emitters". Both map peer id
// to emitter name to an ordered list of receiver names. An empty emitter
// key covers everything the peer emits; an empty receiver in a list
// means only the callback runs, no capability is written.

// tableAdd inserts receiver under peer/emitter, keeping insertion order.
// Returns false when the entry was already there.
func tableAdd(table map[uuid.UUID]map[string][]string, peer uuid.UUID, emitter, receiver string) bool {
	emitters, ok := table[peer]
	if !ok {
		emitters = make(map[string][]string)
		table[peer] = emitters
	}
	for _, r := range emitters[emitter] {
		if r == receiver {
			return false
		}
	}
	emitters[emitter] = append(emitters[emitter], receiver)
	return true
}

// tableRemove removes receiver under peer/emitter and prunes emptied
// lists and emptied peer entries. Returns false when nothing matched.
func tableRemove(table map[uuid.UUID]map[string][]string, peer uuid.UUID, emitter, receiver string) bool {
	emitters, ok := table[peer]
	if !ok {
		return false
	}
	receivers, ok := emitters[emitter]
	if !ok {
		return false
	}

	removed := false
	for i, r := range receivers {
		if r == receiver {
			receivers = append(receivers[:i], receivers[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return false
	}

	if len(receivers) == 0 {
		delete(emitters, emitter)
	} else {
		emitters[emitter] = receivers
	}
	if len(emitters) == 0 {
		delete(table, peer)
	}
	return true
}

func copyTable(table map[uuid.UUID]map[string][]string) map[uuid.UUID]map[string][]string {
	out := make(map[uuid.UUID]map[string][]string, len(table))
	for peer, emitters := range table {
		m := make(map[string][]string, len(emitters))
		for emitter, receivers := range emitters {
			m[emitter] = append([]string(nil), receivers...)
		}
		out[peer] = m
	}
	return out
}

// Subscriptions returns a copy of the table of remote emitters this node
// listens to.
func (n *Node) Subscriptions() map[uuid.UUID]map[string][]string {
	return copyTable(n.subscriptions)
}

// Subscribers returns a copy of the table of peers listening to this
// node's emitters.
func (n *Node) Subscribers() map[uuid.UUID]map[string][]string {
	return copyTable(n.subscribers)
}

// subscriberPair renders the [peer, receiver] entry kept on an emitter's
// record; a callback only receiver travels as null.
func subscriberPair(peer uuid.UUID, receiver string) []interface{} {
	var r interface{}
	if receiver != "" {
		r = receiver
	}
	return []interface{}{msg.IDString(peer), r}
}

func pairEqual(entry interface{}, pair []interface{}) bool {
	list, ok := entry.([]interface{})
	if !ok || len(list) != 2 {
		return false
	}
	return list[0] == pair[0] && list[1] == pair[1]
}

func addSubscriberRef(rec map[string]interface{}, peer uuid.UUID, receiver string) {
	pair := subscriberPair(peer, receiver)
	subs, _ := rec["subscribers"].([]interface{})
	for _, entry := range subs {
		if pairEqual(entry, pair) {
			return
		}
	}
	rec["subscribers"] = append(subs, pair)
}

func removeSubscriberRef(rec map[string]interface{}, peer uuid.UUID, receiver string) {
	pair := subscriberPair(peer, receiver)
	subs, _ := rec["subscribers"].([]interface{})
	for i, entry := range subs {
		if pairEqual(entry, pair) {
			rec["subscribers"] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// record returns the root level parameter record for name.
func (n *Node) record(name string) (map[string]interface{}, bool) {
	rec, ok := n.capability[name].(map[string]interface{})
	return rec, ok
}

// SignalSubscribe wires receiver on recvPeer to emitter on emitPeer.
// Either side may be this node; a node may even wire two other peers
// together, in which case the request travels to the emitting peer and
// the two finish the exchange between themselves.
//
// An empty emitter subscribes to every emitter on emitPeer. An empty
// receiver delivers signals to the OnPeerSignaled callback only, without
// writing any capability.
func (n *Node) SignalSubscribe(recvPeer uuid.UUID, receiver string, emitPeer uuid.UUID, emitter string) error {
	sub := msg.Subscription{EmitPeer: emitPeer, Emitter: emitter, RecvPeer: recvPeer, Receiver: receiver}

	switch {
	case recvPeer == n.id:
		n.subscribeRemote(emitPeer, emitter, receiver)
		if emitPeer == n.id {
			return n.subscribeLocal(recvPeer, receiver, emitter)
		}
		n.whisperFrame(emitPeer, msg.Sub, sub)
	case emitPeer == n.id:
		if err := n.subscribeLocal(recvPeer, receiver, emitter); err != nil {
			return err
		}
		n.whisperFrame(recvPeer, msg.Sub, sub)
	default:
		n.whisperFrame(emitPeer, msg.Sub, sub)
	}
	return nil
}

// SignalUnsubscribe undoes SignalSubscribe, with the same four arguments
// and the same routing.
func (n *Node) SignalUnsubscribe(recvPeer uuid.UUID, receiver string, emitPeer uuid.UUID, emitter string) error {
	sub := msg.Subscription{EmitPeer: emitPeer, Emitter: emitter, RecvPeer: recvPeer, Receiver: receiver}

	switch {
	case recvPeer == n.id:
		tableRemove(n.subscriptions, emitPeer, emitter, receiver)
		if emitPeer == n.id {
			return n.unsubscribeLocal(recvPeer, receiver, emitter)
		}
		n.whisperFrame(emitPeer, msg.Unsub, sub)
	case emitPeer == n.id:
		if err := n.unsubscribeLocal(recvPeer, receiver, emitter); err != nil {
			return err
		}
		n.whisperFrame(recvPeer, msg.Unsub, sub)
	default:
		n.whisperFrame(emitPeer, msg.Unsub, sub)
	}
	return nil
}

// subscribeRemote records that receiver listens to emitter on peer and
// fetches the emitter's record when we have never seen it.
func (n *Node) subscribeRemote(peer uuid.UUID, emitter, receiver string) {
	tableAdd(n.subscriptions, peer, emitter, receiver)

	if receiver == "" || emitter == "" || peer == n.id {
		return
	}
	if cached, ok := n.peerCaps[peer]; ok {
		if _, ok := cached[emitter]; ok {
			return
		}
	}
	n.PeerGet(peer, []string{emitter})
}

// subscribeLocal records a subscriber of one of our emitters and
// projects the pair onto the emitter's record, so the whole network can
// see who listens to what.
func (n *Node) subscribeLocal(recvPeer uuid.UUID, receiver, emitter string) error {
	added := tableAdd(n.subscribers, recvPeer, emitter, receiver)
	if emitter == "" || !added {
		return nil
	}

	rec, ok := n.record(emitter)
	if !ok {
		n.log.WithField("emitter", emitter).Warn("subscription to unknown emitter")
		return nil
	}
	addSubscriberRef(rec, recvPeer, receiver)
	return n.notify(Capability{emitter: rec}, uuid.Nil, "")
}

// unsubscribeLocal drops a subscriber of one of our emitters and removes
// the projected pair from the emitter's record.
func (n *Node) unsubscribeLocal(recvPeer uuid.UUID, receiver, emitter string) error {
	removed := tableRemove(n.subscribers, recvPeer, emitter, receiver)
	if emitter == "" || !removed {
		return nil
	}

	rec, ok := n.record(emitter)
	if !ok {
		return nil
	}
	removeSubscriberRef(rec, recvPeer, receiver)
	return n.notify(Capability{emitter: rec}, uuid.Nil, "")
}

// dropPeer forgets all registry state and the cached capability of a
// peer that left. Subscriber pairs already projected onto emitter
// records stay where they are.
func (n *Node) dropPeer(peer uuid.UUID) {
	delete(n.subscriptions, peer)
	delete(n.subscribers, peer)
	delete(n.peerCaps, peer)
}
