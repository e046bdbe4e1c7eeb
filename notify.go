package zocp

import (
	"github.com/google/uuid"

	"github.com/z25/gozocp/msg"
)

// notify is the one pipeline every capability mutation runs through.
// Data holds the changed subtree; originator is the peer whose frame
// caused the change, or uuid.Nil for local mutations.
//
// The pipeline lifts data to the tree root along the object cursor, runs
// the OnModified hook, and then tells the network. A change that is
// exactly one parameter's value travels as a SIG to the subscribers of
// that parameter; everything else travels as a MOD to every peer whose
// subscriptions intersect the changed keys. The originator is skipped
// either way; it already knows.
func (n *Node) notify(data Capability, originator uuid.UUID, originName string) error {
	for i := len(n.curObjKeys) - 1; i >= 0; i-- {
		data = Capability{n.curObjKeys[i]: map[string]interface{}(data)}
	}

	if err := n.fireModified(originator, originName, data); err != nil {
		return err
	}
	if !n.running {
		return nil
	}

	if name, value, ok := soleValue(data); ok {
		n.whisperSignal(name, value, originator)
		return nil
	}

	for peer, emitters := range n.subscribers {
		if peer == originator {
			continue
		}
		if subscriberInterested(emitters, data) {
			n.whisperFrame(peer, msg.Mod, data)
		}
	}
	return nil
}

// soleValue reports whether data has the shape {name: {"value": v}},
// which is what an inbound SET of a single parameter value produces.
func soleValue(data Capability) (name string, value interface{}, ok bool) {
	if len(data) != 1 {
		return "", nil, false
	}
	for k, entry := range data {
		rec, isMap := entry.(map[string]interface{})
		if !isMap || len(rec) != 1 {
			return "", nil, false
		}
		v, hasValue := rec["value"]
		if !hasValue {
			return "", nil, false
		}
		name, value, ok = k, v, true
	}
	return name, value, ok
}

func subscriberInterested(emitters map[string][]string, data Capability) bool {
	if _, ok := emitters[""]; ok {
		return true
	}
	for name := range data {
		if _, ok := emitters[name]; ok {
			return true
		}
	}
	return false
}

// whisperSignal sends [emitter, value] to every peer subscribed to
// emitter, concretely or by wildcard, except the originator.
func (n *Node) whisperSignal(emitter string, value interface{}, originator uuid.UUID) {
	sig := msg.Signal{Emitter: emitter, Value: value}
	for peer, emitters := range n.subscribers {
		if peer == originator {
			continue
		}
		_, concrete := emitters[emitter]
		_, wildcard := emitters[""]
		if concrete || wildcard {
			n.whisperFrame(peer, msg.Sig, sig)
		}
	}
	n.metrics.signal()
}

// EmitSignal stores value on the emitter's record and signals its
// subscribers directly, skipping the change pipeline: no OnModified, no
// MOD traffic, just SIG frames. This is the fast path for streams of
// sensor style updates.
func (n *Node) EmitSignal(emitter string, value interface{}) {
	rec, ok := n.record(emitter)
	if !ok {
		n.log.WithField("emitter", emitter).Warn("emit on unknown emitter")
		return
	}
	rec["value"] = value
	n.whisperSignal(emitter, value, uuid.Nil)
}

// whisperFrame encodes one frame and whispers it to peer.
func (n *Node) whisperFrame(peer uuid.UUID, verb msg.Verb, payload interface{}) {
	raw, err := msg.Marshal(verb, payload)
	if err != nil {
		n.log.WithError(err).WithField("verb", verb).Error("encode frame")
		return
	}
	n.metrics.sent(verb)
	n.client.Whisper(msg.IDString(peer), raw)
}
