package zocp

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z25/gozocp/msg"
)

func TestTableOps(t *testing.T) {
	table := make(map[uuid.UUID]map[string][]string)
	peer := uuid.New()

	assert.True(t, tableAdd(table, peer, "beat", "tempo"))
	assert.False(t, tableAdd(table, peer, "beat", "tempo"))
	assert.True(t, tableAdd(table, peer, "beat", ""))
	assert.Equal(t, []string{"tempo", ""}, table[peer]["beat"])

	assert.False(t, tableRemove(table, peer, "beat", "ghost"))
	assert.True(t, tableRemove(table, peer, "beat", "tempo"))
	assert.True(t, tableRemove(table, peer, "beat", ""))

	// Empty lists and empty peer entries are pruned.
	_, ok := table[peer]
	assert.False(t, ok)

	assert.False(t, tableRemove(table, peer, "beat", "tempo"))
}

func TestSubscriberRefs(t *testing.T) {
	peer := uuid.New()
	rec := map[string]interface{}{"subscribers": []interface{}{}}

	addSubscriberRef(rec, peer, "tempo")
	addSubscriberRef(rec, peer, "tempo")
	addSubscriberRef(rec, peer, "")

	subs := rec["subscribers"].([]interface{})
	require.Len(t, subs, 2)
	assert.Equal(t, []interface{}{msg.IDString(peer), "tempo"}, subs[0])
	assert.Equal(t, []interface{}{msg.IDString(peer), nil}, subs[1])

	removeSubscriberRef(rec, peer, "tempo")
	subs = rec["subscribers"].([]interface{})
	require.Len(t, subs, 1)
	assert.Equal(t, []interface{}{msg.IDString(peer), nil}, subs[0])
}

func TestLoopbackSubscribe(t *testing.T) {
	n := newQuietNode(t)
	require.NoError(t, n.RegisterFloat("beat", 0, "re"))

	require.NoError(t, n.SignalSubscribe(n.UUID(), "echo", n.UUID(), "beat"))

	assert.Equal(t, []string{"echo"}, n.Subscriptions()[n.UUID()]["beat"])
	assert.Equal(t, []string{"echo"}, n.Subscribers()[n.UUID()]["beat"])

	rec, ok := n.record("beat")
	require.True(t, ok)
	assert.Len(t, rec["subscribers"], 1)

	require.NoError(t, n.SignalUnsubscribe(n.UUID(), "echo", n.UUID(), "beat"))
	assert.Empty(t, n.Subscriptions())
	assert.Empty(t, n.Subscribers())

	rec, _ = n.record("beat")
	assert.Empty(t, rec["subscribers"])
}

func TestSubscribe(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	require.NoError(t, a.RegisterFloat("beat", 100, "re"))
	require.NoError(t, b.RegisterFloat("tempo", 0, "rws"))

	subsAtA, subsAtB := 0, 0
	a.Callbacks.OnPeerWhisper = func(peer uuid.UUID, name string, payload []byte) error {
		if f, err := msg.Unmarshal(payload); err == nil && f.Verb == msg.Sub {
			subsAtA++
		}
		return nil
	}
	b.Callbacks.OnPeerWhisper = func(peer uuid.UUID, name string, payload []byte) error {
		if f, err := msg.Unmarshal(payload); err == nil && f.Verb == msg.Sub {
			subsAtB++
		}
		return nil
	}

	var subscribed *msg.Subscription
	a.Callbacks.OnPeerSubscribed = func(peer uuid.UUID, name string, sub msg.Subscription) error {
		assert.Equal(t, b.UUID(), peer)
		subscribed = &sub
		return nil
	}

	startAll(t, a, b)

	require.NoError(t, b.SignalSubscribe(b.UUID(), "tempo", a.UUID(), "beat"))
	settle(t, a, b)

	// Both registries agree on the pairing.
	assert.Equal(t, []string{"tempo"}, b.Subscriptions()[a.UUID()]["beat"])
	assert.Equal(t, []string{"tempo"}, a.Subscribers()[b.UUID()]["beat"])

	// The pair is projected onto the emitter record and announced, so
	// node2's cache already shows itself as a subscriber.
	cached, ok := b.PeerCapability(a.UUID())
	require.True(t, ok)
	rec, ok := cached["beat"].(map[string]interface{})
	require.True(t, ok)
	subs, ok := rec["subscribers"].([]interface{})
	require.True(t, ok)
	require.Len(t, subs, 1)
	pair, ok := subs[0].([]interface{})
	require.True(t, ok)
	assert.Equal(t, msg.IDString(b.UUID()), pair[0])
	assert.Equal(t, "tempo", pair[1])

	// Exactly one SUB crossed the wire and none bounced back.
	assert.Equal(t, 1, subsAtA)
	assert.Equal(t, 0, subsAtB)
	require.NotNil(t, subscribed)
	assert.Equal(t, "beat", subscribed.Emitter)
	assert.Equal(t, "tempo", subscribed.Receiver)
}

func TestSignalDelivery(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	require.NoError(t, a.RegisterFloat("beat", 100, "re"))
	require.NoError(t, b.RegisterFloat("tempo", 0, "rws"))

	var signals []msg.Signal
	var gotReceivers []string
	b.Callbacks.OnPeerSignaled = func(peer uuid.UUID, name, emitter string, value interface{}, receivers []string) error {
		signals = append(signals, msg.Signal{Emitter: emitter, Value: value})
		gotReceivers = receivers
		return nil
	}

	startAll(t, a, b)
	require.NoError(t, b.SignalSubscribe(b.UUID(), "tempo", a.UUID(), "beat"))
	settle(t, a, b)

	a.EmitSignal("beat", 105.0)
	settle(t, a, b)

	v, _ := b.Value("tempo")
	assert.Equal(t, 105.0, v)

	// The signalled value is written through to the peer cache.
	cached, _ := b.PeerCapability(a.UUID())
	cv, _ := cached.Value("beat")
	assert.Equal(t, 105.0, cv)

	require.Len(t, signals, 1)
	assert.Equal(t, "beat", signals[0].Emitter)
	assert.Equal(t, 105.0, signals[0].Value)
	assert.Equal(t, []string{"tempo"}, gotReceivers)

	// Same value again: the callback still runs, the cascade does not.
	a.EmitSignal("beat", 105.0)
	settle(t, a, b)
	assert.Len(t, signals, 2)
}

func TestSetDemotesToSignal(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2", "node3")
	a, b, c := nodes[0], nodes[1], nodes[2]

	require.NoError(t, a.RegisterFloat("beat", 100, "rwe"))
	require.NoError(t, b.RegisterFloat("tempo", 0, "rws"))

	sigsAtC := 0
	c.Callbacks.OnPeerSignaled = func(peer uuid.UUID, name, emitter string, value interface{}, receivers []string) error {
		sigsAtC++
		return nil
	}

	startAll(t, a, b, c)
	require.NoError(t, b.SignalSubscribe(b.UUID(), "tempo", a.UUID(), "beat"))
	require.NoError(t, c.SignalSubscribe(c.UUID(), "", a.UUID(), "beat"))
	settle(t, a, b, c)

	c.PeerSet(a.UUID(), Capability{"beat": map[string]interface{}{"value": 140.0}})
	settle(t, a, b, c)

	v, _ := a.Value("beat")
	assert.Equal(t, 140.0, v)

	bv, _ := b.Value("tempo")
	assert.Equal(t, 140.0, bv)

	// The writer is not echoed its own change.
	assert.Equal(t, 0, sigsAtC)
}

func TestThirdPartySubscribe(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2", "node3")
	a, b, c := nodes[0], nodes[1], nodes[2]

	require.NoError(t, a.RegisterFloat("beat", 100, "re"))
	require.NoError(t, b.RegisterFloat("tempo", 0, "rws"))

	startAll(t, a, b, c)

	// node3 patches node1's beat into node2's tempo.
	require.NoError(t, c.SignalSubscribe(b.UUID(), "tempo", a.UUID(), "beat"))
	settle(t, a, b, c)

	assert.Equal(t, []string{"tempo"}, a.Subscribers()[b.UUID()]["beat"])
	assert.Equal(t, []string{"tempo"}, b.Subscriptions()[a.UUID()]["beat"])
	assert.Empty(t, c.Subscriptions())
	assert.Empty(t, c.Subscribers())

	a.EmitSignal("beat", 101.0)
	settle(t, a, b, c)

	v, _ := b.Value("tempo")
	assert.Equal(t, 101.0, v)
}

func TestSignalChain(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2", "node3")
	a, b, c := nodes[0], nodes[1], nodes[2]

	require.NoError(t, a.RegisterFloat("beat", 0, "re"))
	require.NoError(t, b.RegisterFloat("tempo", 0, "rwes"))
	require.NoError(t, c.RegisterFloat("pulse", 0, "rs"))

	startAll(t, a, b, c)
	require.NoError(t, b.SignalSubscribe(b.UUID(), "tempo", a.UUID(), "beat"))
	require.NoError(t, c.SignalSubscribe(c.UUID(), "pulse", b.UUID(), "tempo"))
	settle(t, a, b, c)

	a.EmitSignal("beat", 42.0)
	settle(t, a, b, c)

	bv, _ := b.Value("tempo")
	assert.Equal(t, 42.0, bv)

	// The incoming signal cascades through node2's own emitter.
	cv, _ := c.Value("pulse")
	assert.Equal(t, 42.0, cv)
}

func TestUnsubscribe(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	require.NoError(t, a.RegisterFloat("beat", 100, "re"))
	require.NoError(t, b.RegisterFloat("tempo", 0, "rws"))

	var unsubscribed *msg.Subscription
	a.Callbacks.OnPeerUnsubscribed = func(peer uuid.UUID, name string, sub msg.Subscription) error {
		unsubscribed = &sub
		return nil
	}

	startAll(t, a, b)
	require.NoError(t, b.SignalSubscribe(b.UUID(), "tempo", a.UUID(), "beat"))
	settle(t, a, b)

	a.EmitSignal("beat", 105.0)
	settle(t, a, b)
	v, _ := b.Value("tempo")
	require.Equal(t, 105.0, v)

	require.NoError(t, b.SignalUnsubscribe(b.UUID(), "tempo", a.UUID(), "beat"))
	settle(t, a, b)

	assert.Empty(t, a.Subscribers())
	assert.Empty(t, b.Subscriptions())
	require.NotNil(t, unsubscribed)

	rec, _ := a.record("beat")
	assert.Empty(t, rec["subscribers"])

	// Later signals no longer reach node2.
	a.EmitSignal("beat", 200.0)
	settle(t, a, b)
	v, _ = b.Value("tempo")
	assert.Equal(t, 105.0, v)
}

func TestWildcardSubscription(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	require.NoError(t, a.RegisterFloat("beat", 100, "re"))

	var emitters []string
	b.Callbacks.OnPeerSignaled = func(peer uuid.UUID, name, emitter string, value interface{}, receivers []string) error {
		emitters = append(emitters, emitter)
		assert.Empty(t, receivers)
		return nil
	}

	startAll(t, a, b)
	require.NoError(t, b.SignalSubscribe(b.UUID(), "", a.UUID(), ""))
	settle(t, a, b)

	a.EmitSignal("beat", 7.0)
	settle(t, a, b)

	// Callback only: nothing is written into node2's own tree.
	assert.Equal(t, []string{"beat"}, emitters)
	assert.Empty(t, b.Capability())

	// A wildcard subscription also receives structural changes.
	require.NoError(t, a.RegisterFloat("swing", 0.1, "r"))
	settle(t, a, b)

	cached, _ := b.PeerCapability(a.UUID())
	_, ok := cached["swing"]
	assert.True(t, ok)
}

func TestSubscribeUnknownEmitter(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	startAll(t, a, b)

	require.NoError(t, b.SignalSubscribe(b.UUID(), "", a.UUID(), "ghost"))
	settle(t, a, b)

	// The registry entry exists even though no record backs it yet.
	assert.Equal(t, []string{""}, a.Subscribers()[b.UUID()]["ghost"])
}

func TestForeignSubscriptionDropped(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2", "node3")
	a, b, c := nodes[0], nodes[1], nodes[2]

	startAll(t, a, b, c)

	// A tuple naming neither side of the receiving node is noise.
	sub := msg.Subscription{EmitPeer: b.UUID(), RecvPeer: c.UUID()}
	raw, err := msg.Marshal(msg.Sub, sub)
	require.NoError(t, err)
	c.Whisper(a.UUID(), raw)
	settle(t, a, b, c)

	assert.Empty(t, a.Subscribers())
	assert.Empty(t, a.Subscriptions())
}

func TestPeerExitPurges(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	require.NoError(t, a.RegisterFloat("beat", 100, "re"))
	require.NoError(t, b.RegisterFloat("tempo", 0, "s"))

	exited := false
	a.Callbacks.OnPeerExit = func(peer uuid.UUID, name string) error {
		exited = true
		assert.Equal(t, b.UUID(), peer)
		return nil
	}

	startAll(t, a, b)
	require.NoError(t, b.SignalSubscribe(b.UUID(), "tempo", a.UUID(), "beat"))
	settle(t, a, b)

	b.Stop()
	settle(t, a)

	assert.True(t, exited)
	assert.Empty(t, a.Subscribers())
	_, ok := a.PeerCapability(b.UUID())
	assert.False(t, ok)

	// The projected pair on the record outlives the peer.
	rec, _ := a.record("beat")
	assert.Len(t, rec["subscribers"], 1)
}
