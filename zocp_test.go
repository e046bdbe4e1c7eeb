package zocp

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z25/gozocp/msg"
	"github.com/z25/gozocp/presence"
)

// newTestNet builds one node per name on a shared inproc fabric. The
// nodes are not started yet, so tests can wire callbacks first.
func newTestNet(t *testing.T, names ...string) []*Node {
	t.Helper()

	fabric := presence.NewInprocFabric()
	nodes := make([]*Node, len(names))
	for i, name := range names {
		client := fabric.NewClient()
		client.SetName(name)

		n, err := New(client)
		require.NoError(t, err)
		n.SetHeader("X-TEST", "1")
		nodes[i] = n
	}
	return nodes
}

func startAll(t *testing.T, nodes ...*Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, n.Start())
		t.Cleanup(n.Stop)
	}
	settle(t, nodes...)
}

// settle pumps every node until all cross traffic has been consumed.
// Delivery on the fabric is synchronous, so a fixed number of rounds
// covers the deepest exchange the protocol produces.
func settle(t *testing.T, nodes ...*Node) {
	t.Helper()
	for round := 0; round < 8; round++ {
		for _, n := range nodes {
			require.NoError(t, n.RunOnce(0))
		}
	}
}

func TestDiscovery(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	var entered []uuid.UUID
	a.Callbacks.OnPeerEnter = func(peer uuid.UUID, name string, headers map[string]string) error {
		entered = append(entered, peer)
		assert.Equal(t, "node2", name)
		assert.Equal(t, "1", headers["X-ZOCP"])
		return nil
	}

	startAll(t, a, b)

	require.Equal(t, []uuid.UUID{b.UUID()}, entered)

	v, ok := a.PeerHeaderValue(b.UUID(), "X-TEST")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	assert.Contains(t, a.Peers(), b.UUID())
	assert.Contains(t, a.OwnGroups(), Group)
	assert.Contains(t, a.PeerGroups(), Group)

	addr, ok := a.PeerAddress(b.UUID())
	require.True(t, ok)
	assert.NotEmpty(t, addr)
}

func TestCapabilitySync(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	require.NoError(t, b.SetNodeName("node2"))
	require.NoError(t, b.RegisterFloat("bpm", 120, "rw"))

	startAll(t, a, b)

	cached, ok := a.PeerCapability(b.UUID())
	require.True(t, ok)
	assert.Equal(t, "node2", cached["_name"])

	v, ok := cached.Value("bpm")
	require.True(t, ok)
	assert.Equal(t, 120.0, v)
}

func TestPeerGet(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	require.NoError(t, a.RegisterFloat("bpm", 120, "rw"))
	require.NoError(t, a.RegisterString("title", "untitled", "rw"))

	startAll(t, a, b)

	b.PeerGet(a.UUID(), []string{"bpm", "ghost"})
	settle(t, a, b)

	cached, ok := b.PeerCapability(a.UUID())
	require.True(t, ok)

	_, ok = cached.Value("bpm")
	assert.True(t, ok)

	// Asked-for names we do not have come back as null.
	ghost, ok := cached["ghost"]
	require.True(t, ok)
	assert.Nil(t, ghost)
}

func TestPeerSet(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	require.NoError(t, a.RegisterFloat("bpm", 120, "rw"))

	var modPeer uuid.UUID
	var modData Capability
	a.Callbacks.OnModified = func(peer uuid.UUID, name string, data Capability) error {
		modPeer = peer
		modData = data
		return nil
	}

	startAll(t, a, b)

	b.PeerSet(a.UUID(), Capability{"bpm": map[string]interface{}{"value": 140.0}})
	settle(t, a, b)

	v, _ := a.Value("bpm")
	assert.Equal(t, 140.0, v)
	assert.Equal(t, b.UUID(), modPeer)
	require.NotNil(t, modData)
	_, ok := modData["bpm"]
	assert.True(t, ok)

	// The merge keeps the rest of the record intact.
	rec := a.Capability()["bpm"].(map[string]interface{})
	assert.Equal(t, HintFloat, rec["typeHint"])
	assert.Equal(t, "rw", rec["access"])
}

func TestCallAndReply(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	var replied interface{}
	b.Callbacks.OnPeerReplied = func(peer uuid.UUID, name string, payload interface{}) error {
		replied = payload
		return nil
	}

	startAll(t, a, b)

	// CALL is transported and absorbed without an answer.
	b.PeerCall(a.UUID(), "reset", 1.0, "hard")
	settle(t, a, b)

	a.PeerReply(b.UUID(), map[string]interface{}{"ok": true})
	settle(t, a, b)

	assert.Equal(t, map[string]interface{}{"ok": true}, replied)
}

func TestExtensionHandler(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	var got string
	require.NoError(t, a.RegisterHandler("PING", func(peer uuid.UUID, name, group string, payload json.RawMessage) error {
		got = string(payload)
		return nil
	}))

	require.Error(t, a.RegisterHandler(msg.Get, nil))

	startAll(t, a, b)

	raw, err := msg.Marshal("PING", "hi")
	require.NoError(t, err)
	b.Whisper(a.UUID(), raw)
	settle(t, a, b)

	assert.JSONEq(t, `"hi"`, got)
}

func TestUnknownVerb(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	startAll(t, a, b)

	raw, err := msg.Marshal("BOGUS", nil)
	require.NoError(t, err)
	b.Whisper(a.UUID(), raw)

	err = a.RunOnce(0)
	require.ErrorIs(t, err, ErrUnknownVerb)
}

func TestUndecodableFrameDropped(t *testing.T) {
	nodes := newTestNet(t, "node1", "node2")
	a, b := nodes[0], nodes[1]

	startAll(t, a, b)

	b.Whisper(a.UUID(), []byte("not a frame"))
	require.NoError(t, a.RunOnce(0))

	// The node keeps serving after the bad frame.
	b.PeerGetCapability(a.UUID())
	settle(t, a, b)
	_, ok := b.PeerCapability(a.UUID())
	assert.True(t, ok)
}

func TestMetrics(t *testing.T) {
	fabric := presence.NewInprocFabric()
	reg := prometheus.NewRegistry()

	mkNode := func(name string) *Node {
		client := fabric.NewClient()
		client.SetName(name)

		n, err := New(client, WithRegisterer(reg))
		require.NoError(t, err)
		return n
	}

	a, b := mkNode("node1"), mkNode("node2")
	startAll(t, a, b)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["zocp_frames_sent_total"], "frames sent after discovery")
	assert.True(t, names["zocp_frames_received_total"], "frames received after discovery")
	assert.True(t, names["zocp_peers"])
	assert.True(t, names["zocp_signals_emitted_total"])
}
