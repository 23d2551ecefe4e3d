package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

type fakePipe struct {
	id       uint64
	identity []byte
	hwm      int
	written  []protocol.Message
}

func (p *fakePipe) ID() uint64       { return p.id }
func (p *fakePipe) Identity() []byte { return p.identity }
func (p *fakePipe) Full() bool       { return p.hwm > 0 && len(p.written) >= p.hwm }
func (p *fakePipe) Write(m protocol.Message) bool {
	p.written = append(p.written, m)
	return true
}

func strs(m protocol.Message) []string {
	out := make([]string, m.Len())
	for i, f := range m.Frames {
		out[i] = string(f.Data)
	}
	return out
}

func TestReqAlternation(t *testing.T) {
	pol, gate := New(api.REQ, nil, nil)
	p1, p2 := &fakePipe{id: 1}, &fakePipe{id: 2}
	require.NoError(t, pol.Attach(p1))
	require.NoError(t, pol.Attach(p2))

	assert.ErrorIs(t, gate.CheckRecv(), api.ErrInvalidState)

	m, err := gate.PrepareSend(protocol.NewMessage([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "hello"}, strs(m))
	gate.CommitSend()
	require.NoError(t, pol.Route(m))
	require.Len(t, p1.written, 1)

	_, err = gate.PrepareSend(protocol.NewMessage([]byte("again")))
	assert.ErrorIs(t, err, api.ErrInvalidState)

	// Replies from the wrong peer are ignored.
	_, ok := pol.Deliver(p2, protocol.NewMessage([]byte{}, []byte("bogus")))
	assert.False(t, ok)

	reply, ok := pol.Deliver(p1, protocol.NewMessage([]byte{}, []byte("world")))
	require.True(t, ok)
	require.NoError(t, gate.CheckRecv())
	body, ok := gate.FinishRecv(reply)
	require.True(t, ok)
	assert.Equal(t, []string{"world"}, strs(body))
	assert.NoError(t, gate.CheckSend())

	// Next request goes to the other peer.
	m, _ = gate.PrepareSend(protocol.NewMessage([]byte("second")))
	gate.CommitSend()
	require.NoError(t, pol.Route(m))
	assert.Len(t, p2.written, 1)
}

func TestReqRelaxed(t *testing.T) {
	flags := &Flags{}
	flags.ReqRelaxed.Store(true)
	pol, gate := New(api.REQ, flags, nil)
	p := &fakePipe{id: 1}
	require.NoError(t, pol.Attach(p))

	first, err := gate.PrepareSend(protocol.NewMessage([]byte("first")))
	require.NoError(t, err)
	gate.CommitSend()
	require.NoError(t, pol.Route(first))
	require.Equal(t, 3, first.Len())
	assert.Len(t, first.Frames[0].Data, 4)
	assert.Empty(t, first.Frames[1].Data)

	second, err := gate.PrepareSend(protocol.NewMessage([]byte("second")))
	require.NoError(t, err)
	gate.CommitSend()
	require.NoError(t, pol.Route(second))
	assert.NotEqual(t, first.Frames[0].Data, second.Frames[0].Data)

	reply := func(req protocol.Message, body string) protocol.Message {
		return protocol.NewMessage(req.Frames[0].Data, []byte{}, []byte(body))
	}
	_, ok := pol.Deliver(p, reply(first, "re:first"))
	assert.False(t, ok)

	// A stale reply that slipped past the policy is still refused by the gate.
	_, ok = gate.FinishRecv(reply(first, "re:first"))
	assert.False(t, ok)
	assert.True(t, gate.Outstanding())

	m, ok := pol.Deliver(p, reply(second, "re:second"))
	require.True(t, ok)
	body, ok := gate.FinishRecv(m)
	require.True(t, ok)
	assert.Equal(t, []string{"re:second"}, strs(body))
	assert.False(t, gate.Outstanding())
}

func TestReqWithoutPeerWouldBlock(t *testing.T) {
	pol, _ := New(api.REQ, nil, nil)
	err := pol.Route(protocol.NewMessage([]byte{}, []byte("x")))
	assert.ErrorIs(t, err, api.ErrWouldBlock)
}

func TestRepRoutesReplyToOrigin(t *testing.T) {
	pol, gate := New(api.REP, nil, nil)
	p1, p2 := &fakePipe{id: 1}, &fakePipe{id: 2}
	require.NoError(t, pol.Attach(p1))
	require.NoError(t, pol.Attach(p2))

	assert.ErrorIs(t, gate.CheckSend(), api.ErrInvalidState)

	_, ok := pol.Deliver(p2, protocol.NewMessage([]byte("no-delimiter")))
	assert.False(t, ok)
	assert.Equal(t, uint64(1), pol.Dropped())

	req, ok := pol.Deliver(p2, protocol.NewMessage([]byte("hop"), []byte{}, []byte("question")))
	require.True(t, ok)
	body, ok := gate.FinishRecv(req)
	require.True(t, ok)
	assert.Equal(t, []string{"question"}, strs(body))
	assert.ErrorIs(t, gate.CheckRecv(), api.ErrInvalidState)

	reply, err := gate.PrepareSend(protocol.NewMessage([]byte("answer")))
	require.NoError(t, err)
	gate.CommitSend()
	require.NoError(t, pol.Route(reply))
	assert.Empty(t, p1.written)
	require.Len(t, p2.written, 1)
	assert.Equal(t, []string{"hop", "", "answer"}, strs(p2.written[0]))
}

func TestRouterIdentityRoundTrip(t *testing.T) {
	flags := &Flags{}
	pol, gate := New(api.ROUTER, flags, nil)
	named := &fakePipe{id: 1, identity: []byte("X")}
	anon := &fakePipe{id: 2}
	require.NoError(t, pol.Attach(named))
	require.NoError(t, pol.Attach(anon))

	in, ok := pol.Deliver(named, protocol.NewMessage([]byte("hi")))
	require.True(t, ok)
	assert.Equal(t, []string{"X", "hi"}, strs(in))
	assert.Equal(t, []byte("X"), in.RoutingID)

	anonIn, ok := pol.Deliver(anon, protocol.NewMessage([]byte("yo")))
	require.True(t, ok)
	require.Len(t, anonIn.RoutingID, 17)
	assert.Equal(t, byte(0), anonIn.RoutingID[0])

	out, err := gate.PrepareSend(protocol.NewMessage([]byte("X"), []byte("reply")))
	require.NoError(t, err)
	require.NoError(t, pol.Route(out))
	require.Len(t, named.written, 1)
	assert.Equal(t, []string{"reply"}, strs(named.written[0]))

	_, err = gate.PrepareSend(protocol.NewMessage([]byte("lonely")))
	assert.ErrorIs(t, err, api.ErrProtocol)

	// Unknown identities are dropped, or refused when mandatory.
	require.NoError(t, pol.Route(protocol.NewMessage([]byte("Y"), []byte("lost"))))
	flags.RouterMandatory.Store(true)
	_, err = gate.PrepareSend(protocol.NewMessage([]byte("Y"), []byte("lost")))
	assert.ErrorIs(t, err, api.ErrHostUnreachable)

	pol.Detach(named)
	_, err = gate.PrepareSend(protocol.NewMessage([]byte("X"), []byte("gone")))
	assert.ErrorIs(t, err, api.ErrHostUnreachable)
}

func TestRouterDuplicateIdentity(t *testing.T) {
	pol, _ := New(api.ROUTER, nil, nil)
	a := &fakePipe{id: 1, identity: []byte("dup")}
	b := &fakePipe{id: 2, identity: []byte("dup")}
	require.NoError(t, pol.Attach(a))
	require.NoError(t, pol.Attach(b))
	mb, _ := pol.Deliver(b, protocol.NewMessage([]byte("x")))
	assert.NotEqual(t, []byte("dup"), mb.RoutingID)
}

func TestPubFiltersPerSubscriber(t *testing.T) {
	pol, _ := New(api.PUB, nil, nil)
	a, b := &fakePipe{id: 1}, &fakePipe{id: 2, hwm: 1}
	require.NoError(t, pol.Attach(a))
	require.NoError(t, pol.Attach(b))

	pol.Deliver(a, protocol.SubscriptionMessage([]byte("A"), true))
	pol.Deliver(b, protocol.SubscriptionMessage([]byte(""), true))

	require.NoError(t, pol.Route(protocol.NewMessage([]byte("A.1"), []byte("x"))))
	require.NoError(t, pol.Route(protocol.NewMessage([]byte("B.1"), []byte("y"))))

	require.Len(t, a.written, 1)
	assert.Equal(t, "A.1", string(a.written[0].Frames[0].Data))
	// b subscribed to everything but its HWM of 1 drops the second copy.
	require.Len(t, b.written, 1)
	assert.Equal(t, uint64(1), pol.Dropped())

	pol.Deliver(a, protocol.SubscriptionMessage([]byte("A"), false))
	require.NoError(t, pol.Route(protocol.NewMessage([]byte("A.2"))))
	assert.Len(t, a.written, 1)
}

func TestSubForwardsAndReplaysSubscriptions(t *testing.T) {
	pol, _ := New(api.SUB, nil, nil)
	sub := pol.(Subscriber)
	early := &fakePipe{id: 1}
	require.NoError(t, pol.Attach(early))

	sub.Subscribe([]byte("A"))
	sub.Subscribe([]byte("A")) // counted, not forwarded twice
	require.Len(t, early.written, 1)
	topic, subscribe, ok := protocol.ParseSubscription(early.written[0])
	require.True(t, ok)
	assert.True(t, subscribe)
	assert.Equal(t, "A", string(topic))

	late := &fakePipe{id: 2}
	require.NoError(t, pol.Attach(late))
	require.Len(t, late.written, 1, "subscriptions replay on attach")

	_, ok = pol.Deliver(early, protocol.NewMessage([]byte("A.x")))
	assert.True(t, ok)
	_, ok = pol.Deliver(early, protocol.NewMessage([]byte("B.x")))
	assert.False(t, ok)

	sub.Unsubscribe([]byte("A"))
	assert.Len(t, early.written, 1, "still one reference left")
	sub.Unsubscribe([]byte("A"))
	require.Len(t, early.written, 2)
	_, subscribe, _ = protocol.ParseSubscription(early.written[1])
	assert.False(t, subscribe)

	_, ok = pol.Deliver(early, protocol.NewMessage([]byte("A.y")))
	assert.False(t, ok)
}

func TestPushBackpressure(t *testing.T) {
	pol, _ := New(api.PUSH, nil, nil)
	a, b := &fakePipe{id: 1, hwm: 1}, &fakePipe{id: 2, hwm: 2}
	require.NoError(t, pol.Attach(a))
	require.NoError(t, pol.Attach(b))

	for i := 0; i < 3; i++ {
		require.NoError(t, pol.Route(protocol.NewMessage([]byte{byte(i)})))
	}
	assert.Len(t, a.written, 1)
	assert.Len(t, b.written, 2)
	assert.ErrorIs(t, pol.Route(protocol.NewMessage([]byte("x"))), api.ErrWouldBlock)

	pol.Detach(a)
	b.hwm = 0
	require.NoError(t, pol.Route(protocol.NewMessage([]byte("y"))))
	assert.Len(t, b.written, 3)
}

func TestPairSinglePeer(t *testing.T) {
	pol, _ := New(api.PAIR, nil, nil)
	assert.ErrorIs(t, pol.Route(protocol.NewMessage([]byte("x"))), api.ErrWouldBlock)
	require.NoError(t, pol.Attach(&fakePipe{id: 1}))
	assert.ErrorIs(t, pol.Attach(&fakePipe{id: 2}), api.ErrInvalidState)
}

func TestTrie(t *testing.T) {
	tr := NewTrie()
	assert.False(t, tr.Match([]byte("abc")))
	assert.True(t, tr.Add([]byte("ab")))
	assert.False(t, tr.Add([]byte("ab")))
	assert.True(t, tr.Add([]byte("abcd")))
	assert.True(t, tr.Match([]byte("abc")))
	assert.False(t, tr.Match([]byte("a")))
	assert.Equal(t, 2, tr.Len())

	assert.False(t, tr.Remove([]byte("ab")))
	assert.True(t, tr.Remove([]byte("ab")))
	assert.False(t, tr.Match([]byte("abc")))
	assert.True(t, tr.Match([]byte("abcde")))
	assert.False(t, tr.Remove([]byte("zz")))

	tr.Add(nil)
	assert.True(t, tr.Match([]byte("anything")))
	assert.ElementsMatch(t, [][]byte{{}, []byte("abcd")}, tr.Prefixes())
}
