package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sheetwise/internal/config"
	"sheetwise/internal/events"
)

type fakeConn struct {
	id       string
	failSend bool

	mu     sync.Mutex
	sent   []OutboundMessage
	closed bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("connection gone")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) messages() []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutboundMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestHub() *Hub {
	return NewHub(config.RealtimeConfig{
		HeartbeatInterval: time.Minute,
		IdleTimeout:       time.Minute,
	}, zap.NewNop())
}

func TestPublishReachesOnlyTopicSubscribers(t *testing.T) {
	hub := newTestHub()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	c := &fakeConn{id: "c"}
	for _, conn := range []*fakeConn{a, b, c} {
		hub.Register(conn)
	}

	s1 := events.Topic{Kind: events.TopicSheet, ID: "s1"}
	s2 := events.Topic{Kind: events.TopicSheet, ID: "s2"}
	hub.Subscribe("a", s1)
	hub.Subscribe("b", s1)
	hub.Subscribe("c", s2)

	delivered := hub.Publish(s1, OutboundMessage{Type: MsgSheetUpdate, Topic: s1.String()})

	assert.Equal(t, 2, delivered)
	assert.Len(t, a.messages(), 1)
	assert.Len(t, b.messages(), 1)
	assert.Empty(t, c.messages())
}

func TestUnregisterRemovesEveryTopicMembership(t *testing.T) {
	hub := newTestHub()
	conn := &fakeConn{id: "a"}
	hub.Register(conn)

	jobTopic := events.Topic{Kind: events.TopicJob, ID: "j1"}
	sheetTopic := events.Topic{Kind: events.TopicSheet, ID: "s1"}
	hub.Subscribe("a", jobTopic)
	hub.Subscribe("a", sheetTopic)

	hub.Unregister("a")

	assert.True(t, conn.closed)
	assert.Equal(t, 0, hub.ConnectionCount())
	assert.Equal(t, 0, hub.Publish(jobTopic, OutboundMessage{Type: MsgJobUpdate}))
	assert.Equal(t, 0, hub.Publish(sheetTopic, OutboundMessage{Type: MsgSheetUpdate}))

	hub.mu.Lock()
	assert.Empty(t, hub.topics)
	hub.mu.Unlock()

	// A second Unregister is a no-op.
	hub.Unregister("a")
}

func TestHandleMessageSubscribeAndPing(t *testing.T) {
	hub := newTestHub()
	conn := &fakeConn{id: "a"}
	hub.Register(conn)

	hub.HandleMessage("a", []byte(`{"type":"subscribe","topic":"job:j1"}`))
	hub.HandleMessage("a", []byte(`{"type":"ping"}`))

	msgs := conn.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, MsgSubscribed, msgs[0].Type)
	assert.Equal(t, "job:j1", msgs[0].Topic)
	assert.Equal(t, MsgPong, msgs[1].Type)

	delivered := hub.Publish(events.Topic{Kind: events.TopicJob, ID: "j1"}, OutboundMessage{Type: MsgJobUpdate})
	assert.Equal(t, 1, delivered)
}

func TestHandleMessageRejectsBadInput(t *testing.T) {
	hub := newTestHub()
	conn := &fakeConn{id: "a"}
	hub.Register(conn)

	hub.HandleMessage("a", []byte(`not json`))
	hub.HandleMessage("a", []byte(`{"type":"subscribe","topic":"user:u1"}`))
	hub.HandleMessage("a", []byte(`{"type":"shout"}`))

	msgs := conn.messages()
	require.Len(t, msgs, 3)
	for _, msg := range msgs {
		assert.Equal(t, MsgError, msg.Type)
	}
}

func TestUnsubscribeStopsPush(t *testing.T) {
	hub := newTestHub()
	conn := &fakeConn{id: "a"}
	hub.Register(conn)

	topic := events.Topic{Kind: events.TopicJob, ID: "j1"}
	hub.Subscribe("a", topic)
	hub.Unsubscribe("a", topic)

	assert.Equal(t, 0, hub.Publish(topic, OutboundMessage{Type: MsgJobUpdate}))
	assert.Equal(t, 1, hub.ConnectionCount())
}

func TestSweepEvictsIdleConnections(t *testing.T) {
	hub := newTestHub()
	idle := &fakeConn{id: "idle"}
	live := &fakeConn{id: "live"}
	hub.Register(idle)
	hub.Register(live)

	topic := events.Topic{Kind: events.TopicJob, ID: "j1"}
	hub.Subscribe("idle", topic)

	hub.mu.Lock()
	hub.conns["idle"].lastActive = time.Now().Add(-time.Hour)
	hub.mu.Unlock()

	hub.sweep()

	assert.True(t, idle.closed)
	assert.Equal(t, 1, hub.ConnectionCount())
	assert.Equal(t, 0, hub.Publish(topic, OutboundMessage{Type: MsgJobUpdate}))

	// The surviving connection got the keepalive ping.
	msgs := live.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgPing, msgs[0].Type)
}

func TestFailedSendReapsConnection(t *testing.T) {
	hub := newTestHub()
	dead := &fakeConn{id: "dead", failSend: true}
	alive := &fakeConn{id: "alive"}
	hub.Register(dead)
	hub.Register(alive)

	topic := events.Topic{Kind: events.TopicSheet, ID: "s1"}
	hub.Subscribe("dead", topic)
	hub.Subscribe("alive", topic)

	delivered := hub.Publish(topic, OutboundMessage{Type: MsgSheetUpdate})

	assert.Equal(t, 1, delivered)
	assert.True(t, dead.closed)
	assert.Equal(t, 1, hub.ConnectionCount())
}

func TestAttachBusForwardsJobEvents(t *testing.T) {
	hub := newTestHub()
	bus := events.NewBus(10, zap.NewNop())
	detach := hub.AttachBus(bus)
	defer detach()

	byJob := &fakeConn{id: "byJob"}
	bySheet := &fakeConn{id: "bySheet"}
	other := &fakeConn{id: "other"}
	for _, conn := range []*fakeConn{byJob, bySheet, other} {
		hub.Register(conn)
	}
	hub.Subscribe("byJob", events.Topic{Kind: events.TopicJob, ID: "j1"})
	hub.Subscribe("bySheet", events.Topic{Kind: events.TopicSheet, ID: "s1"})
	hub.Subscribe("other", events.Topic{Kind: events.TopicJob, ID: "j2"})

	bus.Publish(events.KindJobProgress, events.JobPayload{
		JobID: "j1", SheetID: "s1", Status: "processing", Processed: 25, Total: 100,
	}, "test")

	jobMsgs := byJob.messages()
	require.Len(t, jobMsgs, 1)
	assert.Equal(t, MsgJobUpdate, jobMsgs[0].Type)
	assert.Equal(t, "job:j1", jobMsgs[0].Topic)
	require.NotNil(t, jobMsgs[0].Change)
	assert.Equal(t, "job.progress", jobMsgs[0].Change.Kind)

	sheetMsgs := bySheet.messages()
	require.Len(t, sheetMsgs, 1)
	assert.Equal(t, "sheet:s1", sheetMsgs[0].Topic)

	assert.Empty(t, other.messages())
}

func TestAttachBusForwardsSheetEvents(t *testing.T) {
	hub := newTestHub()
	bus := events.NewBus(10, zap.NewNop())
	detach := hub.AttachBus(bus)
	defer detach()

	conn := &fakeConn{id: "a"}
	hub.Register(conn)
	hub.Subscribe("a", events.Topic{Kind: events.TopicSheet, ID: "s1"})

	bus.Publish(events.KindSheetChanged, events.SheetPayload{
		SheetID: "s1", JobID: "j1", Action: "updated",
	}, "test")

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgSheetUpdate, msgs[0].Type)
	require.NotNil(t, msgs[0].Change)
	assert.Equal(t, "updated", msgs[0].Change.Action)
}

func TestStopClosesEverything(t *testing.T) {
	hub := newTestHub()
	hub.Start()

	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	hub.Register(a)
	hub.Register(b)
	hub.Subscribe("a", events.Topic{Kind: events.TopicJob, ID: "j1"})

	hub.Stop()

	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 0, hub.ConnectionCount())
}
