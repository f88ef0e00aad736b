package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"sheetwise/internal/config"
	"sheetwise/internal/events"
)

// Conn is one live client connection. The gorilla adapter implements it in
// production; tests use fakes.
type Conn interface {
	ID() string
	Send(msg OutboundMessage) error
	Close() error
}

type session struct {
	conn       Conn
	topics     map[events.Topic]struct{}
	lastActive time.Time
}

// Hub maps live connections to subscribed topics and fans internal events
// out as push messages. The connection registry and the topic index are
// mutated together under one lock so they can never disagree.
type Hub struct {
	logger            *zap.Logger
	heartbeatInterval time.Duration
	idleTimeout       time.Duration

	mu     sync.Mutex
	conns  map[string]*session
	topics map[events.Topic]map[string]*session

	stop chan struct{}
	once sync.Once
	now  func() time.Time
}

// NewHub creates a Hub; call Start to begin the heartbeat sweep.
func NewHub(cfg config.RealtimeConfig, logger *zap.Logger) *Hub {
	return &Hub{
		logger:            logger,
		heartbeatInterval: cfg.HeartbeatInterval,
		idleTimeout:       cfg.IdleTimeout,
		conns:             make(map[string]*session),
		topics:            make(map[events.Topic]map[string]*session),
		stop:              make(chan struct{}),
		now:               time.Now,
	}
}

// Register adds a new connection with no subscriptions.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = &session{
		conn:       c,
		topics:     make(map[events.Topic]struct{}),
		lastActive: h.now(),
	}
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Debug("Connection registered", zap.String("conn_id", c.ID()), zap.Int("connections", total))
}

// Unregister removes a connection from every topic set it belonged to, then
// drops the connection record. Safe to call more than once.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	sess, ok := h.conns[connID]
	if ok {
		h.dropLocked(connID, sess)
	}
	h.mu.Unlock()

	if ok {
		_ = sess.conn.Close()
		h.logger.Debug("Connection removed", zap.String("conn_id", connID))
	}
}

// HandleMessage processes one inbound client message.
func (h *Hub) HandleMessage(connID string, raw []byte) {
	h.touch(connID)

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reply(connID, OutboundMessage{Type: MsgError, Msg: "malformed message"})
		return
	}

	switch msg.Type {
	case MsgPing:
		h.reply(connID, OutboundMessage{Type: MsgPong, Timestamp: h.now().UnixMilli()})
	case MsgSubscribe:
		topic, err := events.ParseTopic(msg.Topic)
		if err != nil {
			h.reply(connID, OutboundMessage{Type: MsgError, Msg: err.Error()})
			return
		}
		h.Subscribe(connID, topic)
		h.reply(connID, OutboundMessage{Type: MsgSubscribed, Topic: topic.String()})
	case MsgUnsubscribe:
		topic, err := events.ParseTopic(msg.Topic)
		if err != nil {
			h.reply(connID, OutboundMessage{Type: MsgError, Msg: err.Error()})
			return
		}
		h.Unsubscribe(connID, topic)
		h.reply(connID, OutboundMessage{Type: MsgUnsubscribed, Topic: topic.String()})
	default:
		h.reply(connID, OutboundMessage{Type: MsgError, Msg: "unknown message type"})
	}
}

// Subscribe adds the connection to a topic; both sides of the index move
// together.
func (h *Hub) Subscribe(connID string, topic events.Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.conns[connID]
	if !ok {
		return
	}
	sess.topics[topic] = struct{}{}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*session)
	}
	h.topics[topic][connID] = sess
}

// Unsubscribe removes the connection from a topic.
func (h *Hub) Unsubscribe(connID string, topic events.Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(sess.topics, topic)
	h.removeFromTopicLocked(connID, topic)
}

// Publish pushes a message to every connection subscribed to the topic and
// returns the number of successful deliveries. A failed send never blocks
// the others; the dead connection is reaped.
func (h *Hub) Publish(topic events.Topic, msg OutboundMessage) int {
	h.mu.Lock()
	targets := make([]Conn, 0, len(h.topics[topic]))
	for _, sess := range h.topics[topic] {
		targets = append(targets, sess.conn)
	}
	h.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(msg); err != nil {
			h.logger.Warn("Push delivery failed",
				zap.String("conn_id", conn.ID()),
				zap.String("topic", topic.String()),
				zap.Error(err))
			h.Unregister(conn.ID())
			continue
		}
		delivered++
	}
	return delivered
}

// AttachBus forwards job and sheet events from the bus to subscribed
// connections. The returned function detaches again.
func (h *Hub) AttachBus(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(events.KindJobCreated, h.forwardJobEvent),
		bus.Subscribe(events.KindJobProgress, h.forwardJobEvent),
		bus.Subscribe(events.KindJobCompleted, h.forwardJobEvent),
		bus.Subscribe(events.KindJobFailed, h.forwardJobEvent),
		bus.Subscribe(events.KindSheetChanged, h.forwardSheetEvent),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Start launches the heartbeat sweep.
func (h *Hub) Start() {
	go h.heartbeatLoop()
}

// Stop ends the heartbeat sweep and closes every connection.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.stop) })

	h.mu.Lock()
	sessions := make([]*session, 0, len(h.conns))
	for id, sess := range h.conns {
		sessions = append(sessions, sess)
		h.dropLocked(id, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.conn.Close()
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep pings every connection and evicts those idle past the threshold,
// cleaning them up exactly like a disconnect.
func (h *Hub) sweep() {
	cutoff := h.now().Add(-h.idleTimeout)

	h.mu.Lock()
	var idle []string
	live := make([]Conn, 0, len(h.conns))
	for id, sess := range h.conns {
		if sess.lastActive.Before(cutoff) {
			idle = append(idle, id)
			continue
		}
		live = append(live, sess.conn)
	}
	h.mu.Unlock()

	for _, id := range idle {
		h.logger.Info("Evicting idle connection", zap.String("conn_id", id))
		h.Unregister(id)
	}
	ping := OutboundMessage{Type: MsgPing, Timestamp: h.now().UnixMilli()}
	for _, conn := range live {
		if err := conn.Send(ping); err != nil {
			h.Unregister(conn.ID())
		}
	}
}

func (h *Hub) forwardJobEvent(event events.Event) {
	payload, ok := event.Payload.(events.JobPayload)
	if !ok {
		return
	}
	msg := OutboundMessage{
		Type:      MsgJobUpdate,
		Timestamp: event.Timestamp.UnixMilli(),
		Change: &Change{
			Kind:      string(event.Kind),
			Action:    "updated",
			ID:        payload.JobID,
			Data:      payload,
			Timestamp: event.Timestamp,
		},
	}

	jobTopic := events.Topic{Kind: events.TopicJob, ID: payload.JobID}
	msg.Topic = jobTopic.String()
	h.Publish(jobTopic, msg)

	if payload.SheetID != "" {
		sheetTopic := events.Topic{Kind: events.TopicSheet, ID: payload.SheetID}
		msg.Topic = sheetTopic.String()
		h.Publish(sheetTopic, msg)
	}
}

func (h *Hub) forwardSheetEvent(event events.Event) {
	payload, ok := event.Payload.(events.SheetPayload)
	if !ok {
		return
	}
	topic := events.Topic{Kind: events.TopicSheet, ID: payload.SheetID}
	h.Publish(topic, OutboundMessage{
		Type:      MsgSheetUpdate,
		Topic:     topic.String(),
		Timestamp: event.Timestamp.UnixMilli(),
		Change: &Change{
			Kind:      string(event.Kind),
			Action:    payload.Action,
			ID:        payload.SheetID,
			Data:      payload,
			Timestamp: event.Timestamp,
		},
	})
}

func (h *Hub) touch(connID string) {
	h.mu.Lock()
	if sess, ok := h.conns[connID]; ok {
		sess.lastActive = h.now()
	}
	h.mu.Unlock()
}

func (h *Hub) reply(connID string, msg OutboundMessage) {
	h.mu.Lock()
	sess, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := sess.conn.Send(msg); err != nil {
		h.Unregister(connID)
	}
}

func (h *Hub) dropLocked(connID string, sess *session) {
	for topic := range sess.topics {
		h.removeFromTopicLocked(connID, topic)
	}
	delete(h.conns, connID)
}

func (h *Hub) removeFromTopicLocked(connID string, topic events.Topic) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}
