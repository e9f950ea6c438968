package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// allFeedsKey indexes clients that follow every dealer.
const allFeedsKey = "*"

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager fans fleet events out to connected dashboards, keyed by dealer.
// It satisfies service.Notifier.
type Manager struct {
	clients          map[string]*Client
	dealerIndex      map[string]map[string]bool
	clientsMutex     sync.RWMutex
	Unregister       chan *Client
	HandleMessage    chan *ClientMessage
	done             chan struct{}
	maxConnPerDealer int
	maxMessageSize   int64
	writeWait        time.Duration
	pongWait         time.Duration
	pingPeriod       time.Duration
	logger           *zap.Logger
}

func NewManager(maxConnPerDealer int, maxMessageSize int64, writeWait, pongWait, pingPeriod time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		clients:          make(map[string]*Client),
		dealerIndex:      make(map[string]map[string]bool),
		Unregister:       make(chan *Client),
		HandleMessage:    make(chan *ClientMessage),
		done:             make(chan struct{}),
		maxConnPerDealer: maxConnPerDealer,
		maxMessageSize:   maxMessageSize,
		writeWait:        writeWait,
		pongWait:         pongWait,
		pingPeriod:       pingPeriod,
		logger:           logger,
	}
}

// Run serves registrations until ctx is cancelled, then closes every
// remaining connection.
func (m *Manager) Run(ctx context.Context) {
	defer m.closeAll()
	for {
		select {
		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)

		case <-ctx.Done():
			close(m.done)
			return
		}
	}
}

// Connect registers client and reports whether it was admitted. A
// rejected client has its Send channel closed.
func (m *Manager) Connect(client *Client) bool {
	select {
	case <-m.done:
		close(client.Send)
		return false
	default:
	}
	return m.registerClient(client)
}

func (m *Manager) unregister(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
	}
}

func (m *Manager) inbound(msg *ClientMessage) {
	select {
	case m.HandleMessage <- msg:
	case <-m.done:
	}
}

func (m *Manager) registerClient(client *Client) bool {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	key := client.feedKey()
	if m.dealerIndex[key] == nil {
		m.dealerIndex[key] = make(map[string]bool)
	}

	if len(m.dealerIndex[key]) >= m.maxConnPerDealer {
		m.logger.Warn("max dashboard connections reached", zap.String("dealer_id", key))
		close(client.Send)
		return false
	}

	m.clients[client.ID] = client
	m.dealerIndex[key][client.ID] = true

	m.logger.Info("dashboard connected",
		zap.String("client_id", client.ID),
		zap.String("dealer_id", client.DealerID),
		zap.Bool("all_feeds", client.AllFeeds),
	)
	return true
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	m.removeLocked(client)
}

func (m *Manager) removeLocked(client *Client) {
	if _, ok := m.clients[client.ID]; !ok {
		return
	}

	key := client.feedKey()
	delete(m.clients, client.ID)
	delete(m.dealerIndex[key], client.ID)
	if len(m.dealerIndex[key]) == 0 {
		delete(m.dealerIndex, key)
	}

	close(client.Send)
	m.logger.Debug("dashboard disconnected", zap.String("client_id", client.ID))
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	for _, client := range m.clients {
		m.removeLocked(client)
	}
}

// Dashboards only ever ping; everything else is ignored.
func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.logger.Debug("dropping malformed dashboard message", zap.String("client_id", clientMsg.Client.ID), zap.Error(err))
		return
	}
	if msg.Type != TypePing {
		return
	}

	pong, err := NewMessage(TypePong, nil)
	if err != nil {
		return
	}
	m.SendToClient(clientMsg.Client.ID, pong)
}

// Publish delivers an event to the dealer's dashboards and to every
// all-feeds dashboard. Clients whose buffer is full are dropped.
func (m *Manager) Publish(dealerID, event string, payload interface{}) {
	msg, err := NewMessage(MessageType(event), payload)
	if err != nil {
		m.logger.Error("failed to encode live event", zap.String("event", event), zap.Error(err))
		return
	}
	msg.DealerID = dealerID

	if err := m.broadcast(dealerID, msg); err != nil {
		m.logger.Error("failed to broadcast live event", zap.String("event", event), zap.Error(err))
	}
}

func (m *Manager) broadcast(dealerID string, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	var slow []*Client

	m.clientsMutex.RLock()
	for _, key := range []string{dealerID, allFeedsKey} {
		for clientID := range m.dealerIndex[key] {
			client := m.clients[clientID]
			select {
			case client.Send <- messageBytes:
			default:
				slow = append(slow, client)
			}
		}
	}
	m.clientsMutex.RUnlock()

	// Evicted outside the read lock; unregisterClient takes the write lock.
	for _, client := range slow {
		m.logger.Warn("dashboard send buffer full, closing connection", zap.String("client_id", client.ID))
		m.unregisterClient(client)
	}
	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		m.logger.Warn("dashboard send buffer full", zap.String("client_id", clientID))
	}

	return nil
}

func (m *Manager) DealerConnections(dealerID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.dealerIndex[dealerID]; exists {
		return len(clients)
	}
	return 0
}
