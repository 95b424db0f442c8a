package marketdata

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamClient maintains a websocket subscription to the provider's
// trade feed and pushes prices into the snapshot cache. REST remains
// the source of truth; the stream only keeps watched symbols fresh
// between polls.
type StreamClient struct {
	mu sync.RWMutex

	url       string
	apiKey    string
	apiSecret string
	cache     *CachedClient
	log       zerolog.Logger

	conn       *websocket.Conn
	symbols    map[string]bool
	running    bool
	stopChan   chan struct{}
	reconnects int
}

// NewStreamClient creates a stream client feeding cache.
func NewStreamClient(url, apiKey, apiSecret string, cache *CachedClient, logger zerolog.Logger) *StreamClient {
	return &StreamClient{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		cache:     cache,
		log:       logger,
		symbols:   make(map[string]bool),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the connection loop.
func (s *StreamClient) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go s.connectLoop()
}

// Stop tears the connection down.
func (s *StreamClient) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
}

// SetSymbols replaces the subscription set. Takes effect immediately on
// a live connection, or at the next (re)connect otherwise.
func (s *StreamClient) SetSymbols(symbols []string) {
	s.mu.Lock()
	next := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		next[sym] = true
	}

	var unsubscribe, subscribe []string
	for sym := range s.symbols {
		if !next[sym] {
			unsubscribe = append(unsubscribe, sym)
		}
	}
	for sym := range next {
		if !s.symbols[sym] {
			subscribe = append(subscribe, sym)
		}
	}
	s.symbols = next
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}
	if len(unsubscribe) > 0 {
		s.send(conn, map[string]interface{}{"action": "unsubscribe", "trades": unsubscribe})
	}
	if len(subscribe) > 0 {
		s.send(conn, map[string]interface{}{"action": "subscribe", "trades": subscribe})
	}
}

func (s *StreamClient) connectLoop() {
	for {
		s.mu.RLock()
		running := s.running
		s.mu.RUnlock()
		if !running {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			s.mu.Lock()
			s.reconnects++
			n := s.reconnects
			s.mu.Unlock()
			s.log.Warn().Err(err).Int("attempt", n).Msg("stream dial failed, retrying in 5s")
			select {
			case <-s.stopChan:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.reconnects = 0
		subscribed := make([]string, 0, len(s.symbols))
		for sym := range s.symbols {
			subscribed = append(subscribed, sym)
		}
		s.mu.Unlock()

		s.send(conn, map[string]interface{}{"action": "auth", "key": s.apiKey, "secret": s.apiSecret})
		if len(subscribed) > 0 {
			s.send(conn, map[string]interface{}{"action": "subscribe", "trades": subscribed})
		}
		s.log.Info().Int("symbols", len(subscribed)).Msg("trade stream connected")

		s.readLoop(conn)

		s.mu.RLock()
		running = s.running
		s.mu.RUnlock()
		if !running {
			return
		}
		s.log.Warn().Msg("trade stream lost, reconnecting in 3s")
		select {
		case <-s.stopChan:
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (s *StreamClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("stream read error")
			}
			return
		}
		s.handleMessage(message)
	}
}

// streamEvent is the wire shape of one feed message. The feed sends
// arrays of events; T discriminates the type.
type streamEvent struct {
	Type      string    `json:"T"`
	Symbol    string    `json:"S"`
	Price     float64   `json:"p"`
	Size      float64   `json:"s"`
	Timestamp time.Time `json:"t"`
	Message   string    `json:"msg"`
}

func (s *StreamClient) handleMessage(message []byte) {
	var events []streamEvent
	if err := json.Unmarshal(message, &events); err != nil {
		s.log.Debug().Err(err).Msg("stream message not parseable")
		return
	}
	for _, ev := range events {
		switch ev.Type {
		case "t": // trade
			if ev.Symbol != "" && ev.Price > 0 {
				s.cache.Put(ev.Symbol, ev.Price, ev.Timestamp)
			}
		case "error":
			s.log.Warn().Str("msg", ev.Message).Msg("stream error event")
		case "success", "subscription":
			// control acks, nothing to do
		}
	}
}

func (s *StreamClient) send(conn *websocket.Conn, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug().Err(err).Msg("stream write failed")
	}
}
