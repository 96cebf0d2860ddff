package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kenyonj/auto-investor/config"
)

// OrderUpdate is a trade-updates event pushed by the broker when an order
// changes state (fill, partial_fill, canceled, rejected, ...).
type OrderUpdate struct {
	Event string `json:"event"`
	Order struct {
		ID       string `json:"id"`
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Qty      string `json:"qty"`
		Type     string `json:"type"`
		Status   string `json:"status"`
		FilledAt string `json:"filled_at"`
	} `json:"order"`
	Price    string `json:"price,omitempty"`
	Quantity string `json:"qty,omitempty"`
}

// UpdateHandler receives order updates from the stream.
type UpdateHandler func(update OrderUpdate)

// OrderStream maintains a websocket connection to the broker's trade-updates
// feed, reconnecting with backoff when the connection drops.
type OrderStream struct {
	url       string
	apiKey    string
	secretKey string
	handler   UpdateHandler

	writeMu     sync.Mutex
	conn        *websocket.Conn
	lastMsgTime time.Time
}

// NewOrderStream creates an order-update stream. handler runs on the read
// goroutine, so it must not block.
func NewOrderStream(cfg config.BrokerConfig, handler UpdateHandler) *OrderStream {
	return &OrderStream{
		url:         cfg.StreamURL,
		apiKey:      cfg.APIKey,
		secretKey:   cfg.SecretKey,
		handler:     handler,
		lastMsgTime: time.Now(),
	}
}

// streamMessage is the envelope for every frame on the trading stream.
type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (s *OrderStream) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}
	s.conn = conn
	s.lastMsgTime = time.Now()
	log.Printf("✅ Connected to %s", s.url)

	auth := map[string]any{
		"action": "auth",
		"key":    s.apiKey,
		"secret": s.secretKey,
	}
	if err := s.writeJSON(auth); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send auth: %w", err)
	}

	listen := map[string]any{
		"action": "listen",
		"data":   map[string]any{"streams": []string{"trade_updates"}},
	}
	if err := s.writeJSON(listen); err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to trade updates: %w", err)
	}

	log.Printf("📡 Subscribed to trade updates")
	return nil
}

func (s *OrderStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return s.conn.WriteJSON(v)
}

// Run connects and consumes the stream until ctx is canceled. Reconnects
// with exponential backoff capped at one minute.
func (s *OrderStream) Run(ctx context.Context) {
	backoff := 2 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.connect(); err != nil {
			log.Printf("⚠️ Order stream connect failed: %v (retrying in %v)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < time.Minute {
				backoff *= 2
			}
			continue
		}
		backoff = 2 * time.Second

		pingCtx, stopPing := context.WithCancel(ctx)
		go s.pingLoop(pingCtx, 25*time.Second)

		s.readLoop(ctx)
		stopPing()
		s.Close()

		if ctx.Err() != nil {
			return
		}
		log.Printf("⚠️ Order stream disconnected, reconnecting...")
	}
}

func (s *OrderStream) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("⚠️ Order stream read failed: %v", err)
			}
			return
		}
		s.markMessage()

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // Skip malformed frames
		}
		if msg.Stream != "trade_updates" {
			continue
		}

		var update OrderUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			log.Printf("⚠️ Failed to parse order update: %v", err)
			continue
		}

		log.Printf("📦 Order update: %s %s %s (%s)", update.Event, update.Order.Side, update.Order.Symbol, update.Order.Status)
		if s.handler != nil {
			s.handler(update)
		}
	}
}

// staleAfter is the silence threshold past which the connection is
// considered dead even though the socket is still open.
const staleAfter = 5 * time.Minute

func (s *OrderStream) markMessage() {
	s.writeMu.Lock()
	s.lastMsgTime = time.Now()
	s.writeMu.Unlock()
}

func (s *OrderStream) sinceLastMessage() time.Duration {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return time.Since(s.lastMsgTime)
}

func (s *OrderStream) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if silence := s.sinceLastMessage(); silence > staleAfter {
				// Closing makes the read loop fail, which triggers the
				// reconnect in Run.
				log.Printf("⚠️ No stream message for %v, forcing reconnect", silence.Round(time.Second))
				s.Close()
				return
			}

			s.writeMu.Lock()
			conn := s.conn
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Println("Failed to send ping:", err)
				}
			}
			s.writeMu.Unlock()
		}
	}
}

// Close closes the underlying connection.
func (s *OrderStream) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
