package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	requestTimeout = 15 * time.Second
	writeTimeout   = 5 * time.Second
)

// Client speaks the venue's JSON request/response websocket protocol.
// Requests carry a correlation ID; the read pump routes each response to
// the goroutine that issued it.
type Client struct {
	url   string
	creds Credentials
	mode  Mode

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan json.RawMessage
	stop    func()
	alive   bool
}

// NewClient builds an unconnected client for one account.
func NewClient(wsURL string, creds Credentials) *Client {
	return &Client{
		url:     wsURL,
		creds:   creds,
		mode:    ModePractice,
		pending: make(map[string]chan json.RawMessage),
	}
}

// NewFactory returns a Factory bound to a websocket endpoint.
func NewFactory(wsURL string) Factory {
	return func(creds Credentials) Gateway {
		return NewClient(wsURL, creds)
	}
}

type envelope struct {
	Name      string          `json:"name"`
	RequestID string          `json:"request_id,omitempty"`
	Msg       json.RawMessage `json:"msg,omitempty"`
	Status    int             `json:"status,omitempty"`
}

// Connect dials the endpoint, starts the read pump and performs the auth
// handshake.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnectivity, c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.alive = true
	var once sync.Once
	c.stop = func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			c.mu.Lock()
			c.alive = false
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
		})
	}
	c.mu.Unlock()

	go c.readPump(conn)

	auth := map[string]string{
		"identifier": c.creds.Identifier,
		"password":   c.creds.Secret,
	}
	resp, err := c.request(ctx, "authenticate", auth)
	if err != nil {
		c.stop()
		return err
	}
	var result struct {
		Authorized bool   `json:"authorized"`
		Reason     string `json:"reason"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		c.stop()
		return fmt.Errorf("%w: decode auth response: %v", ErrConnectivity, err)
	}
	if !result.Authorized {
		c.stop()
		return fmt.Errorf("%w: %s", ErrAuth, result.Reason)
	}
	return nil
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				c.markDead()
				return
			}
			log.Printf("venue ws read error: %v", err)
			c.markDead()
			return
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			log.Printf("venue ws parse error: %v", err)
			continue
		}
		if env.RequestID == "" {
			continue // unsolicited server event, not correlated
		}
		c.mu.Lock()
		ch, ok := c.pending[env.RequestID]
		if ok {
			delete(c.pending, env.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env.Msg
			close(ch)
		}
	}
}

func (c *Client) markDead() {
	c.mu.Lock()
	c.alive = false
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// request sends one correlated message and waits for its response.
func (c *Client) request(ctx context.Context, name string, payload interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	alive := c.alive
	if !alive || conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: not connected", ErrConnectivity)
	}
	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	c.pending[id] = ch

	body, err := json.Marshal(payload)
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	env := envelope{Name: name, RequestID: id, Msg: body}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteJSON(env)
	c.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: send %s: %v", ErrConnectivity, name, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s timed out", ErrConnectivity, name)
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection lost awaiting %s", ErrConnectivity, name)
		}
		return resp, nil
	}
}

// SelectMode switches the active balance. Takes effect on the next trade.
func (c *Client) SelectMode(mode Mode) error {
	if mode != ModePractice && mode != ModeReal {
		return fmt.Errorf("unknown mode %q", mode)
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return nil
}

// FetchCandles returns the most recent count candles, oldest first.
func (c *Client) FetchCandles(ctx context.Context, instrument string, granularitySec, count int) ([]Candle, error) {
	req := map[string]interface{}{
		"active": instrument,
		"size":   granularitySec,
		"count":  count,
		"to":     time.Now().Unix(),
	}
	resp, err := c.request(ctx, "get-candles", req)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Candles []struct {
			From   interface{} `json:"from"`
			Open   interface{} `json:"open"`
			Close  interface{} `json:"close"`
			Max    interface{} `json:"max"`
			Min    interface{} `json:"min"`
			Volume interface{} `json:"volume"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode candles: %v", ErrDataUnavailable, err)
	}
	if len(raw.Candles) == 0 {
		return nil, fmt.Errorf("%w: empty candle response for %s", ErrDataUnavailable, instrument)
	}
	out := make([]Candle, 0, len(raw.Candles))
	for _, rc := range raw.Candles {
		out = append(out, Candle{
			Timestamp: toInt64(rc.From),
			Open:      toFloat(rc.Open),
			High:      toFloat(rc.Max),
			Low:       toFloat(rc.Min),
			Close:     toFloat(rc.Close),
			Volume:    toFloat(rc.Volume),
		})
	}
	return out, nil
}

// PlaceTrade opens a directional contract and returns its venue ID.
func (c *Client) PlaceTrade(ctx context.Context, amount float64, instrument string, dir Direction, durationMin int) (string, error) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	req := map[string]interface{}{
		"active":    instrument,
		"amount":    amount,
		"direction": string(dir),
		"duration":  durationMin,
		"balance":   string(mode),
	}
	resp, err := c.request(ctx, "open-option", req)
	if err != nil {
		return "", err
	}
	var raw struct {
		ID      interface{} `json:"id"`
		Success bool        `json:"success"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return "", fmt.Errorf("%w: decode placement: %v", ErrPlacement, err)
	}
	if !raw.Success {
		return "", fmt.Errorf("%w: %s", ErrPlacement, raw.Message)
	}
	id := toInt64(raw.ID)
	if id == 0 {
		return "", fmt.Errorf("%w: placement returned no trade id", ErrPlacement)
	}
	return strconv.FormatInt(id, 10), nil
}

// PollResult reports settlement for a trade. OutcomePending means the
// contract has not expired yet.
func (c *Client) PollResult(ctx context.Context, tradeID string) (Outcome, float64, error) {
	resp, err := c.request(ctx, "check-option", map[string]string{"id": tradeID})
	if err != nil {
		return OutcomePending, 0, err
	}
	var raw struct {
		Status string      `json:"status"` // open, win, loose, equal
		Profit interface{} `json:"profit"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return OutcomePending, 0, fmt.Errorf("%w: decode result for %s: %v", ErrAmbiguousOutcome, tradeID, err)
	}
	profit := toFloat(raw.Profit)
	switch strings.ToLower(raw.Status) {
	case "open":
		return OutcomePending, 0, nil
	case "win":
		return OutcomeWin, profit, nil
	case "loose", "lose", "loss":
		return OutcomeLoss, profit, nil
	case "equal", "tie":
		return OutcomeTie, 0, nil
	default:
		return OutcomePending, 0, fmt.Errorf("%w: status %q for trade %s", ErrAmbiguousOutcome, raw.Status, tradeID)
	}
}

// Balance returns the balance of the currently selected mode.
func (c *Client) Balance(ctx context.Context) (float64, string, error) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	resp, err := c.request(ctx, "get-balances", map[string]string{"type": string(mode)})
	if err != nil {
		return 0, "", err
	}
	var raw struct {
		Amount   interface{} `json:"amount"`
		Currency string      `json:"currency"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return 0, "", fmt.Errorf("%w: decode balance: %v", ErrConnectivity, err)
	}
	return toFloat(raw.Amount), raw.Currency, nil
}

// IsConnected reports whether the socket answered a recent ping.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	conn := c.conn
	alive := c.alive
	c.mu.Unlock()
	if !alive || conn == nil {
		return false
	}
	err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
	if err != nil {
		c.markDead()
		return false
	}
	return true
}

// Reconnect tears down the socket and redials with the same credentials.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	stop := c.stop
	mode := c.mode
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.SelectMode(mode)
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	return nil
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}
