package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Exchanger redeems a one-time code for a bearer token.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

// ExchangeFunc adapts a function to Exchanger.
type ExchangeFunc func(ctx context.Context, code string) (string, error)

func (f ExchangeFunc) Exchange(ctx context.Context, code string) (string, error) {
	return f(ctx, code)
}

// Responder is the extension side of the handshake. It answers request
// messages by redeeming the carried code, at most once per code, and
// broadcasting the result.
type Responder struct {
	bus       Bus
	exchanger Exchanger
	timeout   time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	seen        map[string]struct{}
	token       string
	unsubscribe func()
	wg          sync.WaitGroup

	// OnToken, when set, receives every token obtained.
	OnToken func(token string)
}

func NewResponder(bus Bus, exchanger Exchanger, timeout time.Duration, logger *zap.Logger) *Responder {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{
		bus:       bus,
		exchanger: exchanger,
		timeout:   timeout,
		logger:    logger.Named("handshake"),
		seen:      make(map[string]struct{}),
	}
}

// Listen subscribes to the bus. Calling it twice has no effect.
func (r *Responder) Listen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe == nil {
		r.unsubscribe = r.bus.Subscribe(r.onMessage)
	}
}

func (r *Responder) onMessage(m Message) {
	if m.Type != RequestType || m.Code == "" {
		return
	}

	r.mu.Lock()
	if r.unsubscribe == nil {
		r.mu.Unlock()
		return
	}
	if _, dup := r.seen[m.Code]; dup {
		r.mu.Unlock()
		r.logger.Debug("code already handled, ignoring request")
		return
	}
	r.seen[m.Code] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.redeem(m.Code)
}

func (r *Responder) redeem(code string) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	token, err := r.exchanger.Exchange(ctx, code)
	if err != nil {
		r.logger.Warn("code exchange failed", zap.Error(err))
		r.bus.Publish(Result(false, err.Error()))
		return
	}

	r.mu.Lock()
	r.token = token
	cb := r.OnToken
	r.mu.Unlock()
	if cb != nil {
		cb(token)
	}
	r.bus.Publish(Result(true, ""))
}

// Token returns the last token obtained.
func (r *Responder) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// Close unsubscribes and waits for in-flight exchanges.
func (r *Responder) Close() {
	r.mu.Lock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// HTTPExchanger redeems codes against the linkcloak API.
type HTTPExchanger struct {
	BaseURL string
	Client  *http.Client
}

type exchangeResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

func (e *HTTPExchanger) Exchange(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(e.BaseURL, "/") + "/api/v1/extension/exchange"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange request: %w", err)
	}
	defer resp.Body.Close()

	var out exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode exchange response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error == "" {
			out.Error = http.StatusText(resp.StatusCode)
		}
		return "", errors.New(out.Error)
	}
	if out.Token == "" {
		return "", errors.New("exchange response carried no token")
	}
	return out.Token, nil
}
