package metasync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/matchstate/internal/meta"
	"github.com/DoyleJ11/matchstate/internal/metrics"
)

var ErrDispatch = errors.New("metasync: dispatch failed")

type SyncRequest struct {
	SessionID       string           `json:"sessionId"`
	GameID          string           `json:"gameId"`
	RoomID          string           `json:"roomId,omitempty"`
	MatchInstanceID string           `json:"matchInstanceId,omitempty"`
	Collaborators   []string         `json:"collaborators,omitempty"`
	Meta            meta.SessionMeta `json:"meta"`
	TurnStateEvent  *meta.TurnState  `json:"turnStateEvent,omitempty"`
	Source          string           `json:"source"`
}

// Transport delivers one request to the sync endpoint.
type Transport interface {
	Send(ctx context.Context, req SyncRequest) error
}

type TransportFunc func(ctx context.Context, req SyncRequest) error

func (f TransportFunc) Send(ctx context.Context, req SyncRequest) error { return f(ctx, req) }

// Signature is a stable digest of the request content. The meta UpdatedAt
// stamp is excluded so a patch that changes nothing else does not resend.
func Signature(req SyncRequest) (string, error) {
	req.Meta.UpdatedAt = 0
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Dispatcher pushes meta updates to the sync endpoint, skipping payloads
// identical to the last one that was delivered for the same session.
type Dispatcher struct {
	transport Transport
	limiter   *rate.Limiter
	log       *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	last    map[string]string
	pending map[string]SyncRequest
	order   []string
	wake    chan struct{}
}

// NewDispatcher builds a dispatcher. A nil limiter means no pacing.
func NewDispatcher(t Transport, limiter *rate.Limiter, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Dispatcher{
		transport: t,
		limiter:   limiter,
		log:       log.Named("metasync"),
		metrics:   m,
		last:      map[string]string{},
		pending:   map[string]SyncRequest{},
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue hands req to the background worker without blocking. Only the
// latest request per session is kept while the worker is busy.
func (d *Dispatcher) Enqueue(req SyncRequest) {
	d.mu.Lock()
	if _, ok := d.pending[req.SessionID]; !ok {
		d.order = append(d.order, req.SessionID)
	}
	d.pending[req.SessionID] = req
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains queued requests until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
			for _, req := range d.drain() {
				if _, err := d.Dispatch(ctx, req); err != nil {
					d.log.Warn("meta sync failed", zap.String("session_id", req.SessionID), zap.Error(err))
				}
			}
		}
	}
}

func (d *Dispatcher) drain() []SyncRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SyncRequest, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.pending[id])
	}
	d.order = nil
	clear(d.pending)
	return out
}

// Dispatch sends req unless its signature matches the last successful
// dispatch for the session. A failed send leaves the marker untouched, so the
// next change retries; there is no immediate retry.
func (d *Dispatcher) Dispatch(ctx context.Context, req SyncRequest) (bool, error) {
	sig, err := Signature(req)
	if err != nil {
		return false, fmt.Errorf("metasync: signature: %w", err)
	}

	d.mu.Lock()
	unchanged := d.last[req.SessionID] == sig
	d.mu.Unlock()
	if unchanged {
		d.metrics.SyncDispatched("skipped")
		return false, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return false, err
	}
	if err := d.transport.Send(ctx, req); err != nil {
		d.metrics.SyncDispatched("failed")
		return false, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	d.mu.Lock()
	d.last[req.SessionID] = sig
	d.mu.Unlock()
	d.metrics.SyncDispatched("sent")
	return true, nil
}

// Forget drops the dedup marker for a session, e.g. once its match is evicted.
func (d *Dispatcher) Forget(sessionID string) {
	d.mu.Lock()
	delete(d.last, sessionID)
	d.mu.Unlock()
}
