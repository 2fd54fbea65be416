package bridge

import (
	"context"
	"fmt"
	"sync"

	flatbuffers "github.com/google/flatbuffers/go"

	"Cassegrain/internal/ledger"
	"Cassegrain/internal/logger"
	"Cassegrain/internal/metrics"
	"Cassegrain/internal/types"
)

// Caller sends one request and returns the raw response.
// *network.Peer and *Local satisfy it.
type Caller interface {
	Request(ctx context.Context, data []byte) ([]byte, error)
}

// HandlerFunc serves one request kind. from identifies the remote peer.
type HandlerFunc func(ctx context.Context, from string, payload []byte) ([]byte, error)

// Router dispatches requests by kind and always answers with a Response
// carrying the ledger error code, so remote errors keep their kind.
type Router struct {
	mu       sync.RWMutex                      // mu protects handlers
	handlers map[types.MessageKind]HandlerFunc // handlers maps kind to handler
	metrics  *metrics.Metrics                  // metrics counts inbound messages, may be nil
}

// NewRouter creates an empty router.
func NewRouter(m *metrics.Metrics) *Router {
	return &Router{
		handlers: make(map[types.MessageKind]HandlerFunc),
		metrics:  m,
	}
}

// Handle registers fn for kind, replacing any previous handler.
func (r *Router) Handle(kind types.MessageKind, fn HandlerFunc) {
	r.mu.Lock()
	r.handlers[kind] = fn
	r.mu.Unlock()
}

// Serve decodes a request, runs its handler and encodes the response.
func (r *Router) Serve(ctx context.Context, from string, data []byte) []byte {
	kind, payload, err := decodeRequest(data)
	if err != nil {
		r.metrics.ObserveBridge(types.MessageKindUnknown.String(), "in", ledger.Kind(err))
		return encodeResponse(nil, err)
	}

	r.mu.RLock()
	fn := r.handlers[kind]
	r.mu.RUnlock()

	if fn == nil {
		err := fmt.Errorf("%w: no handler for %s", ledger.ErrInvalidInput, kind)
		r.metrics.ObserveBridge(kind.String(), "in", ledger.Kind(err))
		return encodeResponse(nil, err)
	}

	out, err := fn(ctx, from, payload)
	r.metrics.ObserveBridge(kind.String(), "in", outcome(err))

	if err != nil {
		logger.Debug("bridge request failed", "kind", kind, "from", shortPeer(from), "error", err)
	}

	return encodeResponse(out, err)
}

// Call sends a request of the given kind and decodes the response.
// A remote failure is returned as the matching ledger sentinel.
func Call(ctx context.Context, c Caller, kind types.MessageKind, payload []byte) ([]byte, error) {
	resp, err := c.Request(ctx, encodeRequest(kind, payload))
	if err != nil {
		return nil, fmt.Errorf("request %s:\n%w", kind, err)
	}

	return decodeResponse(resp)
}

// encodeRequest frames payload as a Request table.
func encodeRequest(kind types.MessageKind, payload []byte) []byte {
	b := flatbuffers.NewBuilder(len(payload) + 32)

	payloadVec := b.CreateByteVector(payload)

	types.RequestStart(b)
	types.RequestAddKind(b, kind)
	types.RequestAddPayload(b, payloadVec)
	b.Finish(types.RequestEnd(b))

	return b.FinishedBytes()
}

// decodeRequest parses a Request table.
func decodeRequest(data []byte) (kind types.MessageKind, payload []byte, err error) {
	err = safeDecode(data, func() error {
		fb := types.GetRootAsRequest(data, 0)
		kind = fb.Kind()
		payload = fb.PayloadBytes()
		return nil
	})

	return kind, payload, err
}

// encodeResponse frames a handler result.
func encodeResponse(payload []byte, err error) []byte {
	b := flatbuffers.NewBuilder(len(payload) + 64)

	var msgOff flatbuffers.UOffsetT
	if err != nil {
		msgOff = b.CreateString(err.Error())
	}
	payloadVec := b.CreateByteVector(payload)

	types.ResponseStart(b)
	types.ResponseAddCode(b, byte(ledger.CodeOf(err)))
	if err != nil {
		types.ResponseAddMessage(b, msgOff)
	}
	types.ResponseAddPayload(b, payloadVec)
	b.Finish(types.ResponseEnd(b))

	return b.FinishedBytes()
}

// decodeResponse parses a Response table into payload or error.
func decodeResponse(data []byte) ([]byte, error) {
	var (
		code    ledger.Code
		message string
		payload []byte
	)

	err := safeDecode(data, func() error {
		fb := types.GetRootAsResponse(data, 0)
		code = ledger.Code(fb.Code())
		message = string(fb.Message())
		payload = fb.PayloadBytes()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if code != ledger.CodeOK {
		return nil, ledger.FromCode(code, message)
	}

	return payload, nil
}

// outcome returns the metrics label for err.
func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	return ledger.Kind(err)
}

// shortPeer trims a hex peer identity for logs.
func shortPeer(from string) string {
	if len(from) > 16 {
		return from[:16]
	}
	return from
}
