package api

import (
	"net/http"
	"time"

	"Cassegrain/internal/ledger"
	"Cassegrain/internal/metrics"
	"Cassegrain/internal/rollup"
)

// RollupServer serves the operations of a rollup venue.
type RollupServer struct {
	*Server
	venue *rollup.Venue // venue holds the delegated pairs
}

// NewRollup creates the rollupd API.
func NewRollup(addr string, v *rollup.Venue, m *metrics.Metrics) *RollupServer {
	s := &RollupServer{
		Server: newServer(addr, m),
		venue:  v,
	}

	s.mux.HandleFunc("GET /venue", s.handleVenue)
	s.mux.HandleFunc("POST /updates", s.handleApplyUpdate)
	s.mux.HandleFunc("POST /commits", s.handleCommit)
	s.mux.HandleFunc("POST /undelegations", s.handleUndelegate)
	s.mux.HandleFunc("GET /batches/{id}", s.handleGetBatch)
	s.mux.HandleFunc("GET /events/{id}", s.handleGetEvent)

	return s
}

// handleVenue handles GET /venue requests with the key to delegate to.
func (s *RollupServer) handleVenue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]ledger.VenueKey{
		"venue": s.venue.VenueKey(),
	})
}

type applyUpdateRequest struct {
	Signer           ledger.Hash           `json:"signer"`
	BatchID          ledger.Hash           `json:"batch_id"`
	EventID          ledger.Hash           `json:"event_id"`
	NewProductStatus *ledger.ProductStatus `json:"new_product_status"`
	NewOrderStatus   *ledger.OrderStatus   `json:"new_order_status"`
	NewEventType     *ledger.EventType     `json:"new_event_type"`
	PreviousEvent    *ledger.Hash          `json:"previous_event"`
	NextEvent        *ledger.Hash          `json:"next_event"`
	Metadata         *string               `json:"metadata"`
}

// handleApplyUpdate handles POST /updates requests.
func (s *RollupServer) handleApplyUpdate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req applyUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "apply_update", start, 0, nil, err)
		return
	}

	session, err := s.venue.ApplyUpdate(rollup.UpdateParams{
		Signer:        req.Signer,
		BatchID:       req.BatchID,
		EventID:       req.EventID,
		ProductStatus: req.NewProductStatus,
		OrderStatus:   req.NewOrderStatus,
		EventType:     req.NewEventType,
		PreviousEvent: req.PreviousEvent,
		NextEvent:     req.NextEvent,
		Metadata:      req.Metadata,
	})
	s.finish(w, "apply_update", start, http.StatusOK, session, err)
}

type commitRequest struct {
	BatchID ledger.Hash `json:"batch_id"`
	EventID ledger.Hash `json:"event_id"`
}

// handleCommit handles POST /commits requests. It returns once the ledger has
// applied the checkpoint.
func (s *RollupServer) handleCommit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req commitRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "commit", start, 0, nil, err)
		return
	}

	session, err := s.venue.Commit(r.Context(), req.BatchID, req.EventID)
	s.finish(w, "commit", start, http.StatusOK, session, err)
}

type undelegateRequest struct {
	Signer  ledger.Hash `json:"signer"`
	BatchID ledger.Hash `json:"batch_id"`
	EventID ledger.Hash `json:"event_id"`
}

// handleUndelegate handles POST /undelegations requests.
func (s *RollupServer) handleUndelegate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req undelegateRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "undelegate", start, 0, nil, err)
		return
	}

	session, err := s.venue.Undelegate(r.Context(), rollup.UndelegateParams{
		Signer:  req.Signer,
		BatchID: req.BatchID,
		EventID: req.EventID,
	})
	s.finish(w, "undelegate", start, http.StatusOK, session, err)
}

// handleGetBatch handles GET /batches/{id} requests for held batches.
func (s *RollupServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeFailure(w, "get_batch", err)
		return
	}

	batch, err := s.venue.Batch(id)
	if err != nil {
		writeFailure(w, "get_batch", err)
		return
	}

	writeJSON(w, http.StatusOK, batch)
}

// handleGetEvent handles GET /events/{id} requests for held events.
func (s *RollupServer) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeFailure(w, "get_event", err)
		return
	}

	event, err := s.venue.Event(id)
	if err != nil {
		writeFailure(w, "get_event", err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}
