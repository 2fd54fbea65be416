package api

import (
	"net/http"
	"strconv"
	"time"

	"Cassegrain/internal/ledger"
	"Cassegrain/internal/metrics"
)

const (
	// defaultNotificationLimit bounds a notification page without a limit parameter.
	defaultNotificationLimit = 100

	// maxNotificationLimit is the largest page a client may request.
	maxNotificationLimit = 1000
)

// LedgerServer serves the durable ledger operations.
type LedgerServer struct {
	*Server
	ledger    *ledger.Ledger   // ledger applies every operation
	deliverer ledger.Deliverer // deliverer reaches the rollup venues, may be nil
}

// NewLedger creates the ledgerd API. Delegation is disabled when d is nil.
func NewLedger(addr string, l *ledger.Ledger, d ledger.Deliverer, m *metrics.Metrics) *LedgerServer {
	s := &LedgerServer{
		Server:    newServer(addr, m),
		ledger:    l,
		deliverer: d,
	}

	s.mux.HandleFunc("POST /config", s.handleInitialize)
	s.mux.HandleFunc("POST /config/pause", s.handleSetPaused)
	s.mux.HandleFunc("GET /config/{authority}", s.handleGetConfig)
	s.mux.HandleFunc("POST /manufacturers", s.handleRegisterManufacturer)
	s.mux.HandleFunc("POST /manufacturers/verify", s.handleVerifyManufacturer)
	s.mux.HandleFunc("GET /manufacturers/{owner}", s.handleGetManufacturer)
	s.mux.HandleFunc("POST /batches", s.handleRegisterBatch)
	s.mux.HandleFunc("GET /batches/{id}", s.handleGetBatch)
	s.mux.HandleFunc("POST /events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("POST /delegations", s.handleDelegate)
	s.mux.HandleFunc("GET /notifications", s.handleNotifications)

	return s
}

type initializeRequest struct {
	Authority                  ledger.Hash `json:"authority"`
	RegistrationFee            uint64      `json:"registration_fee"`
	MaxEventsPerProduct        uint32      `json:"max_events_per_product"`
	MaxProductsPerManufacturer uint32      `json:"max_products_per_manufacturer"`
	MinEventInterval           int64       `json:"min_event_interval"`
	MaxBatchSize               uint8       `json:"max_batch_size"`
}

// handleInitialize handles POST /config requests.
func (s *LedgerServer) handleInitialize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "initialize", start, 0, nil, err)
		return
	}

	cfg, err := s.ledger.Initialize(ledger.InitializeParams{
		Authority:                  req.Authority,
		RegistrationFee:            req.RegistrationFee,
		MaxEventsPerProduct:        req.MaxEventsPerProduct,
		MaxProductsPerManufacturer: req.MaxProductsPerManufacturer,
		MinEventInterval:           req.MinEventInterval,
		MaxBatchSize:               req.MaxBatchSize,
	})
	s.finish(w, "initialize", start, http.StatusCreated, cfg, err)
}

type setPausedRequest struct {
	Authority ledger.Hash `json:"authority"`
	Paused    bool        `json:"paused"`
}

// handleSetPaused handles POST /config/pause requests.
func (s *LedgerServer) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req setPausedRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "set_paused", start, 0, nil, err)
		return
	}

	cfg, err := s.ledger.SetPaused(ledger.SetPausedParams{Authority: req.Authority, Paused: req.Paused})
	s.finish(w, "set_paused", start, http.StatusOK, cfg, err)
}

// handleGetConfig handles GET /config/{authority} requests.
func (s *LedgerServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	authority, err := pathHash(r, "authority")
	if err != nil {
		writeFailure(w, "get_config", err)
		return
	}

	cfg, err := s.ledger.Config(authority)
	if err != nil {
		writeFailure(w, "get_config", err)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

type registerManufacturerRequest struct {
	Authority      ledger.Hash         `json:"authority"`
	Signer         ledger.Hash         `json:"signer"`
	CompanyName    string              `json:"company_name"`
	BusinessType   ledger.BusinessType `json:"business_type"`
	Certifications string              `json:"certifications"`
}

// handleRegisterManufacturer handles POST /manufacturers requests.
func (s *LedgerServer) handleRegisterManufacturer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req registerManufacturerRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "register_manufacturer", start, 0, nil, err)
		return
	}

	profile, err := s.ledger.RegisterManufacturer(ledger.RegisterManufacturerParams{
		Authority:      req.Authority,
		Signer:         req.Signer,
		CompanyName:    req.CompanyName,
		BusinessType:   req.BusinessType,
		Certifications: req.Certifications,
	})
	s.finish(w, "register_manufacturer", start, http.StatusCreated, profile, err)
}

type verifyManufacturerRequest struct {
	Authority ledger.Hash `json:"authority"`
	Owner     ledger.Hash `json:"owner"`
}

// handleVerifyManufacturer handles POST /manufacturers/verify requests.
func (s *LedgerServer) handleVerifyManufacturer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req verifyManufacturerRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "verify_manufacturer", start, 0, nil, err)
		return
	}

	profile, err := s.ledger.VerifyManufacturer(ledger.VerifyManufacturerParams{
		Authority: req.Authority,
		Owner:     req.Owner,
	})
	s.finish(w, "verify_manufacturer", start, http.StatusOK, profile, err)
}

// handleGetManufacturer handles GET /manufacturers/{owner} requests.
func (s *LedgerServer) handleGetManufacturer(w http.ResponseWriter, r *http.Request) {
	owner, err := pathHash(r, "owner")
	if err != nil {
		writeFailure(w, "get_manufacturer", err)
		return
	}

	profile, err := s.ledger.Manufacturer(owner)
	if err != nil {
		writeFailure(w, "get_manufacturer", err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

type registerBatchRequest struct {
	Authority ledger.Hash            `json:"authority"`
	Signer    ledger.Hash            `json:"signer"`
	BatchID   ledger.Hash            `json:"batch_id"`
	Metadata  *string                `json:"metadata"`
	Category  ledger.ProductCategory `json:"category"`
	BatchSize uint8                  `json:"batch_size"`
}

// handleRegisterBatch handles POST /batches requests. Re-registering an
// existing batch id returns the stored record with 200.
func (s *LedgerServer) handleRegisterBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req registerBatchRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "register_batch", start, 0, nil, err)
		return
	}

	batch, created, err := s.ledger.RegisterBatch(ledger.RegisterBatchParams{
		Authority: req.Authority,
		Signer:    req.Signer,
		BatchID:   req.BatchID,
		Metadata:  req.Metadata,
		Category:  req.Category,
		BatchSize: req.BatchSize,
	})

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	s.finish(w, "register_batch", start, status, batch, err)
}

// batchView is a batch record with its ownership tag.
type batchView struct {
	Batch     *ledger.BatchLedger `json:"batch"`
	Residency ledger.Residency    `json:"residency"`
}

// handleGetBatch handles GET /batches/{id} requests.
func (s *LedgerServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeFailure(w, "get_batch", err)
		return
	}

	batch, err := s.ledger.Batch(id)
	if err != nil {
		writeFailure(w, "get_batch", err)
		return
	}

	residency, err := s.ledger.BatchResidency(id)
	if err != nil {
		writeFailure(w, "get_batch", err)
		return
	}

	writeJSON(w, http.StatusOK, batchView{Batch: batch, Residency: residency})
}

type createEventRequest struct {
	Authority     ledger.Hash        `json:"authority"`
	Signer        ledger.Hash        `json:"signer"`
	BatchID       ledger.Hash        `json:"batch_id"`
	EventID       ledger.Hash        `json:"event_id"`
	EventType     ledger.EventType   `json:"event_type"`
	Metadata      *string            `json:"metadata"`
	OrderStatus   ledger.OrderStatus `json:"order_status"`
	PreviousEvent *ledger.Hash       `json:"previous_event"`
}

// handleCreateEvent handles POST /events requests.
func (s *LedgerServer) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req createEventRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "create_event", start, 0, nil, err)
		return
	}

	event, err := s.ledger.CreateEvent(ledger.CreateEventParams{
		Authority:     req.Authority,
		Signer:        req.Signer,
		BatchID:       req.BatchID,
		EventID:       req.EventID,
		EventType:     req.EventType,
		Metadata:      req.Metadata,
		OrderStatus:   req.OrderStatus,
		PreviousEvent: req.PreviousEvent,
	})
	s.finish(w, "create_event", start, http.StatusCreated, event, err)
}

// eventView is an event record with its ownership tag.
type eventView struct {
	Event     *ledger.ProductEvent `json:"event"`
	Residency ledger.Residency     `json:"residency"`
}

// handleGetEvent handles GET /events/{id} requests.
func (s *LedgerServer) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeFailure(w, "get_event", err)
		return
	}

	event, err := s.ledger.Event(id)
	if err != nil {
		writeFailure(w, "get_event", err)
		return
	}

	residency, err := s.ledger.EventResidency(id)
	if err != nil {
		writeFailure(w, "get_event", err)
		return
	}

	writeJSON(w, http.StatusOK, eventView{Event: event, Residency: residency})
}

type delegateRequest struct {
	Authority ledger.Hash     `json:"authority"`
	Signer    ledger.Hash     `json:"signer"`
	BatchID   ledger.Hash     `json:"batch_id"`
	EventID   ledger.Hash     `json:"event_id"`
	Venue     ledger.VenueKey `json:"venue"`
}

// delegationView summarizes an accepted hand-off.
type delegationView struct {
	BatchID ledger.Hash     `json:"batch_id"`
	EventID ledger.Hash     `json:"event_id"`
	Nonce   uint64          `json:"nonce"`
	Venue   ledger.VenueKey `json:"venue"`
}

// handleDelegate handles POST /delegations requests. It returns once the
// venue has accepted the snapshot.
func (s *LedgerServer) handleDelegate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if s.deliverer == nil {
		writeError(w, http.StatusServiceUnavailable, "delegation not available")
		return
	}

	var req delegateRequest
	if err := decodeBody(r, &req); err != nil {
		s.finish(w, "delegate", start, 0, nil, err)
		return
	}

	h, err := s.ledger.Delegate(r.Context(), ledger.DelegateParams{
		Authority: req.Authority,
		Signer:    req.Signer,
		BatchID:   req.BatchID,
		EventID:   req.EventID,
		Venue:     req.Venue,
	}, s.deliverer)
	if err != nil {
		s.finish(w, "delegate", start, 0, nil, err)
		return
	}

	s.finish(w, "delegate", start, http.StatusOK, delegationView{
		BatchID: h.BatchID,
		EventID: h.EventID,
		Nonce:   h.Nonce,
		Venue:   h.Venue,
	}, nil)
}

// notificationPage is one page of the notification log.
type notificationPage struct {
	Notifications []ledger.Notification `json:"notifications"`
	LastSeq       uint64                `json:"last_seq"`
}

// handleNotifications handles GET /notifications?after=&limit= requests.
func (s *LedgerServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var after uint64
	if v := query.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		after = n
	}

	limit := defaultNotificationLimit
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxNotificationLimit {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := s.ledger.Notifications(after, limit)
	if err != nil {
		writeFailure(w, "notifications", err)
		return
	}
	if list == nil {
		list = []ledger.Notification{}
	}

	writeJSON(w, http.StatusOK, notificationPage{
		Notifications: list,
		LastSeq:       s.ledger.LastSeq(),
	})
}
