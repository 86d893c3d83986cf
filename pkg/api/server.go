package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"agora/pkg/chain"
	"agora/pkg/governance"
	"agora/pkg/modules"
	"agora/pkg/timelock"
	"agora/pkg/token"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the governance engine over HTTP.
type Server struct {
	clock    chain.Clock
	ledger   *token.Ledger
	service  *governance.Service
	executor *timelock.Executor
	registry *modules.Registry
	port     int
	router   *mux.Router
	server   *http.Server
	logger   *zap.Logger
	metrics  *Metrics
}

// NewServer creates a new API server instance.
func NewServer(
	clock chain.Clock,
	ledger *token.Ledger,
	service *governance.Service,
	executor *timelock.Executor,
	registry *modules.Registry,
	port int,
	logger *zap.Logger,
) *Server {
	s := &Server{
		clock:    clock,
		ledger:   ledger,
		service:  service,
		executor: executor,
		registry: registry,
		port:     port,
		router:   mux.NewRouter(),
		logger:   logger,
		metrics:  NewMetrics(),
	}
	s.setupRoutes()
	return s
}

// enableCORS enables CORS for all routes
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// observe logs every request with a generated request id and feeds the
// request counter.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.logger.Info("request served",
			zap.String("requestId", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(enableCORS)
	s.router.Use(s.observe)

	// Governance routes
	s.router.HandleFunc("/api/proposals", s.listProposals).Methods("GET")
	s.router.HandleFunc("/api/proposals", s.createProposal).Methods("POST")
	s.router.HandleFunc("/api/proposals/{id}", s.getProposal).Methods("GET")
	s.router.HandleFunc("/api/proposals/{id}/vote", s.castVote).Methods("POST")
	s.router.HandleFunc("/api/proposals/{id}/queue", s.queueProposal).Methods("POST")
	s.router.HandleFunc("/api/proposals/{id}/execute", s.executeProposal).Methods("POST")
	s.router.HandleFunc("/api/proposals/{id}/cancel", s.cancelProposal).Methods("POST")

	// Timelock routes
	s.router.HandleFunc("/api/operations/{id}", s.getOperation).Methods("GET")
	s.router.HandleFunc("/api/modules", s.listModules).Methods("GET")

	// Token routes
	s.router.HandleFunc("/api/token/supply", s.getSupply).Methods("GET")
	s.router.HandleFunc("/api/token/balance/{address}", s.getBalance).Methods("GET")
	s.router.HandleFunc("/api/token/mint", s.mint).Methods("POST")
	s.router.HandleFunc("/api/token/transfer", s.transfer).Methods("POST")

	// Health check and metrics
	s.router.HandleFunc("/api/health", s.getHealthCheck).Methods("GET")
	s.router.HandleFunc("/api/status", s.getStatus).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
}

// Start starts the API server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("api server listening", zap.String("addr", addr))

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the server's HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}

// errorStatus maps governance and timelock errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, governance.ErrProposalNotFound),
		errors.Is(err, timelock.ErrOperationNotScheduled):
		return http.StatusNotFound
	case errors.Is(err, governance.ErrProposalExists),
		errors.Is(err, governance.ErrAlreadyVoted),
		errors.Is(err, governance.ErrVotingClosed),
		errors.Is(err, governance.ErrWrongState),
		errors.Is(err, timelock.ErrTooEarly),
		errors.Is(err, timelock.ErrOperationExpired),
		errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, governance.ErrNotAuthorized),
		errors.Is(err, timelock.ErrNotCanceler):
		return http.StatusForbidden
	case errors.Is(err, governance.ErrEmptyProposal),
		errors.Is(err, governance.ErrInvalidSupport),
		errors.Is(err, chain.ErrInvalidAddress),
		errors.Is(err, modules.ErrInvalidModule):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// proposalView is the wire representation of a proposal, its computed state
// attached.
type proposalView struct {
	*governance.Proposal
	State string `json:"state"`
}

func (s *Server) proposalView(p *governance.Proposal) (*proposalView, error) {
	state, err := s.service.State(p.ID)
	if err != nil {
		return nil, err
	}
	return &proposalView{Proposal: p, State: state.String()}, nil
}

// listProposals returns all proposals with their current states
func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.service.ListProposals()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]*proposalView, 0, len(proposals))
	for _, proposal := range proposals {
		view, err := s.proposalView(proposal)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposals": views,
	})
}

// getProposal returns one proposal with its state and live tally readings
func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	proposal, err := s.service.GetProposal(id)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	view, err := s.proposalView(proposal)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	succeeded, err := s.service.VoteSucceeded(id)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	quorum, err := s.service.QuorumReached(id)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	margin, err := s.service.VoteMargin(id)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposal":      view,
		"voteSucceeded": succeeded,
		"quorumReached": quorum,
		"voteMargin":    margin,
	})
}

// createProposal handles creating a new governance proposal
func (s *Server) createProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Proposer    string          `json:"proposer"`
		Description string          `json:"description"`
		Calls       []timelock.Call `json:"calls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if !chain.ValidAddress(req.Proposer) {
		writeError(w, http.StatusBadRequest, chain.ErrInvalidAddress)
		return
	}

	id, err := s.service.Propose(req.Proposer, req.Calls, req.Description)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	s.metrics.proposals.Inc()

	proposal, err := s.service.GetProposal(id)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

// castVote handles casting a vote on a proposal
func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Voter   string `json:"voter"`
		Support int    `json:"support"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	weight, err := s.service.CastVoteWithReason(req.Voter, id, governance.VoteSupport(req.Support), req.Reason)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	s.metrics.votes.Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposalId": id,
		"voter":      req.Voter,
		"weight":     weight,
	})
}

// queueProposal forwards a succeeded proposal to the timelock
func (s *Server) queueProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.service.Queue(id); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	proposal, err := s.service.GetProposal(id)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposalId":  id,
		"operationId": proposal.OperationID,
	})
}

// executeProposal triggers execution of a queued proposal
func (s *Server) executeProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.service.Execute(id); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	s.metrics.executed.Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposalId": id,
		"executed":   true,
	})
}

// cancelProposal cancels a proposal on behalf of the caller
func (s *Server) cancelProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := s.service.Cancel(id, req.Caller); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposalId": id,
		"canceled":   true,
	})
}

// getOperation returns the status of a timelock operation
func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	op, exists := s.executor.Operation(id)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", timelock.ErrOperationNotScheduled, id))
		return
	}
	expiresAt, err := s.executor.ExpiresAt(id)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":           op.ID,
		"status":       op.Status.String(),
		"scheduledAt":  op.ScheduledAt,
		"executableAt": op.ExecutableAt(),
		"expiresAt":    expiresAt,
		"predecessor":  op.Predecessor,
		"calls":        op.Calls,
		"ready":        s.executor.IsReady(id),
	})
}

// listModules returns one page of the enabled module list
func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start")
	if start == "" {
		start = modules.Sentinel
	}
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", limitStr))
			return
		}
		limit = parsed
	}

	page, next, err := s.registry.Paginated(start, limit)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"modules": page,
		"next":    next,
		"count":   s.registry.Count(),
	})
}

// getSupply returns the current total deposited vote weight
func (s *Server) getSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalSupply": s.ledger.TotalSupply(),
	})
}

// getBalance returns an account's vote weight, optionally at a past
// timepoint via ?timepoint=
func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !chain.ValidAddress(address) {
		writeError(w, http.StatusBadRequest, chain.ErrInvalidAddress)
		return
	}

	balance := s.ledger.BalanceOf(address)
	if timepointStr := r.URL.Query().Get("timepoint"); timepointStr != "" {
		timepoint, err := strconv.ParseUint(timepointStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid timepoint %q", timepointStr))
			return
		}
		balance = s.ledger.PastVotes(address, timepoint)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"balance": balance,
	})
}

// mint credits vote weight to an address
func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		Amount  uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if !chain.ValidAddress(req.Address) {
		writeError(w, http.StatusBadRequest, chain.ErrInvalidAddress)
		return
	}

	if err := s.ledger.Mint(req.Address, req.Amount); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": req.Address,
		"balance": s.ledger.BalanceOf(req.Address),
	})
}

// transfer moves vote weight between accounts
func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if !chain.ValidAddress(req.From) || !chain.ValidAddress(req.To) {
		writeError(w, http.StatusBadRequest, chain.ErrInvalidAddress)
		return
	}

	if err := s.ledger.Transfer(req.From, req.To, req.Amount); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":   req.From,
		"to":     req.To,
		"amount": req.Amount,
	})
}

// getHealthCheck handles the health check endpoint
func (s *Server) getHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// getStatus reports the engine's current readings
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timepoint":       now,
		"totalSupply":     s.ledger.TotalSupply(),
		"modules":         s.registry.Count(),
		"minDelay":        s.executor.MinDelay(),
		"gracePeriod":     s.executor.GracePeriod(),
		"percentMajority": s.service.PercentMajority(now),
		"quorumBps":       s.service.QuorumBps(now),
		"votingDelay":     s.service.VotingDelay(now),
		"votingPeriod":    s.service.VotingPeriod(now),
	})
}
