package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/overunder/pkg/app"
	"github.com/uhyunpark/overunder/pkg/chain"
	"github.com/uhyunpark/overunder/pkg/market"
)

const maxTxBody = 64 << 10

// ChainInfo exposes the producer's head and committed tx receipts
type ChainInfo interface {
	Height() chain.Height
	LastHash() chain.Hash
	Receipt(tx chain.Hash) (*chain.Receipt, error)
}

// Pending reports the mempool size and whether a tx is still waiting
type Pending interface {
	Len() int
	Contains(hash [32]byte) bool
}

// Config controls the HTTP surface
type Config struct {
	AllowedOrigins []string
	TxRateLimit    float64 // submitted txs per second across all clients; <= 0 disables
	TxRateBurst    int
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *app.App
	chain   ChainInfo
	pending Pending
	router  *mux.Router
	hub      *Hub
	limiter  *rate.Limiter
	receipts *receiptIndex
	cfg      Config
	logger   *zap.Logger
}

// NewServer creates a new API server
func NewServer(a *app.App, ci ChainInfo, pending Pending, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		app:      a,
		chain:    ci,
		pending:  pending,
		router:   mux.NewRouter(),
		receipts: newReceiptIndex(),
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	s.hub = NewHub(s.logger)
	if cfg.TxRateLimit > 0 {
		burst := cfg.TxRateBurst
		if burst <= 0 {
			burst = int(cfg.TxRateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.TxRateLimit), burst)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/admin", s.handleGetAdmin).Methods("GET")

	// Round endpoints
	api.HandleFunc("/rounds", s.handleGetRounds).Methods("GET")
	api.HandleFunc("/rounds/{id:[0-9]+}", s.handleGetRound).Methods("GET")
	api.HandleFunc("/rounds/{id:[0-9]+}/status", s.handleGetRoundStatus).Methods("GET")
	api.HandleFunc("/rounds/{id:[0-9]+}/stakes", s.handleGetStakes).Methods("GET")
	api.HandleFunc("/rounds/{id:[0-9]+}/stakes/{address}", s.handleGetStake).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balance", s.handleGetBalance).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	// Signed tx submission
	api.Handle("/tx", s.rateLimited(http.HandlerFunc(s.handleSubmitTx))).Methods("POST")
	api.HandleFunc("/tx/{ref}", s.handleGetTx).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped router
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("server_start", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetAdmin(w http.ResponseWriter, r *http.Request) {
	m := s.app.Market()
	admin, err := m.Admin()
	if err != nil {
		respondMarketError(w, err)
		return
	}
	token, err := m.Token()
	if err != nil {
		respondMarketError(w, err)
		return
	}
	respondJSON(w, AdminInfo{Admin: admin.Hex(), Token: token})
}

func (s *Server) handleGetRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.app.Market().Rounds()
	if err != nil {
		respondMarketError(w, err)
		return
	}
	now := market.Tick(s.chain.Height())
	out := make([]RoundInfo, len(rounds))
	for i, rd := range rounds {
		out[i] = toRoundInfo(rd, now)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	id, ok := roundIDVar(w, r)
	if !ok {
		return
	}
	rd, err := s.app.Market().Round(id)
	if err != nil {
		respondMarketError(w, err)
		return
	}
	respondJSON(w, toRoundInfo(rd, market.Tick(s.chain.Height())))
}

func (s *Server) handleGetRoundStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := roundIDVar(w, r)
	if !ok {
		return
	}
	m := s.app.Market()
	phase, now, err := m.Phase(id)
	if err != nil {
		respondMarketError(w, err)
		return
	}
	rd, err := m.Round(id)
	if err != nil {
		respondMarketError(w, err)
		return
	}
	respondJSON(w, RoundStatus{
		RoundID:          id,
		Phase:            phase.String(),
		Tick:             uint64(now),
		BetsCloseAfter:   uint64(rd.DeadlineTick),
		ResolvableFrom:   uint64(rd.FinalityTick),
		RefundOpensAfter: uint64(rd.RefundOpensAfter()),
	})
}

func (s *Server) handleGetStakes(w http.ResponseWriter, r *http.Request) {
	id, ok := roundIDVar(w, r)
	if !ok {
		return
	}
	stakes, err := s.app.Market().Stakes(id)
	if err != nil {
		respondMarketError(w, err)
		return
	}
	out := make([]StakeInfo, len(stakes))
	for i, st := range stakes {
		out[i] = toStakeInfo(st)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetStake(w http.ResponseWriter, r *http.Request) {
	id, ok := roundIDVar(w, r)
	if !ok {
		return
	}
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	st, err := s.app.Market().Stake(addr, id)
	if err != nil {
		respondMarketError(w, err)
		return
	}
	if st == nil {
		respondJSON(w, nil)
		return
	}
	respondJSON(w, toStakeInfo(st))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	token, err := s.app.Market().Token()
	if err != nil {
		respondMarketError(w, err)
		return
	}
	bal, err := s.app.Ledger().Balance(token, addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "balance unavailable", err.Error(), 0)
		return
	}
	respondJSON(w, BalanceInfo{Address: addr.Hex(), Token: token, Balance: bal.String()})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ChainStatus{
		Height:      uint64(s.chain.Height()),
		LastHash:    "0x" + s.chain.LastHash().String(),
		MempoolSize: s.pending.Len(),
	})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error(), 0)
		return
	}
	if len(body) > maxTxBody {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "", 0)
		return
	}

	hash, err := s.app.SubmitTx(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "transaction rejected", err.Error(), 0)
		return
	}

	receipt := s.receipts.issue(hash)
	s.logger.Info("tx_submitted",
		zap.String("receipt", receipt.String()),
		zap.String("tx", hash.String()),
		zap.Int("bytes", len(body)))

	respondJSON(w, SubmitTxResponse{
		Status:    "submitted",
		ReceiptID: receipt.String(),
		TxHash:    "0x" + hash.String(),
	})
}

// handleGetTx reports a tx by hash or by the receipt ID returned on submission
func (s *Server) handleGetTx(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	var hash chain.Hash
	if id, err := uuid.Parse(ref); err == nil {
		h, ok := s.receipts.lookup(id)
		if !ok {
			respondError(w, http.StatusNotFound, "unknown receipt", ref, 0)
			return
		}
		hash = h
	} else {
		raw, err := hex.DecodeString(strings.TrimPrefix(ref, "0x"))
		if err != nil || len(raw) != len(hash) {
			respondError(w, http.StatusBadRequest, "invalid tx reference", "expected a 32-byte hex hash or a receipt id", 0)
			return
		}
		copy(hash[:], raw)
	}

	rc, err := s.chain.Receipt(hash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "receipt unavailable", err.Error(), 0)
		return
	}
	status := TxStatus{TxHash: "0x" + hash.String()}
	switch {
	case rc != nil:
		status.Status = "committed"
		if rc.Failed() {
			status.Status = "failed"
		}
		height := uint64(rc.Height)
		status.Height = &height
		status.Code = rc.Code
		status.Error = rc.Error
	case s.pending.Contains(hash):
		status.Status = "pending"
	default:
		respondError(w, http.StatusNotFound, "unknown transaction", status.TxHash, 0)
		return
	}
	respondJSON(w, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "rate limited", "", 0)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ==============================
// Broadcast Methods (called from the node)
// ==============================

// BroadcastMarketEvent pushes a committed market event to "round:{id}" subscribers
func (s *Server) BroadcastMarketEvent(ev market.Event) {
	if ev.Type == market.EventInitialised {
		return
	}
	msg := RoundEvent{
		Type:    string(ev.Type),
		RoundID: ev.RoundID,
		Tick:    uint64(ev.Tick),
	}
	if ev.Account != (common.Address{}) {
		msg.Account = ev.Account.Hex()
	}
	if ev.Type != market.EventRoundCreated {
		msg.Side = ev.Side.String()
	}
	if ev.Amount != nil {
		msg.Amount = ev.Amount.String()
	}
	s.hub.BroadcastToChannel(fmt.Sprintf("round:%d", ev.RoundID), msg)
}

// BroadcastBlock pushes a block summary to "blocks" subscribers
func (s *Server) BroadcastBlock(b chain.Block) {
	var rejected []RejectedTx
	for _, r := range b.Results {
		if r.Err != nil {
			rejected = append(rejected, RejectedTx{
				TxHash: "0x" + r.TxHash.String(),
				Code:   uint32(market.CodeOf(r.Err)),
				Error:  r.Err.Error(),
			})
		}
	}
	s.hub.BroadcastToChannel("blocks", BlockUpdate{
		Type:     "block",
		Height:   uint64(b.Height),
		Hash:     "0x" + b.Hash.String(),
		Txs:      len(b.Txs),
		Failed:   len(rejected),
		Rejected: rejected,
		Time:     b.Time.UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func toRoundInfo(r *market.Round, now market.Tick) RoundInfo {
	info := RoundInfo{
		ID:             r.ID,
		PredictedCount: r.PredictedCount,
		DeadlineTick:   uint64(r.DeadlineTick),
		FinalityTick:   uint64(r.FinalityTick),
		CreatedAt:      uint64(r.CreatedAt),
		HighPool:       r.HighPool.String(),
		LowPool:        r.LowPool.String(),
		TotalPool:      r.TotalPool().String(),
		Phase:          r.PhaseAt(now).String(),
		Resolved:       r.Resolved(),
	}
	if res := r.Resolution; res != nil {
		side := res.WinningSide.String()
		actual := res.ActualCount
		at := uint64(res.ResolvedAt)
		info.WinningSide = &side
		info.ActualCount = &actual
		info.ResolvedAt = &at
	}
	return info
}

func toStakeInfo(s *market.Stake) StakeInfo {
	return StakeInfo{
		RoundID: s.RoundID,
		Account: s.Account.Hex(),
		Side:    s.Side.String(),
		Amount:  s.Amount.String(),
	}
}

func roundIDVar(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid round id", err.Error(), 0)
		return 0, false
	}
	return id, true
}

func addressVar(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	s := mux.Vars(r)["address"]
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", "", 0)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string, code uint32) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
		Code:    code,
	})
}

// respondMarketError maps market failures to HTTP statuses, keeping the market code
func respondMarketError(w http.ResponseWriter, err error) {
	code := market.CodeOf(err)
	status := http.StatusBadRequest
	switch code {
	case market.CodeRoundNotFound:
		status = http.StatusNotFound
	case market.CodeNotInitialised:
		status = http.StatusServiceUnavailable
	case market.CodeInternal:
		status = http.StatusInternalServerError
	}
	name := "internal error"
	var me *market.Error
	if errors.As(err, &me) {
		name = me.Name
	}
	respondError(w, status, name, err.Error(), uint32(code))
}
