package api

// API response types for REST endpoints and WebSocket messages.
// Token amounts are decimal strings; ticks are block heights.

// ==============================
// REST Response Types
// ==============================

// AdminInfo is the market-wide configuration
type AdminInfo struct {
	Admin string `json:"admin"`
	Token string `json:"token"`
}

// RoundInfo represents one round and its derived phase
type RoundInfo struct {
	ID             uint64 `json:"id"`
	PredictedCount uint64 `json:"predictedCount"`
	DeadlineTick   uint64 `json:"deadlineTick"`
	FinalityTick   uint64 `json:"finalityTick"`
	CreatedAt      uint64 `json:"createdAt"`
	HighPool       string `json:"highPool"`
	LowPool        string `json:"lowPool"`
	TotalPool      string `json:"totalPool"`
	Phase          string `json:"phase"`
	Resolved       bool   `json:"resolved"`

	// Set only once resolved
	WinningSide *string `json:"winningSide,omitempty"`
	ActualCount *uint64 `json:"actualCount,omitempty"`
	ResolvedAt  *uint64 `json:"resolvedAt,omitempty"`
}

// StakeInfo is one account's position in a round
type StakeInfo struct {
	RoundID uint64 `json:"roundId"`
	Account string `json:"account"`
	Side    string `json:"side"`
	Amount  string `json:"amount"`
}

// RoundStatus is the lifecycle state of a round at the current tick
type RoundStatus struct {
	RoundID          uint64 `json:"roundId"`
	Phase            string `json:"phase"`
	Tick             uint64 `json:"tick"`
	BetsCloseAfter   uint64 `json:"betsCloseAfter"`
	ResolvableFrom   uint64 `json:"resolvableFrom"`
	RefundOpensAfter uint64 `json:"refundOpensAfter"`
}

// BalanceInfo is an account's token balance
type BalanceInfo struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

// ChainStatus represents blockchain status
type ChainStatus struct {
	Height      uint64 `json:"height"`
	LastHash    string `json:"lastHash"`
	MempoolSize int    `json:"mempoolSize"`
}

// SubmitTxResponse is returned when a signed tx is admitted to the mempool
type SubmitTxResponse struct {
	Status    string `json:"status"`
	ReceiptID string `json:"receiptId"`
	TxHash    string `json:"txHash"`
}

// TxStatus is the outcome of a submitted tx.
// Status is "pending", "committed" or "failed"; Code and Error are set for failures.
type TxStatus struct {
	TxHash string  `json:"txHash"`
	Status string  `json:"status"`
	Height *uint64 `json:"height,omitempty"`
	Code   uint32  `json:"code"`
	Error  string  `json:"error,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    uint32 `json:"code,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest represents a WebSocket subscription request
// Channels: "round:{id}", "blocks"
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// RoundEvent is pushed to "round:{id}" subscribers
type RoundEvent struct {
	Type    string `json:"type"` // "round_created", "bet_placed", ...
	RoundID uint64 `json:"roundId"`
	Account string `json:"account,omitempty"`
	Side    string `json:"side,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Tick    uint64 `json:"tick"`
}

// BlockUpdate is pushed to "blocks" subscribers
type BlockUpdate struct {
	Type     string       `json:"type"` // "block"
	Height   uint64       `json:"height"`
	Hash     string       `json:"hash"`
	Txs      int          `json:"txs"`
	Failed   int          `json:"failed"`
	Rejected []RejectedTx `json:"rejected,omitempty"`
	Time     int64        `json:"time"` // Unix milliseconds
}

// RejectedTx is a tx that was included in a block but had no effect
type RejectedTx struct {
	TxHash string `json:"txHash"`
	Code   uint32 `json:"code"`
	Error  string `json:"error"`
}
