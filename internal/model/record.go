package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecordStatus is the rebalance intent lifecycle. Transitions are strictly
// forward-only: PENDING -> SUBMITTED -> {SUCCESS|FAILED}, with PENDING ->
// FAILED allowed for pre-submission failures. Terminal records are immutable.
type RecordStatus string

const (
	StatusPending   RecordStatus = "PENDING"
	StatusSubmitted RecordStatus = "SUBMITTED"
	StatusSuccess   RecordStatus = "SUCCESS"
	StatusFailed    RecordStatus = "FAILED"
)

func (s RecordStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Endpoint names one side of a move.
type Endpoint struct {
	ChainID  int64  `json:"chain_id"`
	Protocol string `json:"protocol"`
	Vault    string `json:"vault"`
}

// RebalanceRecord is the durable intent/outcome log for one attempted
// on-chain move. One must exist, persisted, before any transaction is
// submitted; the monitor relies on it to recover from a crash between
// submission and confirmation.
type RebalanceRecord struct {
	ID          string          `json:"id"`
	Wallet      string          `json:"wallet"`
	From        Endpoint        `json:"from"`
	To          Endpoint        `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Status      RecordStatus    `json:"status"`
	FromAPY     *float64        `json:"from_apy,omitempty"`
	ToAPY       *float64        `json:"to_apy,omitempty"`
	Reasoning   string          `json:"reasoning"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func NewRebalanceRecord(wallet string, from, to Endpoint, amount decimal.Decimal, reasoning string) *RebalanceRecord {
	return &RebalanceRecord{
		ID:        uuid.NewString(),
		Wallet:    wallet,
		From:      from,
		To:        to,
		Amount:    amount,
		AmountUSD: amount,
		Status:    StatusPending,
		Reasoning: reasoning,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkSubmitted records the transaction hash. Only valid from PENDING.
func (r *RebalanceRecord) MarkSubmitted(txHash string) error {
	if r.Status != StatusPending {
		return fmt.Errorf("invalid status transition %s -> %s", r.Status, StatusSubmitted)
	}
	r.Status = StatusSubmitted
	r.TxHash = txHash
	return nil
}

// MarkSuccess resolves the record. Only valid from SUBMITTED: a record that
// was never broadcast has nothing to succeed.
func (r *RebalanceRecord) MarkSuccess() error {
	if r.Status != StatusSubmitted {
		return fmt.Errorf("invalid status transition %s -> %s", r.Status, StatusSuccess)
	}
	r.Status = StatusSuccess
	now := time.Now().UTC()
	r.CompletedAt = &now
	return nil
}

// MarkFailed resolves the record with a human-readable error. Valid from
// PENDING or SUBMITTED.
func (r *RebalanceRecord) MarkFailed(reason string) error {
	if r.Status.Terminal() {
		return fmt.Errorf("invalid status transition %s -> %s", r.Status, StatusFailed)
	}
	r.Status = StatusFailed
	r.Error = reason
	now := time.Now().UTC()
	r.CompletedAt = &now
	return nil
}
