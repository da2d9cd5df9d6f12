package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func newTestRecord() *RebalanceRecord {
	return NewRebalanceRecord(
		"0xabc",
		Endpoint{ChainID: 8453, Protocol: "wallet", Vault: "0x1"},
		Endpoint{ChainID: 42161, Protocol: "euler-v2", Vault: "0x2"},
		decimal.NewFromFloat(1000),
		"test move",
	)
}

func TestRecordHappyPath(t *testing.T) {
	rec := newTestRecord()
	if rec.Status != StatusPending {
		t.Fatalf("new record status %s, want PENDING", rec.Status)
	}
	if rec.ID == "" {
		t.Fatal("record must get an id")
	}

	if err := rec.MarkSubmitted("0xhash"); err != nil {
		t.Fatalf("MarkSubmitted failed: %v", err)
	}
	if rec.Status != StatusSubmitted || rec.TxHash != "0xhash" {
		t.Fatalf("unexpected record after submit: %+v", rec)
	}

	if err := rec.MarkSuccess(); err != nil {
		t.Fatalf("MarkSuccess failed: %v", err)
	}
	if rec.CompletedAt == nil {
		t.Fatal("terminal record must carry a completion time")
	}
}

func TestRecordPendingCanFailDirectly(t *testing.T) {
	rec := newTestRecord()
	if err := rec.MarkFailed("quote rejected"); err != nil {
		t.Fatalf("MarkFailed from PENDING failed: %v", err)
	}
	if rec.Status != StatusFailed || rec.Error != "quote rejected" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestRecordCannotSucceedBeforeSubmission(t *testing.T) {
	rec := newTestRecord()
	if err := rec.MarkSuccess(); err == nil {
		t.Fatal("PENDING -> SUCCESS must be rejected")
	}
	if rec.Status != StatusPending {
		t.Fatalf("status mutated to %s", rec.Status)
	}
}

func TestRecordTerminalIsImmutable(t *testing.T) {
	rec := newTestRecord()
	_ = rec.MarkSubmitted("0xhash")
	_ = rec.MarkSuccess()

	if err := rec.MarkFailed("too late"); err == nil {
		t.Fatal("SUCCESS -> FAILED must be rejected")
	}
	if err := rec.MarkSuccess(); err == nil {
		t.Fatal("SUCCESS -> SUCCESS must be rejected")
	}
	if rec.Status != StatusSuccess {
		t.Fatalf("terminal status mutated to %s", rec.Status)
	}
}

func TestRecordCannotSubmitTwice(t *testing.T) {
	rec := newTestRecord()
	_ = rec.MarkSubmitted("0xfirst")
	if err := rec.MarkSubmitted("0xsecond"); err == nil {
		t.Fatal("SUBMITTED -> SUBMITTED must be rejected")
	}
	if rec.TxHash != "0xfirst" {
		t.Fatalf("tx hash overwritten: %s", rec.TxHash)
	}
}
