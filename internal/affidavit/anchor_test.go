package affidavit

import (
	"context"
	"errors"
	"testing"
)

type fakeLedger struct {
	anchorErr error
	receipt   Receipt
	recordErr error
	records   map[string]LedgerRecord
	anchored  int
}

func (f *fakeLedger) Anchor(_ context.Context, req AnchorRequest) (Receipt, error) {
	if f.anchorErr != nil {
		return Receipt{}, f.anchorErr
	}
	f.anchored++
	if f.records == nil {
		f.records = make(map[string]LedgerRecord)
	}
	f.records[req.DisplayID] = LedgerRecord{
		Exists:       true,
		DisplayID:    req.DisplayID,
		DocumentHash: req.DocumentHash,
		Title:        req.Title,
		Category:     req.Category,
		Description:  req.Description,
		Declaration:  req.Declaration,
	}
	return f.receipt, nil
}

func (f *fakeLedger) Record(_ context.Context, displayID string) (LedgerRecord, error) {
	if f.recordErr != nil {
		return LedgerRecord{}, f.recordErr
	}
	return f.records[displayID], nil
}

func issuedAffidavit(t *testing.T, s *InMemory) *Affidavit {
	t.Helper()
	ctx := context.Background()
	req := newPendingRequest(t, s)
	if _, err := s.RecordDecision(ctx, req.ID, Buyer(), DecisionAccepted); err != nil {
		t.Fatal(err)
	}
	out, err := s.RecordDecision(ctx, req.ID, Issuer(), DecisionAccepted)
	if err != nil {
		t.Fatal(err)
	}
	return out.Affidavit
}

// Scenario D: the anchoring call fails; the affidavit persists unanchored
// and verification reports "not yet anchored".
func TestAnchorFailureLeavesAffidavitUnanchored(t *testing.T) {
	s := NewInMemory(testDirectory())
	ledger := &fakeLedger{anchorErr: errors.New("dial tcp: connection refused")}
	bridge := NewBridge(s, ledger)
	aff := issuedAffidavit(t, s)

	if _, err := bridge.Anchor(context.Background(), aff.ID); !errors.Is(err, ErrExternal) {
		t.Fatalf("expected ErrExternal, got %v", err)
	}

	stored, err := s.GetAffidavit(context.Background(), aff.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Anchored() {
		t.Fatalf("failed anchoring must not record a receipt: %+v", stored)
	}

	res, _, err := bridge.Verify(context.Background(), aff.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verified || res.Reason != "not yet anchored" {
		t.Fatalf("unexpected verify result: %+v", res)
	}
}

func TestAnchorThenVerifyMatches(t *testing.T) {
	s := NewInMemory(testDirectory())
	ledger := &fakeLedger{receipt: Receipt{TxHash: "0xfeed", BlockNumber: 77}}
	bridge := NewBridge(s, ledger)
	aff := issuedAffidavit(t, s)

	anchored, err := bridge.Anchor(context.Background(), aff.ID)
	if err != nil {
		t.Fatal(err)
	}
	if anchored.TxHash != "0xfeed" || anchored.BlockNumber != 77 {
		t.Fatalf("receipt not persisted: %+v", anchored)
	}

	// Anchoring an anchored affidavit must not hit the ledger again.
	if _, err := bridge.Anchor(context.Background(), aff.ID); err != nil {
		t.Fatal(err)
	}
	if ledger.anchored != 1 {
		t.Fatalf("ledger anchored %d times, want 1", ledger.anchored)
	}

	res, updated, err := bridge.Verify(context.Background(), aff.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Verified {
		t.Fatalf("expected verified, got %+v", res)
	}
	if !updated.Verified || updated.LastVerifiedAt.IsZero() {
		t.Fatalf("verification outcome not persisted: %+v", updated)
	}
}

// Scenario E: a present transaction hash does not make a tampered record
// verified — the ledger title differs.
func TestVerifyDetectsTitleMismatch(t *testing.T) {
	s := NewInMemory(testDirectory())
	ledger := &fakeLedger{receipt: Receipt{TxHash: "0xfeed", BlockNumber: 77}}
	bridge := NewBridge(s, ledger)
	aff := issuedAffidavit(t, s)

	if _, err := bridge.Anchor(context.Background(), aff.ID); err != nil {
		t.Fatal(err)
	}
	rec := ledger.records[aff.DisplayID]
	rec.Title = "Sale of plot 43"
	ledger.records[aff.DisplayID] = rec

	res, updated, err := bridge.Verify(context.Background(), aff.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verified {
		t.Fatal("tampered record must not verify")
	}
	if res.Reason != "title mismatch" {
		t.Fatalf("unexpected reason: %q", res.Reason)
	}
	if updated.Verified {
		t.Fatal("verified flag must be cleared on mismatch")
	}
	if !updated.Anchored() {
		t.Fatal("mismatch does not remove the anchor reference")
	}
}

func TestVerifyLedgerFailureSurfaces(t *testing.T) {
	s := NewInMemory(testDirectory())
	ledger := &fakeLedger{receipt: Receipt{TxHash: "0xfeed", BlockNumber: 77}}
	bridge := NewBridge(s, ledger)
	aff := issuedAffidavit(t, s)
	if _, err := bridge.Anchor(context.Background(), aff.ID); err != nil {
		t.Fatal(err)
	}

	ledger.recordErr = errors.New("execution reverted")
	if _, _, err := bridge.Verify(context.Background(), aff.ID); !errors.Is(err, ErrExternal) {
		t.Fatalf("expected ErrExternal, got %v", err)
	}
}
