package affidavit

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stubDirectory map[string]Party

func (d stubDirectory) LookupParty(_ context.Context, userID string) (Party, error) {
	p, ok := d[userID]
	if !ok {
		return Party{}, ErrNotFound
	}
	return p, nil
}

func testDirectory() stubDirectory {
	return stubDirectory{
		"u-issuer": {ID: "u-issuer", Name: "Advocate Malik", CNIC: "35202-0000001-1", WalletAddress: "0xissuer"},
		"u-seller": {ID: "u-seller", Name: "Sajid Ali", CNIC: "35202-1111111-1", WalletAddress: "0xseller"},
		"u-buyer":  {ID: "u-buyer", Name: "Noor Fatima", CNIC: "35202-2222222-2", WalletAddress: "0xbuyer"},
		"u-w1":     {ID: "u-w1", Name: "Witness One", CNIC: "35202-3333333-3"},
		"u-w2":     {ID: "u-w2", Name: "Witness Two", CNIC: "35202-4444444-4"},
	}
}

func newPendingRequest(t *testing.T, s *InMemory) *AffidavitRequest {
	t.Helper()
	req, err := s.CreateRequest(context.Background(), &AffidavitRequest{
		Title:         "Sale of plot 42",
		Category:      "property",
		StampValue:    100,
		Description:   "Transfer of ownership of plot 42.",
		Declaration:   "I hereby declare the above to be true.",
		InitiatorID:   "u-seller",
		InitiatorCNIC: "35202-1111111-1",
		InitiatorRole: RoleSeller,
		Issuer:        PartySlot{UserID: "u-issuer"},
		Buyer:         &PartySlot{UserID: "u-buyer"},
		Documents: []Document{
			{URL: "https://files.test/deed.pdf", Name: "deed.pdf", MIME: "application/pdf", Hash: "0xabc"},
			{URL: "https://files.test/scan.jpg", Name: "scan.jpg", MIME: "image/jpeg"}, // no hash
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return req
}

// Scenario A: issuer accepts, then buyer accepts; promotion snapshots both
// parties' identity.
func TestIssuerThenBuyerAcceptPromotes(t *testing.T) {
	s := NewInMemory(testDirectory())
	ctx := context.Background()
	req := newPendingRequest(t, s)

	out, err := s.RecordDecision(ctx, req.ID, Issuer(), DecisionAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if out.Resolution != ResolutionAwaiting {
		t.Fatalf("expected awaiting after issuer accept, got %s", out.Resolution)
	}
	if out.Affidavit != nil {
		t.Fatal("no affidavit should exist while awaiting")
	}

	out, err = s.RecordDecision(ctx, req.ID, Buyer(), DecisionAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if out.Resolution != ResolutionReadyToIssue {
		t.Fatalf("expected ready-to-issue, got %s", out.Resolution)
	}
	if out.Request.Status != StatusAccepted {
		t.Fatalf("request status not accepted: %s", out.Request.Status)
	}
	aff := out.Affidavit
	if aff == nil {
		t.Fatal("promotion did not create an affidavit")
	}
	if aff.RequestID != req.ID {
		t.Fatalf("affidavit back-reference wrong: %s", aff.RequestID)
	}
	if aff.Seller == nil || aff.Seller.Name != "Sajid Ali" || aff.Seller.WalletAddress != "0xseller" {
		t.Fatalf("seller snapshot incomplete: %+v", aff.Seller)
	}
	if aff.Buyer == nil || aff.Buyer.CNIC != "35202-2222222-2" {
		t.Fatalf("buyer snapshot incomplete: %+v", aff.Buyer)
	}
	if len(aff.Documents) != 1 || aff.Documents[0].Hash != "0xabc" {
		t.Fatalf("only hashed documents belong in the snapshot: %+v", aff.Documents)
	}
	if aff.DateRequested != req.CreatedAt {
		t.Fatal("dateRequested must be the request creation time")
	}
	if aff.DisplayID == "" || aff.Anchored() {
		t.Fatalf("fresh affidavit must have a display id and no anchor: %+v", aff)
	}
}

// Scenario B: buyer rejects before the issuer decides; the request closes
// and the late issuer accept conflicts.
func TestBuyerRejectionClosesRequest(t *testing.T) {
	s := NewInMemory(testDirectory())
	ctx := context.Background()
	req := newPendingRequest(t, s)

	out, err := s.RecordDecision(ctx, req.ID, Buyer(), DecisionRejected)
	if err != nil {
		t.Fatal(err)
	}
	if out.Resolution != ResolutionRejected {
		t.Fatalf("expected immediate rejection, got %s", out.Resolution)
	}
	if out.Request.Status != StatusRejected {
		t.Fatalf("request status not rejected: %s", out.Request.Status)
	}
	if out.Affidavit != nil {
		t.Fatal("rejected request must not produce an affidavit")
	}

	if _, err := s.RecordDecision(ctx, req.ID, Issuer(), DecisionAccepted); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after terminal rejection, got %v", err)
	}
}

// Scenario C: witness coverage — one of two witnesses deciding keeps the
// request awaiting.
func TestSecondWitnessPendingKeepsAwaiting(t *testing.T) {
	s := NewInMemory(testDirectory())
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, &AffidavitRequest{
		Title:         "Business partnership",
		Category:      "partnership",
		InitiatorID:   "u-buyer",
		InitiatorRole: RoleBuyer,
		Issuer:        PartySlot{UserID: "u-issuer"},
		Seller:        &PartySlot{UserID: "u-seller"},
		Witnesses: []WitnessSlot{
			{UserID: "u-w1", Name: "Witness One"},
			{UserID: "u-w2", Name: "Witness Two"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, role := range []PartyRole{Issuer(), Seller(), Witness(0)} {
		out, err := s.RecordDecision(ctx, req.ID, role, DecisionAccepted)
		if err != nil {
			t.Fatalf("%s: %v", role, err)
		}
		if out.Resolution != ResolutionAwaiting {
			t.Fatalf("%s: expected awaiting, got %s", role, out.Resolution)
		}
	}

	out, err := s.RecordDecision(ctx, req.ID, Witness(1), DecisionAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if out.Resolution != ResolutionReadyToIssue || out.Affidavit == nil {
		t.Fatalf("final witness should promote: %s", out.Resolution)
	}
	if len(out.Affidavit.Witnesses) != 2 {
		t.Fatalf("expected 2 witness snapshots, got %d", len(out.Affidavit.Witnesses))
	}
}

func TestUnknownRequest(t *testing.T) {
	s := NewInMemory(testDirectory())
	if _, err := s.RecordDecision(context.Background(), "missing", Issuer(), DecisionAccepted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Exactly one affidavit is created even when the final decision arrives
// many times concurrently.
func TestConcurrentFinalDecisionPromotesOnce(t *testing.T) {
	s := NewInMemory(testDirectory())
	ctx := context.Background()
	req := newPendingRequest(t, s)
	if _, err := s.RecordDecision(ctx, req.ID, Buyer(), DecisionAccepted); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var affidavits []*Affidavit
	promoted := 0
	N := 20
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.RecordDecision(ctx, req.ID, Issuer(), DecisionAccepted)
			if err != nil {
				return // losers see ErrConflict
			}
			mu.Lock()
			promoted++
			affidavits = append(affidavits, out.Affidavit)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if promoted != 1 {
		t.Fatalf("expected exactly one successful final decision, got %d", promoted)
	}
	if len(affidavits) != 1 || affidavits[0] == nil {
		t.Fatalf("expected exactly one affidavit, got %d", len(affidavits))
	}
	got, err := s.ListAffidavits(ctx, AffidavitFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("store holds %d affidavits, want 1", len(got))
	}
}

func TestListRequestsByPartyAndStatus(t *testing.T) {
	s := NewInMemory(testDirectory())
	ctx := context.Background()
	req := newPendingRequest(t, s)
	newPendingRequest(t, s)

	if _, err := s.RecordDecision(ctx, req.ID, Buyer(), DecisionRejected); err != nil {
		t.Fatal(err)
	}

	rejected, err := s.ListRequests(ctx, RequestFilter{PartyUserID: "u-buyer", Status: StatusRejected})
	if err != nil {
		t.Fatal(err)
	}
	if len(rejected) != 1 || rejected[0].ID != req.ID {
		t.Fatalf("unexpected rejected list: %d entries", len(rejected))
	}
	pending, err := s.ListRequests(ctx, RequestFilter{Status: StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d", len(pending))
	}
	none, err := s.ListRequests(ctx, RequestFilter{PartyUserID: "u-w1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("u-w1 is party to nothing, got %d", len(none))
	}
}

func TestApplyAnchorIdempotent(t *testing.T) {
	s := NewInMemory(testDirectory())
	ctx := context.Background()
	req := newPendingRequest(t, s)
	if _, err := s.RecordDecision(ctx, req.ID, Buyer(), DecisionAccepted); err != nil {
		t.Fatal(err)
	}
	out, err := s.RecordDecision(ctx, req.ID, Issuer(), DecisionAccepted)
	if err != nil {
		t.Fatal(err)
	}
	id := out.Affidavit.ID

	if _, err := s.ApplyAnchor(ctx, id, "0xdeadbeef", 1234); err != nil {
		t.Fatal(err)
	}
	// Duplicate mined-notification: same receipt must be a no-op.
	aff, err := s.ApplyAnchor(ctx, id, "0xdeadbeef", 1234)
	if err != nil {
		t.Fatal(err)
	}
	if aff.TxHash != "0xdeadbeef" || aff.BlockNumber != 1234 {
		t.Fatalf("anchor fields wrong: %+v", aff)
	}
	// A different receipt is a conflict, not a silent overwrite.
	if _, err := s.ApplyAnchor(ctx, id, "0xother", 99); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
