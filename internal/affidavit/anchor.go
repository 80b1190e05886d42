package affidavit

import (
	"context"
	"fmt"
	"time"
)

// AnchorRequest is the payload written to the external ledger.
type AnchorRequest struct {
	DisplayID    string
	DocumentHash string
	Title        string
	Category     string
	Description  string
	Declaration  string
}

// Receipt is the ledger's reference for a mined anchoring transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
}

// LedgerRecord is what the ledger reports back for a display id.
type LedgerRecord struct {
	Exists       bool
	DisplayID    string
	DocumentHash string
	Title        string
	Category     string
	Description  string
	Declaration  string
}

// Ledger is the external anchoring collaborator. Both calls are
// long-latency and fail independently; implementations surface
// connectivity and contract-revert errors without interpreting them.
type Ledger interface {
	Anchor(ctx context.Context, req AnchorRequest) (Receipt, error)
	Record(ctx context.Context, displayID string) (LedgerRecord, error)
}

// VerifyResult is the outcome of comparing a stored affidavit with the
// ledger-reported record.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// CompareLedger checks the stored record against the ledger's. All five
// fields must match exactly for verified=true; the reason names the first
// divergence found.
func CompareLedger(a *Affidavit, rec LedgerRecord) VerifyResult {
	if !rec.Exists {
		return VerifyResult{Reason: "no ledger record for " + a.DisplayID}
	}
	switch {
	case rec.DisplayID != a.DisplayID:
		return VerifyResult{Reason: "display id mismatch"}
	case rec.Title != a.Title:
		return VerifyResult{Reason: "title mismatch"}
	case rec.Category != a.Category:
		return VerifyResult{Reason: "category mismatch"}
	case rec.Description != a.Description:
		return VerifyResult{Reason: "description mismatch"}
	case rec.Declaration != a.Declaration:
		return VerifyResult{Reason: "declaration mismatch"}
	}
	return VerifyResult{Verified: true}
}

// Bridge drives anchoring and verification for issued affidavits. It
// never holds a store lock while a ledger call is in flight: it reads the
// affidavit, talks to the ledger, then persists the outcome.
type Bridge struct {
	svc    Service
	ledger Ledger
	now    func() time.Time
}

// NewBridge wires the workflow service to a ledger client.
func NewBridge(svc Service, ledger Ledger) *Bridge {
	return &Bridge{
		svc:    svc,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test hook.
func (b *Bridge) WithClock(fn func() time.Time) *Bridge {
	if fn != nil {
		b.now = fn
	}
	return b
}

// Anchor submits the affidavit's content hash to the ledger and persists
// the mined receipt. Already-anchored affidavits return as-is.
func (b *Bridge) Anchor(ctx context.Context, affidavitID string) (*Affidavit, error) {
	aff, err := b.svc.GetAffidavit(ctx, affidavitID)
	if err != nil {
		return nil, err
	}
	if aff.Anchored() {
		return aff, nil
	}
	if len(aff.Documents) == 0 {
		return nil, fmt.Errorf("%w: affidavit %s has no hashed documents to anchor", ErrValidation, affidavitID)
	}
	rcpt, err := b.ledger.Anchor(ctx, AnchorRequest{
		DisplayID:    aff.DisplayID,
		DocumentHash: aff.Documents[0].Hash,
		Title:        aff.Title,
		Category:     aff.Category,
		Description:  aff.Description,
		Declaration:  aff.Declaration,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: anchor %s: %v", ErrExternal, aff.DisplayID, err)
	}
	return b.svc.ApplyAnchor(ctx, affidavitID, rcpt.TxHash, rcpt.BlockNumber)
}

// Verify re-queries the ledger and records the comparison outcome. An
// unanchored affidavit reports verified=false without touching the ledger
// or the stored record.
func (b *Bridge) Verify(ctx context.Context, affidavitID string) (VerifyResult, *Affidavit, error) {
	aff, err := b.svc.GetAffidavit(ctx, affidavitID)
	if err != nil {
		return VerifyResult{}, nil, err
	}
	if !aff.Anchored() {
		return VerifyResult{Reason: "not yet anchored"}, aff, nil
	}
	rec, err := b.ledger.Record(ctx, aff.DisplayID)
	if err != nil {
		return VerifyResult{}, nil, fmt.Errorf("%w: query %s: %v", ErrExternal, aff.DisplayID, err)
	}
	res := CompareLedger(aff, rec)
	updated, err := b.svc.SetVerified(ctx, aff.ID, res.Verified, b.now())
	if err != nil {
		return VerifyResult{}, nil, err
	}
	return res, updated, nil
}
