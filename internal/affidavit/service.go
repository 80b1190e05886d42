package affidavit

import (
	"context"
	"time"
)

// Directory resolves party identity at issuance time. Read-only; the
// workflow never writes back to the identity store.
type Directory interface {
	LookupParty(ctx context.Context, userID string) (Party, error)
}

// RequestFilter narrows ListRequests. Zero values mean "any".
type RequestFilter struct {
	PartyUserID string
	Status      Status
	Limit       int
	Offset      int
}

// AffidavitFilter narrows ListAffidavits.
type AffidavitFilter struct {
	PartyUserID string
	Limit       int
	Offset      int
}

// Outcome reports the effect of one recorded decision.
type Outcome struct {
	Resolution Resolution        `json:"resolution"`
	Request    *AffidavitRequest `json:"request"`
	// Affidavit is set when this decision promoted the request.
	Affidavit *Affidavit `json:"affidavit,omitempty"`
}

// Service defines the affidavit workflow operations.
//
// RecordDecision and the promotion it may trigger are a single unit of
// work serialized per request: two concurrent final decisions must not
// both observe ready-to-issue, and at most one Affidavit is ever created
// per request.
type Service interface {
	CreateRequest(ctx context.Context, req *AffidavitRequest) (*AffidavitRequest, error)
	GetRequest(ctx context.Context, id string) (*AffidavitRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]*AffidavitRequest, error)

	RecordDecision(ctx context.Context, requestID string, role PartyRole, d Decision) (Outcome, error)

	GetAffidavit(ctx context.Context, id string) (*Affidavit, error)
	GetAffidavitByDisplayID(ctx context.Context, displayID string) (*Affidavit, error)
	ListAffidavits(ctx context.Context, f AffidavitFilter) ([]*Affidavit, error)

	// ApplyAnchor persists a mined ledger reference. Idempotent: the same
	// receipt applied twice is a no-op; a different receipt for an already
	// anchored affidavit is ErrConflict.
	ApplyAnchor(ctx context.Context, affidavitID, txHash string, blockNumber uint64) (*Affidavit, error)

	// SetVerified records the outcome of a ledger comparison.
	SetVerified(ctx context.Context, affidavitID string, verified bool, at time.Time) (*Affidavit, error)
}
