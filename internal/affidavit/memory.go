package affidavit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"affidblock.io/internal/ids"
)

// InMemory implements Service with in-process concurrency safety. The
// store-wide mutex gives the per-request serialization RecordDecision
// requires; the Postgres store achieves the same with row locks.
type InMemory struct {
	mu  sync.Mutex
	dir Directory
	now func() time.Time

	requests   map[string]*AffidavitRequest
	order      []string // request ids, insertion order
	affidavits map[string]*Affidavit
	byRequest  map[string]string // request id -> affidavit id
	byDisplay  map[string]string // display id -> affidavit id
}

// NewInMemory creates an empty store resolving party identity through dir.
func NewInMemory(dir Directory) *InMemory {
	return &InMemory{
		dir:        dir,
		now:        func() time.Time { return time.Now().UTC() },
		requests:   make(map[string]*AffidavitRequest),
		affidavits: make(map[string]*Affidavit),
		byRequest:  make(map[string]string),
		byDisplay:  make(map[string]string),
	}
}

// WithClock overrides the time source. Test hook.
func (s *InMemory) WithClock(fn func() time.Time) *InMemory {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemory) CreateRequest(ctx context.Context, req *AffidavitRequest) (*AffidavitRequest, error) {
	if err := ValidateNew(req); err != nil {
		return nil, err
	}
	cp := cloneRequest(req)
	InitSlots(cp)
	cp.ID = ids.New()
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[cp.ID] = cp
	s.order = append(s.order, cp.ID)
	return cloneRequest(cp), nil
}

func (s *InMemory) GetRequest(ctx context.Context, id string) (*AffidavitRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(req), nil
}

func (s *InMemory) ListRequests(ctx context.Context, f RequestFilter) ([]*AffidavitRequest, error) {
	limit := normalizeLimit(f.Limit)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*AffidavitRequest
	skipped := 0
	// newest first
	for i := len(s.order) - 1; i >= 0; i-- {
		req := s.requests[s.order[i]]
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.PartyUserID != "" && !involvesUser(req, f.PartyUserID) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, cloneRequest(req))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) RecordDecision(ctx context.Context, requestID string, role PartyRole, d Decision) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return Outcome{}, ErrNotFound
	}
	if err := ApplyDecision(req, role, d); err != nil {
		return Outcome{}, err
	}
	req.UpdatedAt = s.now()

	res := Resolve(req)
	req.Status = StatusFor(res)

	out := Outcome{Resolution: res}
	if res == ResolutionReadyToIssue {
		aff, err := s.promoteLocked(ctx, req)
		if err != nil {
			// Promotion failed: roll the status flip back so the request
			// is never stranded accepted without an affidavit.
			req.Status = StatusPending
			slot, serr := slotDecision(req, role)
			if serr == nil {
				*slot = DecisionPending
			}
			return Outcome{}, err
		}
		out.Affidavit = cloneAffidavit(aff)
	}
	out.Request = cloneRequest(req)
	return out, nil
}

// promoteLocked builds and stores the issued record. Caller holds s.mu.
func (s *InMemory) promoteLocked(ctx context.Context, req *AffidavitRequest) (*Affidavit, error) {
	if existing, ok := s.byRequest[req.ID]; ok {
		return s.affidavits[existing], nil
	}
	parties := make(map[string]Party)
	if s.dir != nil {
		for _, uid := range PartyUserIDs(req) {
			p, err := s.dir.LookupParty(ctx, uid)
			if err != nil {
				return nil, fmt.Errorf("resolve party %s: %w", uid, err)
			}
			parties[uid] = p
		}
	}
	now := s.now()
	aff := BuildSnapshot(req, parties, ids.New(), ids.DisplayID(now), now)
	s.affidavits[aff.ID] = aff
	s.byRequest[req.ID] = aff.ID
	s.byDisplay[aff.DisplayID] = aff.ID
	return aff, nil
}

func (s *InMemory) GetAffidavit(ctx context.Context, id string) (*Affidavit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aff, ok := s.affidavits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAffidavit(aff), nil
}

func (s *InMemory) GetAffidavitByDisplayID(ctx context.Context, displayID string) (*Affidavit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byDisplay[displayID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAffidavit(s.affidavits[id]), nil
}

func (s *InMemory) ListAffidavits(ctx context.Context, f AffidavitFilter) ([]*Affidavit, error) {
	limit := normalizeLimit(f.Limit)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Affidavit
	skipped := 0
	for i := len(s.order) - 1; i >= 0; i-- {
		affID, ok := s.byRequest[s.order[i]]
		if !ok {
			continue
		}
		aff := s.affidavits[affID]
		if f.PartyUserID != "" && !snapshotInvolves(aff, f.PartyUserID) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, cloneAffidavit(aff))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) ApplyAnchor(ctx context.Context, affidavitID, txHash string, blockNumber uint64) (*Affidavit, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: tx hash is required", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	aff, ok := s.affidavits[affidavitID]
	if !ok {
		return nil, ErrNotFound
	}
	if aff.Anchored() {
		if aff.TxHash == txHash && aff.BlockNumber == blockNumber {
			return cloneAffidavit(aff), nil // idempotent re-apply
		}
		return nil, fmt.Errorf("%w: affidavit %s already anchored at %s", ErrConflict, affidavitID, aff.TxHash)
	}
	aff.TxHash = txHash
	aff.BlockNumber = blockNumber
	return cloneAffidavit(aff), nil
}

func (s *InMemory) SetVerified(ctx context.Context, affidavitID string, verified bool, at time.Time) (*Affidavit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aff, ok := s.affidavits[affidavitID]
	if !ok {
		return nil, ErrNotFound
	}
	aff.Verified = verified
	aff.LastVerifiedAt = at
	return cloneAffidavit(aff), nil
}

// Helpers -----------------------------------------------------------------

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func involvesUser(req *AffidavitRequest, userID string) bool {
	if req.InitiatorID == userID || req.Issuer.UserID == userID {
		return true
	}
	if req.Seller != nil && req.Seller.UserID == userID {
		return true
	}
	if req.Buyer != nil && req.Buyer.UserID == userID {
		return true
	}
	for _, w := range req.Witnesses {
		if w.UserID == userID {
			return true
		}
	}
	return false
}

func snapshotInvolves(aff *Affidavit, userID string) bool {
	if aff.Issuer.UserID == userID {
		return true
	}
	if aff.Seller != nil && aff.Seller.UserID == userID {
		return true
	}
	if aff.Buyer != nil && aff.Buyer.UserID == userID {
		return true
	}
	for _, w := range aff.Witnesses {
		if w.UserID == userID {
			return true
		}
	}
	return false
}

func cloneRequest(req *AffidavitRequest) *AffidavitRequest {
	cp := *req
	if req.Details != nil {
		cp.Details = make(map[string]any, len(req.Details))
		for k, v := range req.Details {
			cp.Details[k] = v
		}
	}
	if req.Seller != nil {
		seller := *req.Seller
		cp.Seller = &seller
	}
	if req.Buyer != nil {
		buyer := *req.Buyer
		cp.Buyer = &buyer
	}
	cp.Witnesses = append([]WitnessSlot(nil), req.Witnesses...)
	cp.Documents = append([]Document(nil), req.Documents...)
	return &cp
}

func cloneAffidavit(aff *Affidavit) *Affidavit {
	cp := *aff
	if aff.Seller != nil {
		seller := *aff.Seller
		cp.Seller = &seller
	}
	if aff.Buyer != nil {
		buyer := *aff.Buyer
		cp.Buyer = &buyer
	}
	cp.Witnesses = append([]PartySnapshot(nil), aff.Witnesses...)
	cp.Documents = append([]Document(nil), aff.Documents...)
	return &cp
}
