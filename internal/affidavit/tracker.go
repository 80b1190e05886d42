package affidavit

import (
	"fmt"
	"strings"
)

// Resolution is the aggregate of all required party decisions on a request.
type Resolution string

const (
	ResolutionAwaiting     Resolution = "awaiting"
	ResolutionRejected     Resolution = "rejected"
	ResolutionReadyToIssue Resolution = "ready-to-issue"
)

// Resolve computes the resolution state from the current slot values.
// Required slots are the issuer, whichever of seller/buyer is present, and
// every witness. A single rejection is final and short-circuits even while
// other slots are still pending.
func Resolve(req *AffidavitRequest) Resolution {
	awaiting := false
	for _, d := range requiredDecisions(req) {
		switch d {
		case DecisionRejected:
			return ResolutionRejected
		case DecisionPending:
			awaiting = true
		}
	}
	if awaiting {
		return ResolutionAwaiting
	}
	return ResolutionReadyToIssue
}

// StatusFor maps a resolution onto the request-level status. The stored
// status is always derived from this, never maintained independently.
func StatusFor(res Resolution) Status {
	switch res {
	case ResolutionRejected:
		return StatusRejected
	case ResolutionReadyToIssue:
		return StatusAccepted
	}
	return StatusPending
}

func requiredDecisions(req *AffidavitRequest) []Decision {
	out := make([]Decision, 0, 3+len(req.Witnesses))
	out = append(out, req.Issuer.Decision)
	if req.Seller != nil {
		out = append(out, req.Seller.Decision)
	}
	if req.Buyer != nil {
		out = append(out, req.Buyer.Decision)
	}
	for _, w := range req.Witnesses {
		out = append(out, w.Decision)
	}
	return out
}

// slotDecision resolves the addressed slot to its decision field.
func slotDecision(req *AffidavitRequest, role PartyRole) (*Decision, error) {
	switch role.Kind {
	case RoleIssuer:
		return &req.Issuer.Decision, nil
	case RoleSeller:
		if req.Seller == nil {
			return nil, fmt.Errorf("%w: request has no seller slot", ErrInvalidRole)
		}
		return &req.Seller.Decision, nil
	case RoleBuyer:
		if req.Buyer == nil {
			return nil, fmt.Errorf("%w: request has no buyer slot", ErrInvalidRole)
		}
		return &req.Buyer.Decision, nil
	case RoleWitness:
		if role.WitnessIndex < 0 || role.WitnessIndex >= len(req.Witnesses) {
			return nil, fmt.Errorf("%w: request has no witness %d", ErrInvalidRole, role.WitnessIndex)
		}
		return &req.Witnesses[role.WitnessIndex].Decision, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
}

// SlotUserID returns the user occupying the addressed slot. Used by the
// API layer to check that the caller decides only its own slot.
func SlotUserID(req *AffidavitRequest, role PartyRole) (string, error) {
	switch role.Kind {
	case RoleIssuer:
		return req.Issuer.UserID, nil
	case RoleSeller:
		if req.Seller == nil {
			return "", fmt.Errorf("%w: request has no seller slot", ErrInvalidRole)
		}
		return req.Seller.UserID, nil
	case RoleBuyer:
		if req.Buyer == nil {
			return "", fmt.Errorf("%w: request has no buyer slot", ErrInvalidRole)
		}
		return req.Buyer.UserID, nil
	case RoleWitness:
		if role.WitnessIndex < 0 || role.WitnessIndex >= len(req.Witnesses) {
			return "", fmt.Errorf("%w: request has no witness %d", ErrInvalidRole, role.WitnessIndex)
		}
		return req.Witnesses[role.WitnessIndex].UserID, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidRole, role)
}

// ApplyDecision records one party's vote exactly once. Callers must hold
// the per-request serialization scope (store mutex or row lock). The
// request is left untouched on any error.
func ApplyDecision(req *AffidavitRequest, role PartyRole, d Decision) error {
	if d != DecisionAccepted && d != DecisionRejected {
		return fmt.Errorf("%w: decision must be accepted or rejected", ErrValidation)
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: request %s is %s", ErrConflict, req.ID, req.Status)
	}
	slot, err := slotDecision(req, role)
	if err != nil {
		return err
	}
	if *slot != DecisionPending {
		return fmt.Errorf("%w: %s already decided (%s)", ErrConflict, role, *slot)
	}
	*slot = d
	return nil
}

// ValidateNew checks the shape of a request about to be materialized.
func ValidateNew(req *AffidavitRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(req.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if strings.TrimSpace(req.InitiatorID) == "" {
		return fmt.Errorf("%w: initiator is required", ErrValidation)
	}
	if req.InitiatorRole != RoleSeller && req.InitiatorRole != RoleBuyer {
		return fmt.Errorf("%w: initiator role must be seller or buyer", ErrValidation)
	}
	if strings.TrimSpace(req.Issuer.UserID) == "" {
		return fmt.Errorf("%w: issuer is required", ErrValidation)
	}
	if req.StampValue < 0 {
		return fmt.Errorf("%w: stamp_value must be >= 0", ErrValidation)
	}
	for i, w := range req.Witnesses {
		if strings.TrimSpace(w.UserID) == "" {
			return fmt.Errorf("%w: witness %d has no user reference", ErrValidation, i)
		}
	}
	return nil
}

// InitSlots normalizes slot state at creation: every slot starts pending
// and the initiator's own role slot is auto-accepted, so the issuer
// decision and the initiator's decision are never both pending.
func InitSlots(req *AffidavitRequest) {
	req.Status = StatusPending
	req.Issuer.Decision = DecisionPending
	if req.Seller != nil {
		req.Seller.Decision = DecisionPending
	}
	if req.Buyer != nil {
		req.Buyer.Decision = DecisionPending
	}
	for i := range req.Witnesses {
		req.Witnesses[i].Decision = DecisionPending
	}
	switch req.InitiatorRole {
	case RoleSeller:
		if req.Seller == nil {
			req.Seller = &PartySlot{UserID: req.InitiatorID, CNIC: req.InitiatorCNIC}
		}
		req.Seller.Decision = DecisionAccepted
	case RoleBuyer:
		if req.Buyer == nil {
			req.Buyer = &PartySlot{UserID: req.InitiatorID, CNIC: req.InitiatorCNIC}
		}
		req.Buyer.Decision = DecisionAccepted
	}
}

// PartyUserIDs lists every populated party on the request, issuer first,
// in snapshot order.
func PartyUserIDs(req *AffidavitRequest) []string {
	out := []string{req.Issuer.UserID}
	if req.Seller != nil {
		out = append(out, req.Seller.UserID)
	}
	if req.Buyer != nil {
		out = append(out, req.Buyer.UserID)
	}
	for _, w := range req.Witnesses {
		out = append(out, w.UserID)
	}
	return out
}
