package affidavit

import (
	"fmt"
	"strings"
	"time"
)

// Decision is the explicit tri-state of one party's vote on a request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// Valid reports whether d is one of the known decision values.
func (d Decision) Valid() bool {
	switch d {
	case DecisionPending, DecisionAccepted, DecisionRejected:
		return true
	}
	return false
}

// Status is the request-level aggregate derived from party decisions.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// RoleKind enumerates the closed set of party roles on a request.
type RoleKind int

const (
	RoleIssuer RoleKind = iota + 1
	RoleSeller
	RoleBuyer
	RoleWitness
)

func (k RoleKind) String() string {
	switch k {
	case RoleIssuer:
		return "issuer"
	case RoleSeller:
		return "seller"
	case RoleBuyer:
		return "buyer"
	case RoleWitness:
		return "witness"
	}
	return fmt.Sprintf("rolekind(%d)", int(k))
}

// PartyRole identifies one decision slot on a request. Witness slots are
// addressed by their position in the witness list.
type PartyRole struct {
	Kind         RoleKind
	WitnessIndex int
}

func Issuer() PartyRole          { return PartyRole{Kind: RoleIssuer} }
func Seller() PartyRole          { return PartyRole{Kind: RoleSeller} }
func Buyer() PartyRole           { return PartyRole{Kind: RoleBuyer} }
func Witness(index int) PartyRole { return PartyRole{Kind: RoleWitness, WitnessIndex: index} }

func (r PartyRole) String() string {
	if r.Kind == RoleWitness {
		return fmt.Sprintf("witness[%d]", r.WitnessIndex)
	}
	return r.Kind.String()
}

// ParsePartyRole maps a wire-level role name onto the closed variant.
// witnessIndex is only consulted for "witness".
func ParsePartyRole(name string, witnessIndex int) (PartyRole, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "issuer":
		return Issuer(), nil
	case "seller":
		return Seller(), nil
	case "buyer":
		return Buyer(), nil
	case "witness":
		if witnessIndex < 0 {
			return PartyRole{}, fmt.Errorf("%w: witness index must be >= 0", ErrInvalidRole)
		}
		return Witness(witnessIndex), nil
	}
	return PartyRole{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRole, name)
}

// PartySlot is a nominated issuer, seller or buyer awaiting a decision.
type PartySlot struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	CNIC     string   `json:"cnic"`
	Decision Decision `json:"decision"`
}

// WitnessSlot is one nominated witness awaiting a decision.
type WitnessSlot struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	CNIC     string   `json:"cnic"`
	Decision Decision `json:"decision"`
}

// Document is a file attached to a request. Hash, when present, is the
// hex-encoded Keccak-256 of the content and is what gets anchored.
type Document struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	MIME string `json:"mime"`
	Hash string `json:"hash,omitempty"`
}

// AffidavitRequest is the mutable proposal collecting party decisions.
// The initiator's own role slot is auto-accepted at creation; the request
// is terminal once Status leaves pending.
type AffidavitRequest struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Category    string         `json:"category"`
	StampValue  int64          `json:"stamp_value"`
	Description string         `json:"description"`
	Declaration string         `json:"declaration"`
	Details     map[string]any `json:"details,omitempty"`

	InitiatorID   string   `json:"initiator_id"`
	InitiatorCNIC string   `json:"initiator_cnic"`
	InitiatorRole RoleKind `json:"initiator_role"`

	Issuer    PartySlot     `json:"issuer"`
	Seller    *PartySlot    `json:"seller,omitempty"`
	Buyer     *PartySlot    `json:"buyer,omitempty"`
	Witnesses []WitnessSlot `json:"witnesses,omitempty"`
	Documents []Document    `json:"documents,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PartySnapshot is a party's identity frozen at issuance time. Later user
// edits never alter an issued record.
type PartySnapshot struct {
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	CNIC          string `json:"cnic"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// Affidavit is the immutable issued record. Only the anchoring and
// verification fields may change after creation.
type Affidavit struct {
	ID        string `json:"id"`
	DisplayID string `json:"display_id"`
	RequestID string `json:"request_id"`

	Title       string `json:"title"`
	Category    string `json:"category"`
	StampValue  int64  `json:"stamp_value"`
	Description string `json:"description"`
	Declaration string `json:"declaration"`

	Issuer    PartySnapshot   `json:"issuer"`
	Seller    *PartySnapshot  `json:"seller,omitempty"`
	Buyer     *PartySnapshot  `json:"buyer,omitempty"`
	Witnesses []PartySnapshot `json:"witnesses,omitempty"`
	Documents []Document      `json:"documents,omitempty"`

	TxHash         string    `json:"tx_hash,omitempty"`
	BlockNumber    uint64    `json:"block_number,omitempty"`
	Verified       bool      `json:"verified"`
	LastVerifiedAt time.Time `json:"last_verified_at,omitzero"`

	DateRequested time.Time `json:"date_requested"`
	DateIssued    time.Time `json:"date_issued"`
}

// Anchored reports whether the affidavit carries a ledger reference.
func (a *Affidavit) Anchored() bool { return a.TxHash != "" }

// Party is the minimal identity view the workflow reads when building
// snapshots. Resolved through a Directory at issuance time.
type Party struct {
	ID            string
	Name          string
	CNIC          string
	WalletAddress string
}
