package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"affidblock.io/internal/affidavit"
	"affidblock.io/internal/audit"
	"affidblock.io/internal/identity"
	"affidblock.io/internal/obs"
	"affidblock.io/internal/stream"
)

type documentPayload struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name" validate:"max=255"`
	MIME string `json:"mime" validate:"max=100"`
	Hash string `json:"hash" validate:"omitempty,max=68"`
}

type createRequestPayload struct {
	Title          string            `json:"title" validate:"required,max=200"`
	Category       string            `json:"category" validate:"required,max=100"`
	StampValue     int64             `json:"stamp_value" validate:"gte=0"`
	Description    string            `json:"description" validate:"max=5000"`
	Declaration    string            `json:"declaration" validate:"max=5000"`
	Details        map[string]any    `json:"details"`
	InitiatorRole  string            `json:"initiator_role" validate:"required,oneof=seller buyer"`
	IssuerID       string            `json:"issuer_id" validate:"required"`
	CounterpartyID string            `json:"counterparty_id"`
	WitnessIDs     []string          `json:"witness_ids" validate:"max=4,dive,required"`
	Documents      []documentPayload `json:"documents" validate:"max=10,dive"`
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	callerID, ok := a.callerID(w, r)
	if !ok {
		return
	}
	var p createRequestPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(p); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	caller, err := a.users.Get(r.Context(), callerID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	initiatorRole := affidavit.RoleSeller
	if p.InitiatorRole == "buyer" {
		initiatorRole = affidavit.RoleBuyer
	}

	req := &affidavit.AffidavitRequest{
		Title:         p.Title,
		Category:      p.Category,
		StampValue:    p.StampValue,
		Description:   p.Description,
		Declaration:   p.Declaration,
		Details:       p.Details,
		InitiatorID:   caller.ID,
		InitiatorCNIC: caller.CNIC,
		InitiatorRole: initiatorRole,
	}

	issuerSlot, err := a.resolveSlot(r, p.IssuerID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	req.Issuer = issuerSlot

	if p.CounterpartyID != "" {
		slot, err := a.resolveSlot(r, p.CounterpartyID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if initiatorRole == affidavit.RoleSeller {
			req.Buyer = &slot
		} else {
			req.Seller = &slot
		}
	}
	for _, wid := range p.WitnessIDs {
		slot, err := a.resolveSlot(r, wid)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		req.Witnesses = append(req.Witnesses, affidavit.WitnessSlot(slot))
	}
	for _, doc := range p.Documents {
		req.Documents = append(req.Documents, affidavit.Document{
			URL:  doc.URL,
			Name: doc.Name,
			MIME: doc.MIME,
			Hash: doc.Hash,
		})
	}

	created, err := a.svc.CreateRequest(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventRequestCreate, map[string]any{
		"affidavit_request_id": created.ID,
		"category":             created.Category,
		"witnesses":            len(created.Witnesses),
	})
	w.Header().Set("Location", "/v1/requests/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// resolveSlot checks the nominated user exists and pre-fills the slot's
// identity fields from the directory.
func (a *API) resolveSlot(r *http.Request, userID string) (affidavit.PartySlot, error) {
	u, err := a.users.Get(r.Context(), userID)
	if errors.Is(err, identity.ErrNotFound) {
		return affidavit.PartySlot{}, fmt.Errorf("%w: unknown user %s", affidavit.ErrValidation, userID)
	}
	if err != nil {
		return affidavit.PartySlot{}, err
	}
	return affidavit.PartySlot{UserID: u.ID, Name: u.Name, CNIC: u.CNIC}, nil
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request) {
	callerID, ok := a.callerID(w, r)
	if !ok {
		return
	}
	req, err := a.svc.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !requestInvolves(req, callerID) {
		writeError(w, r, http.StatusNotFound, affidavit.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	callerID, ok := a.callerID(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := affidavit.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", affidavit.StatusPending, affidavit.StatusAccepted, affidavit.StatusRejected:
	default:
		writeError(w, r, http.StatusBadRequest, "status must be pending, accepted or rejected")
		return
	}

	items, err := a.svc.ListRequests(r.Context(), affidavit.RequestFilter{
		PartyUserID: callerID,
		Status:      status,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "as_of": time.Now().UTC()})
}

type decisionPayload struct {
	Role         string `json:"role" validate:"required,oneof=issuer seller buyer witness"`
	WitnessIndex *int   `json:"witness_index" validate:"omitempty,gte=0"`
	Decision     string `json:"decision" validate:"required,oneof=accepted rejected"`
}

func (a *API) recordDecision(w http.ResponseWriter, r *http.Request) {
	callerID, ok := a.callerID(w, r)
	if !ok {
		return
	}
	var p decisionPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(p); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	requestID := chi.URLParam(r, "id")
	req, err := a.svc.GetRequest(r.Context(), requestID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	witnessIndex := 0
	if p.WitnessIndex != nil {
		witnessIndex = *p.WitnessIndex
	} else if p.Role == "witness" {
		// No index given: locate the caller's own witness slot.
		witnessIndex = -1
		for i, ws := range req.Witnesses {
			if ws.UserID == callerID {
				witnessIndex = i
				break
			}
		}
	}
	role, err := affidavit.ParsePartyRole(p.Role, witnessIndex)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	slotUser, err := affidavit.SlotUserID(req, role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if slotUser != callerID {
		writeError(w, r, http.StatusForbidden, "caller does not occupy the "+role.String()+" slot")
		return
	}

	out, err := a.svc.RecordDecision(r.Context(), requestID, role, affidavit.Decision(p.Decision))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obs.DecisionRecorded(role.Kind.String(), p.Decision)
	evt := stream.DecisionEvent{
		RequestID:  requestID,
		Role:       role.String(),
		Decision:   p.Decision,
		Resolution: string(out.Resolution),
		Timestamp:  time.Now().UTC(),
	}
	auditFields := map[string]any{
		"affidavit_request_id": requestID,
		"role":                 role.String(),
		"decision":             p.Decision,
		"resolution":           string(out.Resolution),
	}
	_ = audit.LogEvent(r.Context(), audit.EventDecisionRecord, auditFields)

	switch out.Resolution {
	case affidavit.ResolutionReadyToIssue:
		obs.PromotionCompleted("accepted")
		evt.AffidavitID = out.Affidavit.ID
		_ = audit.LogEvent(r.Context(), audit.EventRequestPromote, map[string]any{
			"affidavit_request_id": requestID,
			"affidavit_id":         out.Affidavit.ID,
			"display_id":           out.Affidavit.DisplayID,
		})
	case affidavit.ResolutionRejected:
		obs.PromotionCompleted("rejected")
		_ = audit.LogEvent(r.Context(), audit.EventRequestReject, map[string]any{
			"affidavit_request_id": requestID,
			"role":                 role.String(),
		})
	}
	a.events.Publish(evt)

	writeJSON(w, http.StatusOK, out)
}

func requestInvolves(req *affidavit.AffidavitRequest, userID string) bool {
	if req.InitiatorID == userID || req.Issuer.UserID == userID {
		return true
	}
	if req.Seller != nil && req.Seller.UserID == userID {
		return true
	}
	if req.Buyer != nil && req.Buyer.UserID == userID {
		return true
	}
	for _, ws := range req.Witnesses {
		if ws.UserID == userID {
			return true
		}
	}
	return false
}
