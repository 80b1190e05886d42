package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"affidblock.io/internal/affidavit"
	"affidblock.io/internal/audit"
	"affidblock.io/internal/obs"
)

// lookupAffidavit finds by internal id first, falling back to the
// human-facing display id printed on issued records.
func (a *API) lookupAffidavit(r *http.Request, id string) (*affidavit.Affidavit, error) {
	aff, err := a.svc.GetAffidavit(r.Context(), id)
	if errors.Is(err, affidavit.ErrNotFound) {
		return a.svc.GetAffidavitByDisplayID(r.Context(), id)
	}
	return aff, err
}

func (a *API) getAffidavit(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.callerID(w, r); !ok {
		return
	}
	aff, err := a.lookupAffidavit(r, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, aff)
}

func (a *API) listAffidavits(w http.ResponseWriter, r *http.Request) {
	callerID, ok := a.callerID(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.svc.ListAffidavits(r.Context(), affidavit.AffidavitFilter{
		PartyUserID: callerID,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "as_of": time.Now().UTC()})
}

type anchorPayload struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// anchorAffidavit writes the affidavit's content hash to the ledger. A
// body carrying {tx_hash, block_number} records an externally mined
// receipt instead of transacting. Both paths are idempotent.
func (a *API) anchorAffidavit(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.callerID(w, r); !ok {
		return
	}
	target, err := a.lookupAffidavit(r, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var p anchorPayload
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &p); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	var aff *affidavit.Affidavit
	if p.TxHash != "" {
		aff, err = a.svc.ApplyAnchor(r.Context(), target.ID, p.TxHash, p.BlockNumber)
	} else {
		if a.bridge == nil {
			writeError(w, r, http.StatusServiceUnavailable, "anchoring is not configured")
			return
		}
		aff, err = a.bridge.Anchor(r.Context(), target.ID)
	}
	if err != nil {
		obs.AnchorAttempted("error")
		handleServiceError(w, r, err)
		return
	}

	obs.AnchorAttempted("ok")
	_ = audit.LogEvent(r.Context(), audit.EventAnchorApply, map[string]any{
		"affidavit_id": aff.ID,
		"display_id":   aff.DisplayID,
		"tx_hash":      aff.TxHash,
		"block_number": aff.BlockNumber,
	})
	writeJSON(w, http.StatusOK, aff)
}

type verifyResponse struct {
	Verified  bool                 `json:"verified"`
	Reason    string               `json:"reason,omitempty"`
	Affidavit *affidavit.Affidavit `json:"affidavit"`
}

// verifyAffidavit re-reads the ledger record and compares it with the
// stored affidavit field by field.
func (a *API) verifyAffidavit(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.callerID(w, r); !ok {
		return
	}
	if a.bridge == nil {
		writeError(w, r, http.StatusServiceUnavailable, "verification is not configured")
		return
	}

	aff, err := a.lookupAffidavit(r, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	res, updated, err := a.bridge.Verify(r.Context(), aff.ID)
	if err != nil {
		obs.VerificationChecked("error")
		handleServiceError(w, r, err)
		return
	}

	result := "mismatch"
	if res.Verified {
		result = "verified"
	}
	obs.VerificationChecked(result)
	_ = audit.LogEvent(r.Context(), audit.EventVerifyCheck, map[string]any{
		"affidavit_id": updated.ID,
		"display_id":   updated.DisplayID,
		"verified":     res.Verified,
		"reason":       res.Reason,
	})
	writeJSON(w, http.StatusOK, verifyResponse{Verified: res.Verified, Reason: res.Reason, Affidavit: updated})
}
