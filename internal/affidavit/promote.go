package affidavit

import "time"

// BuildSnapshot materializes the issued record from a ready-to-issue
// request. Identity fields are denormalized from the resolved parties so
// later user edits do not retroactively alter the record. Only documents
// carrying a content hash are retained: unhashed content cannot be
// anchored on the ledger.
func BuildSnapshot(req *AffidavitRequest, parties map[string]Party, id, displayID string, issuedAt time.Time) *Affidavit {
	a := &Affidavit{
		ID:            id,
		DisplayID:     displayID,
		RequestID:     req.ID,
		Title:         req.Title,
		Category:      req.Category,
		StampValue:    req.StampValue,
		Description:   req.Description,
		Declaration:   req.Declaration,
		Issuer:        snapshotParty(req.Issuer.UserID, req.Issuer.Name, req.Issuer.CNIC, parties),
		DateRequested: req.CreatedAt,
		DateIssued:    issuedAt,
	}
	if req.Seller != nil {
		s := snapshotParty(req.Seller.UserID, req.Seller.Name, req.Seller.CNIC, parties)
		a.Seller = &s
	}
	if req.Buyer != nil {
		b := snapshotParty(req.Buyer.UserID, req.Buyer.Name, req.Buyer.CNIC, parties)
		a.Buyer = &b
	}
	for _, w := range req.Witnesses {
		a.Witnesses = append(a.Witnesses, snapshotParty(w.UserID, w.Name, w.CNIC, parties))
	}
	for _, doc := range req.Documents {
		if doc.Hash == "" {
			continue
		}
		a.Documents = append(a.Documents, doc)
	}
	return a
}

func snapshotParty(userID, fallbackName, fallbackCNIC string, parties map[string]Party) PartySnapshot {
	snap := PartySnapshot{UserID: userID, Name: fallbackName, CNIC: fallbackCNIC}
	p, ok := parties[userID]
	if !ok {
		return snap
	}
	if p.Name != "" {
		snap.Name = p.Name
	}
	if p.CNIC != "" {
		snap.CNIC = p.CNIC
	}
	snap.WalletAddress = p.WalletAddress
	return snap
}
