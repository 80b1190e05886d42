package affidavit

import "errors"

var (
	// ErrNotFound — referenced request or affidavit does not exist.
	ErrNotFound = errors.New("affidavit: not found")
	// ErrConflict — decision against a non-pending slot or request, or a
	// second promotion/anchoring attempt with different content.
	ErrConflict = errors.New("affidavit: conflict")
	// ErrInvalidRole — the addressed decision slot is absent from the request.
	ErrInvalidRole = errors.New("affidavit: invalid role")
	// ErrValidation — missing or malformed required fields; caller error.
	ErrValidation = errors.New("affidavit: validation failed")
	// ErrExternal — an object-storage or ledger call failed. Transient from
	// the caller's point of view; retry policy belongs to the caller.
	ErrExternal = errors.New("affidavit: external service failure")
)
