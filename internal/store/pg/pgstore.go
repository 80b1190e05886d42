// Package pg persists users, affidavit requests and issued affidavits in
// PostgreSQL. Party slots and documents live in jsonb columns; the decision
// workflow is serialized per request with SELECT ... FOR UPDATE so that at
// most one promotion ever happens.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"affidblock.io/internal/affidavit"
	"affidblock.io/internal/identity"
	"affidblock.io/internal/ids"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ affidavit.Service   = (*Store)(nil)
	_ affidavit.Directory = (*Store)(nil)
	_ identity.Store      = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing pool. Used directly by tests with sqlmock.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source. Test hook.
func (s *Store) WithClock(fn func() time.Time) *Store {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

type rowScanner interface {
	Scan(dest ...any) error
}

// --- users ---------------------------------------------------------------

const userCols = `id, email, name, cnic, wallet_address, roles, password_hash, created_at`

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users(id, email, name, cnic, wallet_address, roles, password_hash, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.Email, u.Name, u.CNIC, u.WalletAddress, roles, u.PasswordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return identity.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*identity.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `select `+userCols+` from users where id=$1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `select `+userCols+` from users where email=$1`, email))
}

func (s *Store) ListUsersByRole(ctx context.Context, role string) ([]*identity.User, error) {
	arg, err := json.Marshal([]string{role})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+userCols+` from users where roles @> $1 order by created_at
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWallet(ctx context.Context, id, walletAddress string) (*identity.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		update users set wallet_address=$2 where id=$1
		returning `+userCols,
		id, walletAddress))
}

// LookupParty implements affidavit.Directory over the users table.
func (s *Store) LookupParty(ctx context.Context, userID string) (affidavit.Party, error) {
	return lookupParty(ctx, s.db, userID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookupParty(ctx context.Context, q querier, userID string) (affidavit.Party, error) {
	var p affidavit.Party
	err := q.QueryRowContext(ctx, `
		select id, name, cnic, wallet_address from users where id=$1
	`, userID).Scan(&p.ID, &p.Name, &p.CNIC, &p.WalletAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return affidavit.Party{}, identity.ErrNotFound
	}
	if err != nil {
		return affidavit.Party{}, err
	}
	return p, nil
}

func (s *Store) scanUser(row rowScanner) (*identity.User, error) {
	var u identity.User
	var roles []byte
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CNIC, &u.WalletAddress, &roles, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &u.Roles); err != nil {
			return nil, fmt.Errorf("decode roles for user %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

// --- affidavit requests --------------------------------------------------

const requestCols = `id, title, category, stamp_value, description, declaration, details,
	initiator_id, initiator_cnic, initiator_role,
	issuer, seller, buyer, witnesses, documents, status, created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, req *affidavit.AffidavitRequest) (*affidavit.AffidavitRequest, error) {
	if err := affidavit.ValidateNew(req); err != nil {
		return nil, err
	}
	cp := copyRequest(req)
	affidavit.InitSlots(cp)
	cp.ID = ids.New()
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt

	details, issuer, seller, buyer, witnesses, documents, err := marshalRequestSlots(cp)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into affidavit_requests(id, title, category, stamp_value, description, declaration, details,
			initiator_id, initiator_cnic, initiator_role,
			issuer, seller, buyer, witnesses, documents, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, cp.ID, cp.Title, cp.Category, cp.StampValue, cp.Description, cp.Declaration, details,
		cp.InitiatorID, cp.InitiatorCNIC, int(cp.InitiatorRole),
		issuer, seller, buyer, witnesses, documents, string(cp.Status), cp.CreatedAt, cp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*affidavit.AffidavitRequest, error) {
	return scanRequest(s.db.QueryRowContext(ctx,
		`select `+requestCols+` from affidavit_requests where id=$1`, id))
}

func (s *Store) ListRequests(ctx context.Context, f affidavit.RequestFilter) ([]*affidavit.AffidavitRequest, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.PartyUserID != "" {
		args = append(args, f.PartyUserID)
		n := len(args)
		conds = append(conds, fmt.Sprintf(`(initiator_id=$%d
			or issuer->>'user_id'=$%d
			or seller->>'user_id'=$%d
			or buyer->>'user_id'=$%d
			or witnesses @> jsonb_build_array(jsonb_build_object('user_id', $%d::text)))`, n, n, n, n, n))
	}
	q := `select ` + requestCols + ` from affidavit_requests`
	if len(conds) > 0 {
		q += ` where ` + strings.Join(conds, " and ")
	}
	limit := normalizeLimit(f.Limit)
	args = append(args, limit)
	q += fmt.Sprintf(` order by created_at desc limit $%d`, len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(` offset $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*affidavit.AffidavitRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) RecordDecision(ctx context.Context, requestID string, role affidavit.PartyRole, d affidavit.Decision) (affidavit.Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return affidavit.Outcome{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := scanRequest(tx.QueryRowContext(ctx,
		`select `+requestCols+` from affidavit_requests where id=$1 for update`, requestID))
	if err != nil {
		return affidavit.Outcome{}, err
	}
	if err := affidavit.ApplyDecision(req, role, d); err != nil {
		return affidavit.Outcome{}, err
	}
	req.UpdatedAt = s.now()

	res := affidavit.Resolve(req)
	req.Status = affidavit.StatusFor(res)

	_, issuer, seller, buyer, witnesses, _, err := marshalRequestSlots(req)
	if err != nil {
		return affidavit.Outcome{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update affidavit_requests
		set issuer=$2, seller=$3, buyer=$4, witnesses=$5, status=$6, updated_at=$7
		where id=$1
	`, req.ID, issuer, seller, buyer, witnesses, string(req.Status), req.UpdatedAt); err != nil {
		return affidavit.Outcome{}, err
	}

	out := affidavit.Outcome{Resolution: res}
	if res == affidavit.ResolutionReadyToIssue {
		aff, err := s.promoteTx(ctx, tx, req)
		if err != nil {
			// Rollback undoes the decision too: the request is never left
			// accepted without an affidavit.
			return affidavit.Outcome{}, err
		}
		out.Affidavit = aff
	}
	if err := tx.Commit(); err != nil {
		return affidavit.Outcome{}, err
	}
	out.Request = req
	return out, nil
}

// promoteTx builds and inserts the issued record inside the decision
// transaction. The caller holds the request row lock.
func (s *Store) promoteTx(ctx context.Context, tx *sql.Tx, req *affidavit.AffidavitRequest) (*affidavit.Affidavit, error) {
	existing, err := scanAffidavit(tx.QueryRowContext(ctx,
		`select `+affidavitCols+` from affidavits where request_id=$1`, req.ID))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, affidavit.ErrNotFound) {
		return nil, err
	}

	parties := make(map[string]affidavit.Party)
	for _, uid := range affidavit.PartyUserIDs(req) {
		p, err := lookupParty(ctx, tx, uid)
		if err != nil {
			return nil, fmt.Errorf("resolve party %s: %w", uid, err)
		}
		parties[uid] = p
	}

	now := s.now()
	aff := affidavit.BuildSnapshot(req, parties, ids.New(), ids.DisplayID(now), now)

	issuer, seller, buyer, witnesses, documents, err := marshalSnapshotSlots(aff)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into affidavits(id, display_id, request_id, title, category, stamp_value, description, declaration,
			issuer, seller, buyer, witnesses, documents,
			tx_hash, block_number, verified, date_requested, date_issued)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'',0,false,$14,$15)
	`, aff.ID, aff.DisplayID, aff.RequestID, aff.Title, aff.Category, aff.StampValue, aff.Description, aff.Declaration,
		issuer, seller, buyer, witnesses, documents,
		aff.DateRequested, aff.DateIssued); err != nil {
		return nil, err
	}
	return aff, nil
}

// --- affidavits ----------------------------------------------------------

const affidavitCols = `id, display_id, request_id, title, category, stamp_value, description, declaration,
	issuer, seller, buyer, witnesses, documents,
	tx_hash, block_number, verified, last_verified_at, date_requested, date_issued`

func (s *Store) GetAffidavit(ctx context.Context, id string) (*affidavit.Affidavit, error) {
	return scanAffidavit(s.db.QueryRowContext(ctx,
		`select `+affidavitCols+` from affidavits where id=$1`, id))
}

func (s *Store) GetAffidavitByDisplayID(ctx context.Context, displayID string) (*affidavit.Affidavit, error) {
	return scanAffidavit(s.db.QueryRowContext(ctx,
		`select `+affidavitCols+` from affidavits where display_id=$1`, displayID))
}

func (s *Store) ListAffidavits(ctx context.Context, f affidavit.AffidavitFilter) ([]*affidavit.Affidavit, error) {
	var conds []string
	var args []any
	if f.PartyUserID != "" {
		args = append(args, f.PartyUserID)
		n := len(args)
		conds = append(conds, fmt.Sprintf(`(issuer->>'user_id'=$%d
			or seller->>'user_id'=$%d
			or buyer->>'user_id'=$%d
			or witnesses @> jsonb_build_array(jsonb_build_object('user_id', $%d::text)))`, n, n, n, n))
	}
	q := `select ` + affidavitCols + ` from affidavits`
	if len(conds) > 0 {
		q += ` where ` + strings.Join(conds, " and ")
	}
	limit := normalizeLimit(f.Limit)
	args = append(args, limit)
	q += fmt.Sprintf(` order by date_issued desc limit $%d`, len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(` offset $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*affidavit.Affidavit
	for rows.Next() {
		aff, err := scanAffidavit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, aff)
	}
	return out, rows.Err()
}

func (s *Store) ApplyAnchor(ctx context.Context, affidavitID, txHash string, blockNumber uint64) (*affidavit.Affidavit, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: tx hash is required", affidavit.ErrValidation)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	aff, err := scanAffidavit(tx.QueryRowContext(ctx,
		`select `+affidavitCols+` from affidavits where id=$1 for update`, affidavitID))
	if err != nil {
		return nil, err
	}
	if aff.Anchored() {
		if aff.TxHash == txHash && aff.BlockNumber == blockNumber {
			return aff, nil // idempotent re-apply
		}
		return nil, fmt.Errorf("%w: affidavit %s already anchored at %s", affidavit.ErrConflict, affidavitID, aff.TxHash)
	}
	if _, err := tx.ExecContext(ctx, `
		update affidavits set tx_hash=$2, block_number=$3 where id=$1
	`, affidavitID, txHash, blockNumber); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	aff.TxHash = txHash
	aff.BlockNumber = blockNumber
	return aff, nil
}

func (s *Store) SetVerified(ctx context.Context, affidavitID string, verified bool, at time.Time) (*affidavit.Affidavit, error) {
	return scanAffidavit(s.db.QueryRowContext(ctx, `
		update affidavits set verified=$2, last_verified_at=$3 where id=$1
		returning `+affidavitCols,
		affidavitID, verified, at))
}

// --- row mapping ---------------------------------------------------------

func scanRequest(row rowScanner) (*affidavit.AffidavitRequest, error) {
	var req affidavit.AffidavitRequest
	var details, issuer, seller, buyer, witnesses, documents []byte
	var initiatorRole int
	var status string
	err := row.Scan(&req.ID, &req.Title, &req.Category, &req.StampValue, &req.Description, &req.Declaration, &details,
		&req.InitiatorID, &req.InitiatorCNIC, &initiatorRole,
		&issuer, &seller, &buyer, &witnesses, &documents, &status, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, affidavit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	req.InitiatorRole = affidavit.RoleKind(initiatorRole)
	req.Status = affidavit.Status(status)
	if err := decodeInto(details, &req.Details); err != nil {
		return nil, err
	}
	if err := decodeInto(issuer, &req.Issuer); err != nil {
		return nil, err
	}
	if err := decodeInto(seller, &req.Seller); err != nil {
		return nil, err
	}
	if err := decodeInto(buyer, &req.Buyer); err != nil {
		return nil, err
	}
	if err := decodeInto(witnesses, &req.Witnesses); err != nil {
		return nil, err
	}
	if err := decodeInto(documents, &req.Documents); err != nil {
		return nil, err
	}
	return &req, nil
}

func scanAffidavit(row rowScanner) (*affidavit.Affidavit, error) {
	var aff affidavit.Affidavit
	var issuer, seller, buyer, witnesses, documents []byte
	var blockNumber int64
	var lastVerified sql.NullTime
	err := row.Scan(&aff.ID, &aff.DisplayID, &aff.RequestID, &aff.Title, &aff.Category, &aff.StampValue, &aff.Description, &aff.Declaration,
		&issuer, &seller, &buyer, &witnesses, &documents,
		&aff.TxHash, &blockNumber, &aff.Verified, &lastVerified, &aff.DateRequested, &aff.DateIssued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, affidavit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	aff.BlockNumber = uint64(blockNumber)
	if lastVerified.Valid {
		aff.LastVerifiedAt = lastVerified.Time
	}
	if err := decodeInto(issuer, &aff.Issuer); err != nil {
		return nil, err
	}
	if err := decodeInto(seller, &aff.Seller); err != nil {
		return nil, err
	}
	if err := decodeInto(buyer, &aff.Buyer); err != nil {
		return nil, err
	}
	if err := decodeInto(witnesses, &aff.Witnesses); err != nil {
		return nil, err
	}
	if err := decodeInto(documents, &aff.Documents); err != nil {
		return nil, err
	}
	return &aff, nil
}

func marshalRequestSlots(req *affidavit.AffidavitRequest) (details, issuer, seller, buyer, witnesses, documents []byte, err error) {
	if details, err = encodeOrNil(req.Details, len(req.Details) > 0); err != nil {
		return
	}
	if issuer, err = json.Marshal(req.Issuer); err != nil {
		return
	}
	if seller, err = encodeOrNil(req.Seller, req.Seller != nil); err != nil {
		return
	}
	if buyer, err = encodeOrNil(req.Buyer, req.Buyer != nil); err != nil {
		return
	}
	if witnesses, err = encodeOrNil(req.Witnesses, len(req.Witnesses) > 0); err != nil {
		return
	}
	documents, err = encodeOrNil(req.Documents, len(req.Documents) > 0)
	return
}

func marshalSnapshotSlots(aff *affidavit.Affidavit) (issuer, seller, buyer, witnesses, documents []byte, err error) {
	if issuer, err = json.Marshal(aff.Issuer); err != nil {
		return
	}
	if seller, err = encodeOrNil(aff.Seller, aff.Seller != nil); err != nil {
		return
	}
	if buyer, err = encodeOrNil(aff.Buyer, aff.Buyer != nil); err != nil {
		return
	}
	if witnesses, err = encodeOrNil(aff.Witnesses, len(aff.Witnesses) > 0); err != nil {
		return
	}
	documents, err = encodeOrNil(aff.Documents, len(aff.Documents) > 0)
	return
}

// encodeOrNil marshals v, or yields SQL NULL when the slot is absent.
func encodeOrNil(v any, present bool) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeInto(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func copyRequest(req *affidavit.AffidavitRequest) *affidavit.AffidavitRequest {
	cp := *req
	if req.Seller != nil {
		seller := *req.Seller
		cp.Seller = &seller
	}
	if req.Buyer != nil {
		buyer := *req.Buyer
		cp.Buyer = &buyer
	}
	cp.Witnesses = append([]affidavit.WitnessSlot(nil), req.Witnesses...)
	cp.Documents = append([]affidavit.Document(nil), req.Documents...)
	return &cp
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
