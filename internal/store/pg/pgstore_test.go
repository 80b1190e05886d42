package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"affidblock.io/internal/affidavit"
	"affidblock.io/internal/identity"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateUser(context.Background(), &identity.User{
		ID:        "u1",
		Email:     "dup@example.com",
		Name:      "Dup",
		Roles:     []string{identity.RoleSeller},
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, identity.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUserByEmail(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select id, email, name, cnic, wallet_address, roles, password_hash, created_at from users where email").
		WithArgs("ali@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "cnic", "wallet_address", "roles", "password_hash", "created_at"}).
			AddRow("u1", "ali@example.com", "Ali", "35201-1", "0xabc", []byte(`["seller","buyer"]`), "hash", created))

	u, err := s.GetUserByEmail(context.Background(), "ali@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if u.ID != "u1" || len(u.Roles) != 2 || u.Roles[0] != "seller" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("from affidavit_requests where id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(requestColumns()))

	_, err := s.GetRequest(context.Background(), "missing")
	if !errors.Is(err, affidavit.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func requestColumns() []string {
	return []string{
		"id", "title", "category", "stamp_value", "description", "declaration", "details",
		"initiator_id", "initiator_cnic", "initiator_role",
		"issuer", "seller", "buyer", "witnesses", "documents", "status", "created_at", "updated_at",
	}
}

func affidavitColumns() []string {
	return []string{
		"id", "display_id", "request_id", "title", "category", "stamp_value", "description", "declaration",
		"issuer", "seller", "buyer", "witnesses", "documents",
		"tx_hash", "block_number", "verified", "last_verified_at", "date_requested", "date_issued",
	}
}

// pendingRequestRow is a seller-initiated request where only the issuer
// decision is still outstanding.
func pendingRequestRow(created time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(requestColumns()).AddRow(
		"req-1", "Sale Deed", "property", int64(500), "plot 5 transfer", "I solemnly declare",
		[]byte(`{"plot":"5-B"}`),
		"u-slr", "35201-2", int(affidavit.RoleSeller),
		[]byte(`{"user_id":"u-iss","name":"Notary","cnic":"35201-1","decision":"pending"}`),
		[]byte(`{"user_id":"u-slr","name":"","cnic":"35201-2","decision":"accepted"}`),
		nil, nil,
		[]byte(`[{"url":"https://bucket.s3.us-east-1.amazonaws.com/docs/deed.pdf","name":"deed.pdf","mime":"application/pdf","hash":"0xabc"}]`),
		"pending", created, created,
	)
}

func TestRecordDecisionPromotes(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("from affidavit_requests where id=.* for update").
		WithArgs("req-1").
		WillReturnRows(pendingRequestRow(created))
	mock.ExpectExec("update affidavit_requests").
		WithArgs("req-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "accepted", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("from affidavits where request_id").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(affidavitColumns()))
	mock.ExpectQuery("select id, name, cnic, wallet_address from users").
		WithArgs("u-iss").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "cnic", "wallet_address"}).
			AddRow("u-iss", "Notary", "35201-1", ""))
	mock.ExpectQuery("select id, name, cnic, wallet_address from users").
		WithArgs("u-slr").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "cnic", "wallet_address"}).
			AddRow("u-slr", "Ahmed", "35201-2", "0xseller"))
	mock.ExpectExec("insert into affidavits").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.RecordDecision(context.Background(), "req-1", affidavit.Issuer(), affidavit.DecisionAccepted)
	if err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if out.Resolution != affidavit.ResolutionReadyToIssue {
		t.Fatalf("expected ready-to-issue, got %s", out.Resolution)
	}
	if out.Affidavit == nil {
		t.Fatal("expected promotion to produce an affidavit")
	}
	if out.Affidavit.Seller == nil || out.Affidavit.Seller.Name != "Ahmed" {
		t.Fatalf("seller snapshot not resolved from directory: %+v", out.Affidavit.Seller)
	}
	if len(out.Affidavit.Documents) != 1 || out.Affidavit.Documents[0].Hash != "0xabc" {
		t.Fatalf("hashed document not carried over: %+v", out.Affidavit.Documents)
	}
	if out.Request.Status != affidavit.StatusAccepted {
		t.Fatalf("expected accepted status, got %s", out.Request.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordDecisionRejectionIsTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("from affidavit_requests where id=.* for update").
		WithArgs("req-1").
		WillReturnRows(pendingRequestRow(created))
	mock.ExpectExec("update affidavit_requests").
		WithArgs("req-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "rejected", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.RecordDecision(context.Background(), "req-1", affidavit.Issuer(), affidavit.DecisionRejected)
	if err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if out.Resolution != affidavit.ResolutionRejected {
		t.Fatalf("expected rejected resolution, got %s", out.Resolution)
	}
	if out.Affidavit != nil {
		t.Fatal("rejection must not produce an affidavit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyAnchorConflict(t *testing.T) {
	s, mock := newMockStore(t)
	issued := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("from affidavits where id=.* for update").
		WithArgs("aff-1").
		WillReturnRows(sqlmock.NewRows(affidavitColumns()).AddRow(
			"aff-1", "AFD-2026-0000000001", "req-1", "Sale Deed", "property", int64(500), "plot 5 transfer", "I solemnly declare",
			[]byte(`{"user_id":"u-iss","name":"Notary","cnic":"35201-1"}`), nil, nil, nil, nil,
			"0xfeed", int64(42), false, nil, issued, issued,
		))
	mock.ExpectRollback()

	_, err := s.ApplyAnchor(context.Background(), "aff-1", "0xother", 43)
	if !errors.Is(err, affidavit.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
