package principal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"keyward.org/internal/apperr"
	"keyward.org/internal/store"
)

func strp(s string) *string { return &s }

func validPrincipal() *Principal {
	return &Principal{
		ID:           42,
		Status:       StatusActive,
		Username:     "jane.doe",
		Email:        strp("jane@example.com"),
		PasswordHash: strp("$2a$04$hash"),
	}
}

func TestValidateAcceptsWellFormedPrincipal(t *testing.T) {
	if codes := validPrincipal().Validate(); len(codes) != 0 {
		t.Fatalf("unexpected codes %v", codes)
	}
	p := validPrincipal()
	p.PasswordHash = nil
	p.PIN = strp("0042")
	if codes := p.Validate(); len(codes) != 0 {
		t.Fatalf("PIN-only principal rejected: %v", codes)
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	p := &Principal{
		ID:       42,
		Status:   "BANNED",
		Username: "",
		Email:    strp("not-an-email"),
		PIN:      strp("12a4"),
	}
	codes := p.Validate()
	require.ElementsMatch(t, []apperr.Code{
		apperr.StatusInvalid,
		apperr.UsernameRequired,
		apperr.EmailInvalid,
		apperr.PINInvalid,
	}, codes)
}

func TestValidateRequiresAuthFactor(t *testing.T) {
	p := validPrincipal()
	p.PasswordHash = nil
	codes := p.Validate()
	require.Equal(t, []apperr.Code{apperr.AuthFactorRequired}, codes)

	p.ID = 0
	codes = p.Validate()
	require.Equal(t, []apperr.Code{apperr.IDRequired}, codes, "auth factor is only enforced once the principal has an id")
}

func TestValidateUsernameShape(t *testing.T) {
	for _, name := range []string{"ab", "-leading", "has space", string(make([]byte, 65))} {
		p := validPrincipal()
		p.Username = name
		require.Equal(t, []apperr.Code{apperr.UsernameInvalid}, p.Validate(), "username %q", name)
	}
}

func TestFieldsByView(t *testing.T) {
	p := validPrincipal()
	p.PIN = strp("1234")
	columns := func(fs []Field) []string {
		out := make([]string, len(fs))
		for i, f := range fs {
			out[i] = f.Column
		}
		return out
	}
	require.Equal(t, []string{"id", "status", "username", "email", "password_hash", "pin", "created_by", "updated_by"}, columns(p.Fields(ViewInsert)))
	require.NotContains(t, columns(p.Fields(ViewUpdate)), "id")
	public := columns(p.Fields(ViewPublic))
	require.NotContains(t, public, "password_hash")
	require.NotContains(t, public, "pin")

	pub := p.Public()
	require.True(t, pub.HasPIN)
	require.Equal(t, "jane.doe", pub.Username)
}

func TestNormalize(t *testing.T) {
	p := &Principal{Username: "  jane ", Email: strp(" Jane@Example.COM "), PIN: strp("   "), PasswordHash: strp("")}
	p.Normalize()
	require.Equal(t, "jane", p.Username)
	require.Equal(t, "jane@example.com", *p.Email)
	require.Nil(t, p.PIN)
	require.Nil(t, p.PasswordHash)
}

func TestHasher(t *testing.T) {
	h := NewHasher(bcrypt.MinCost, 8)
	require.Equal(t, []apperr.Code{apperr.PasswordRequired}, h.Check(""))
	require.Equal(t, []apperr.Code{apperr.PasswordTooShort}, h.Check("short"))

	_, err := h.Hash("short")
	require.True(t, errors.Is(err, apperr.PasswordTooShort))

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	require.True(t, h.Verify(&hash, "correct horse"))
	require.False(t, h.Verify(&hash, "wrong horse!"))
	require.False(t, h.Verify(nil, "correct horse"))
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" inactive ")
	require.NoError(t, err)
	require.Equal(t, StatusInactive, st)
	_, err = ParseStatus("gone")
	require.Error(t, err)
}

var principalColumns = []string{"id", "status", "username", "email", "password_hash", "pin", "created_at", "updated_at", "created_by", "updated_by"}

func TestFindByEmailNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(store.New(db))

	mock.ExpectQuery("from principals where email = \\$1 and status <> 'DELETED'").
		WithArgs("jane@example.com").
		WillReturnRows(sqlmock.NewRows(principalColumns))

	_, err = repo.FindByEmail(context.Background(), " JANE@example.com ")
	require.True(t, errors.Is(err, apperr.PrincipalNotFound), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByPINScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(store.New(db))

	now := time.Now().UTC()
	mock.ExpectQuery("from principals where pin = \\$1").
		WithArgs("1234").
		WillReturnRows(sqlmock.NewRows(principalColumns).
			AddRow(int64(9), "ACTIVE", "kiosk", nil, nil, "1234", now, now, nil, int64(1)))

	p, err := repo.FindByPIN(context.Background(), "1234")
	require.NoError(t, err)
	require.Equal(t, int64(9), p.ID)
	require.Nil(t, p.Email)
	require.Nil(t, p.PasswordHash)
	require.Equal(t, "1234", *p.PIN)
	require.Nil(t, p.CreatedBy)
	require.Equal(t, int64(1), *p.UpdatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccumulatesFieldAndUniquenessCodes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(store.New(db))

	p := validPrincipal()
	p.PIN = strp("12")
	mock.ExpectQuery("from principals\\s+where status <> 'DELETED' and id <> \\$1").
		WithArgs(int64(42), "jane.doe", "jane@example.com", "12").
		WillReturnRows(sqlmock.NewRows([]string{"u", "e", "p"}).AddRow(true, false, false).AddRow(false, true, false))

	err = repo.Create(context.Background(), p)
	require.Error(t, err)
	require.Equal(t, []apperr.Code{apperr.PINInvalid, apperr.UsernameTaken, apperr.EmailTaken}, apperr.Codes(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsInsertView(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(store.New(db))

	ctx := store.WithActor(context.Background(), 1)
	p := validPrincipal()
	now := time.Now().UTC()
	mock.ExpectQuery("from principals").WillReturnRows(sqlmock.NewRows([]string{"u", "e", "p"}))
	mock.ExpectQuery("insert into principals\\(id, status, username, email, password_hash, pin, created_by, updated_by\\)").
		WithArgs(int64(42), "ACTIVE", "jane.doe", "jane@example.com", "$2a$04$hash", nil, int64(1), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.Create(ctx, p))
	require.Equal(t, now, p.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteMissingPrincipal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(store.New(db))

	mock.ExpectExec("update principals set status = 'DELETED'").
		WithArgs(int64(5), nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.SoftDelete(context.Background(), 5)
	require.True(t, errors.Is(err, apperr.PrincipalNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

const updateQuery = "update principals set status = \\$1, username = \\$2, email = \\$3, password_hash = \\$4, pin = \\$5, updated_by = \\$6, updated_at = now\\(\\) where id = \\$7"

func TestUpdateWritesUpdateView(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(store.New(db))

	p := validPrincipal()
	p.Email = strp("  Jane@Example.COM ")
	now := time.Now().UTC()
	mock.ExpectQuery("from principals").WillReturnRows(sqlmock.NewRows([]string{"u", "e", "p"}))
	mock.ExpectQuery(updateQuery).
		WithArgs("ACTIVE", "jane.doe", "jane@example.com", "$2a$04$hash", nil, nil, int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	require.NoError(t, repo.Update(context.Background(), p))
	require.Equal(t, now, p.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMapsConcurrentUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(store.New(db))

	mock.ExpectQuery("from principals").WillReturnRows(sqlmock.NewRows([]string{"u", "e", "p"}))
	mock.ExpectQuery(updateQuery).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "principals_username_uidx"})

	err = repo.Update(context.Background(), validPrincipal())
	require.Equal(t, []apperr.Code{apperr.UsernameTaken}, apperr.Codes(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingPrincipal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(store.New(db))

	mock.ExpectQuery("from principals").WillReturnRows(sqlmock.NewRows([]string{"u", "e", "p"}))
	mock.ExpectQuery(updateQuery).WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

	err = repo.Update(context.Background(), validPrincipal())
	require.True(t, errors.Is(err, apperr.PrincipalNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
