package principal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"keyward.org/internal/apperr"
	"keyward.org/internal/store"
)

const selectColumns = `id, status, username, email, password_hash, pin, created_at, updated_at, created_by, updated_by`

// Repository reads and writes principals. Lookups ignore soft-deleted rows.
type Repository struct {
	store *store.Store
}

func NewRepository(st *store.Store) *Repository {
	return &Repository{store: st}
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*Principal, error) {
	if id <= 0 {
		return nil, apperr.New(apperr.MissingArgument)
	}
	return r.findOne(ctx, `id = $1`, id)
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperr.New(apperr.MissingArgument)
	}
	return r.findOne(ctx, `email = $1`, email)
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (*Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.New(apperr.MissingArgument)
	}
	return r.findOne(ctx, `username = $1`, username)
}

func (r *Repository) FindByPIN(ctx context.Context, pin string) (*Principal, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return nil, apperr.New(apperr.MissingArgument)
	}
	return r.findOne(ctx, `pin = $1`, pin)
}

func (r *Repository) findOne(ctx context.Context, where string, arg any) (*Principal, error) {
	row := r.store.Q(ctx).QueryRowContext(ctx,
		`select `+selectColumns+` from principals where `+where+` and status <> 'DELETED'`, arg)
	p, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.PrincipalNotFound)
	}
	if err != nil {
		return nil, apperr.System(err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*Principal, error) {
	var (
		p                    Principal
		status               string
		email, hash, pin     sql.NullString
		createdBy, updatedBy sql.NullInt64
	)
	if err := row.Scan(&p.ID, &status, &p.Username, &email, &hash, &pin,
		&p.CreatedAt, &p.UpdatedAt, &createdBy, &updatedBy); err != nil {
		return nil, err
	}
	p.Status = Status(status)
	p.Email = nullString(email)
	p.PasswordHash = nullString(hash)
	p.PIN = nullString(pin)
	p.CreatedBy = nullInt(createdBy)
	p.UpdatedBy = nullInt(updatedBy)
	return &p, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// CheckUnique reports which of username, email and PIN are already held by
// another non-deleted principal.
func (r *Repository) CheckUnique(ctx context.Context, p *Principal) ([]apperr.Code, error) {
	rows, err := r.store.Q(ctx).QueryContext(ctx, `
		select username = $2, coalesce(email = $3, false), coalesce(pin = $4, false)
		from principals
		where status <> 'DELETED' and id <> $1
		  and (username = $2 or email = $3 or pin = $4)
	`, p.ID, p.Username, p.Email, p.PIN)
	if err != nil {
		return nil, apperr.System(err)
	}
	defer rows.Close()

	var usernameTaken, emailTaken, pinTaken bool
	for rows.Next() {
		var u, e, n bool
		if err := rows.Scan(&u, &e, &n); err != nil {
			return nil, apperr.System(err)
		}
		usernameTaken = usernameTaken || u
		emailTaken = emailTaken || e
		pinTaken = pinTaken || n
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.System(err)
	}

	var codes []apperr.Code
	if usernameTaken {
		codes = append(codes, apperr.UsernameTaken)
	}
	if emailTaken {
		codes = append(codes, apperr.EmailTaken)
	}
	if pinTaken {
		codes = append(codes, apperr.PINTaken)
	}
	return codes, nil
}

// Validate runs the field rules and the uniqueness checks, returning every
// violated rule. A nil error with an empty list means the principal is valid.
func (r *Repository) Validate(ctx context.Context, p *Principal) ([]apperr.Code, error) {
	p.Normalize()
	codes := p.Validate()
	taken, err := r.CheckUnique(ctx, p)
	if err != nil {
		return nil, err
	}
	return apperr.Merge(codes, taken), nil
}

// Create validates and inserts p.
func (r *Repository) Create(ctx context.Context, p *Principal) error {
	if p.Status == "" {
		p.Status = StatusActive
	}
	p.CreatedBy = store.Actor(ctx)
	p.UpdatedBy = p.CreatedBy
	codes, err := r.Validate(ctx, p)
	if err != nil {
		return err
	}
	if len(codes) > 0 {
		return apperr.New(codes...)
	}

	fields := p.Fields(ViewInsert)
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		cols[i] = f.Column
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = f.Value
	}
	query := fmt.Sprintf(`insert into principals(%s) values(%s) returning created_at, updated_at`,
		strings.Join(cols, ", "), strings.Join(marks, ", "))
	if err := r.store.Q(ctx).QueryRowContext(ctx, query, args...).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return uniqueErr(err)
	}
	return nil
}

// Update validates p and writes its mutable columns.
func (r *Repository) Update(ctx context.Context, p *Principal) error {
	p.UpdatedBy = store.Actor(ctx)
	codes, err := r.Validate(ctx, p)
	if err != nil {
		return err
	}
	if len(codes) > 0 {
		return apperr.New(codes...)
	}

	fields := p.Fields(ViewUpdate)
	sets := make([]string, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		sets[i] = fmt.Sprintf("%s = $%d", f.Column, i+1)
		args = append(args, f.Value)
	}
	args = append(args, p.ID)
	query := fmt.Sprintf(`update principals set %s, updated_at = now() where id = $%d and status <> 'DELETED' returning updated_at`,
		strings.Join(sets, ", "), len(args))
	err = r.store.Q(ctx).QueryRowContext(ctx, query, args...).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.PrincipalNotFound)
	}
	if err != nil {
		return uniqueErr(err)
	}
	return nil
}

// SoftDelete marks the principal DELETED. Roles and tokens are left untouched.
func (r *Repository) SoftDelete(ctx context.Context, id int64) error {
	if id <= 0 {
		return apperr.New(apperr.MissingArgument)
	}
	res, err := r.store.Q(ctx).ExecContext(ctx,
		`update principals set status = 'DELETED', updated_at = now(), updated_by = $2 where id = $1 and status <> 'DELETED'`,
		id, store.Actor(ctx))
	if err != nil {
		return apperr.System(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.System(err)
	}
	if n == 0 {
		return apperr.New(apperr.PrincipalNotFound)
	}
	return nil
}

// uniqueErr translates a unique violation that slipped past CheckUnique
// (a concurrent insert) into the matching validation code.
func uniqueErr(err error) error {
	if !store.IsUniqueViolation(err) {
		return apperr.System(err)
	}
	name := store.Constraint(err)
	switch {
	case strings.Contains(name, "username"):
		return apperr.New(apperr.UsernameTaken)
	case strings.Contains(name, "email"):
		return apperr.New(apperr.EmailTaken)
	case strings.Contains(name, "pin"):
		return apperr.New(apperr.PINTaken)
	case strings.Contains(name, "pkey"):
		return apperr.New(apperr.IDTaken)
	default:
		return apperr.System(err)
	}
}
