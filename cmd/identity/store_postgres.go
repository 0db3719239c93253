package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
//   - The pgx pool is owned by the caller; Close does not close it.
//   - Schema/table identifiers are quoted through pgx.Identifier.
//   - Consumption runs DELETE ... RETURNING and the account write in one ReadCommitted
//     transaction, so two concurrent consumers of the same secret cannot both win.
//   - Unique violations are mapped to ConflictError by constraint name.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the schema used when WithSchema is not given.
const DefaultSchema = "latch"

// WithSchema sets the Postgres schema used by the store (default "latch").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

const (
	pgUserCols    = `id, username, email, email_norm, password_hash, created_at, updated_at`
	pgPendingCols = `id, username, email, email_norm, password_hash, code_hash, created_at, expires_at`
)

func (s *PostgresStore) begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
}

// CreatePendingSignup inserts p after clearing expired rows that hold its email or code.
func (s *PostgresStore) CreatePendingSignup(ctx context.Context, p PendingSignup, now time.Time) error {
	const op = "identity.CreatePendingSignup"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := preparePending(op, &p); err != nil {
		return err
	}
	now = orNow(now)

	users := pgIdent(s.schema, "users")
	pending := pgIdent(s.schema, "pending_signups")

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var taken bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+users+` WHERE email_norm = $1)`, p.EmailNorm,
	).Scan(&taken); err != nil {
		return err
	}
	if taken {
		return ConflictError{Op: op, Field: FieldEmail}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+pending+`
		  WHERE expires_at <= $1
		    AND (email_norm = $2 OR code_hash = $3)`,
		now, p.EmailNorm, p.CodeHash,
	); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+pending+` (`+pgPendingCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Username, p.Email, p.EmailNorm, p.PasswordHash, p.CodeHash, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}

	return tx.Commit(ctx)
}

// GetPendingSignupByEmail returns the live pending signup for email.
func (s *PostgresStore) GetPendingSignupByEmail(ctx context.Context, email string, now time.Time) (PendingSignup, error) {
	const op = "identity.GetPendingSignupByEmail"

	if s == nil || s.pool == nil {
		return PendingSignup{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return PendingSignup{}, err
	}
	now = orNow(now)

	pending := pgIdent(s.schema, "pending_signups")

	p, err := pgScanPending(s.pool.QueryRow(ctx,
		`SELECT `+pgPendingCols+`
		   FROM `+pending+`
		  WHERE email_norm = $1
		    AND expires_at > $2`,
		NormalizeEmail(email), now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PendingSignup{}, NotFoundError{Op: op, Resource: "pending_signup"}
		}
		return PendingSignup{}, err
	}
	return p, nil
}

// RefreshPendingCode replaces the code of a live pending signup.
func (s *PostgresStore) RefreshPendingCode(ctx context.Context, email, codeHash string, expiresAt, now time.Time) error {
	const op = "identity.RefreshPendingCode"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	codeHash = strings.ToLower(codeHash)
	if len(codeHash) != 64 {
		return invalid(op, "code hash must be 64 hex chars")
	}
	now = orNow(now)
	if !expiresAt.After(now) {
		return invalid(op, "expires_at must be in the future")
	}

	pending := pgIdent(s.schema, "pending_signups")
	norm := NormalizeEmail(email)

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+pending+`
		  WHERE code_hash = $1
		    AND expires_at <= $2
		    AND email_norm <> $3`,
		codeHash, now, norm,
	); err != nil {
		return err
	}

	ct, err := tx.Exec(ctx,
		`UPDATE `+pending+`
		    SET code_hash = $1,
		        expires_at = $2
		  WHERE email_norm = $3
		    AND expires_at > $4`,
		codeHash, expiresAt.UTC(), norm, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}
	if ct.RowsAffected() != 1 {
		return NotFoundError{Op: op, Resource: "pending_signup"}
	}

	return tx.Commit(ctx)
}

// ConsumePendingSignup deletes the live pending signup holding codeHash and creates its user.
// When the user insert fails the delete is rolled back.
func (s *PostgresStore) ConsumePendingSignup(ctx context.Context, codeHash, userID string, now time.Time) (User, error) {
	const op = "identity.ConsumePendingSignup"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, invalid(op, "missing user id")
	}
	now = orNow(now)

	users := pgIdent(s.schema, "users")
	pending := pgIdent(s.schema, "pending_signups")

	tx, err := s.begin(ctx)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := pgScanPending(tx.QueryRow(ctx,
		`DELETE FROM `+pending+`
		  WHERE code_hash = $1
		    AND expires_at > $2
		 RETURNING `+pgPendingCols,
		strings.ToLower(codeHash), now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notActive(op)
		}
		return User{}, err
	}

	u := User{
		ID:           userID,
		Username:     p.Username,
		Email:        p.Email,
		EmailNorm:    p.EmailNorm,
		PasswordHash: p.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO `+users+` (`+pgUserCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.EmailNorm, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserByEmail looks a user up by normalized email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, "identity.GetUserByEmail", "email_norm", NormalizeEmail(email))
}

// GetUserByID looks a user up by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, "identity.GetUserByID", "id", strings.TrimSpace(id))
}

func (s *PostgresStore) getUser(ctx context.Context, op, col, val string) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if val == "" {
		return User{}, invalid(op, "missing "+col)
	}

	users := pgIdent(s.schema, "users")

	u, err := pgScanUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserCols+` FROM `+users+` WHERE `+pgx.Identifier{col}.Sanitize()+` = $1`,
		val,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// UpdatePasswordHash stores a new password hash for a user.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if passwordHash == "" {
		return invalid(op, "missing password hash")
	}

	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET password_hash = $1,
		        updated_at = $2
		  WHERE id = $3`,
		passwordHash, orNow(now), userID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// PutResetToken upserts the single reset token of t.UserID.
func (s *PostgresStore) PutResetToken(ctx context.Context, t ResetToken) error {
	const op = "identity.PutResetToken"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateReset(op, t); err != nil {
		return err
	}

	resets := pgIdent(s.schema, "password_reset_tokens")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+resets+` (user_id, token_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		    SET token_hash = EXCLUDED.token_hash,
		        created_at = EXCLUDED.created_at,
		        expires_at = EXCLUDED.expires_at`,
		t.UserID, strings.ToLower(t.TokenHash), t.CreatedAt.UTC(), t.ExpiresAt.UTC(),
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return NotFoundError{Op: op, Resource: "user"}
		}
		return err
	}
	return nil
}

// ConsumeResetToken deletes the live token holding tokenHash and sets the user's password hash.
func (s *PostgresStore) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (User, error) {
	const op = "identity.ConsumeResetToken"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if passwordHash == "" {
		return User{}, invalid(op, "missing password hash")
	}
	now = orNow(now)

	users := pgIdent(s.schema, "users")
	resets := pgIdent(s.schema, "password_reset_tokens")

	tx, err := s.begin(ctx)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	err = tx.QueryRow(ctx,
		`DELETE FROM `+resets+`
		  WHERE token_hash = $1
		    AND expires_at > $2
		 RETURNING user_id`,
		strings.ToLower(tokenHash), now,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notActive(op)
		}
		return User{}, err
	}

	u, err := pgScanUser(tx.QueryRow(ctx,
		`UPDATE `+users+`
		    SET password_hash = $1,
		        updated_at = $2
		  WHERE id = $3
		 RETURNING `+pgUserCols,
		passwordHash, now, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notActive(op)
		}
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

// PurgeExpired removes expired pending signups and reset tokens.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	const op = "identity.PurgeExpired"

	if s == nil || s.pool == nil {
		return PurgeResult{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return PurgeResult{}, err
	}
	now = orNow(now)

	pending := pgIdent(s.schema, "pending_signups")
	resets := pgIdent(s.schema, "password_reset_tokens")

	var res PurgeResult
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+pending+` WHERE expires_at <= $1`, now)
	if err != nil {
		return res, err
	}
	res.PendingSignups = ct.RowsAffected()

	ct, err = s.pool.Exec(ctx, `DELETE FROM `+resets+` WHERE expires_at <= $1`, now)
	if err != nil {
		return res, err
	}
	res.ResetTokens = ct.RowsAffected()
	return res, nil
}

// Ping checks pool connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("identity: nil store")
	}
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

// ---- helpers ----

func pgScanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.EmailNorm, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, err
}

func pgScanPending(row pgx.Row) (PendingSignup, error) {
	var p PendingSignup
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.EmailNorm, &p.PasswordHash, &p.CodeHash, &p.CreatedAt, &p.ExpiresAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()
	return p, err
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}
	return classifyConstraint(pgErr.ConstraintName), true
}

// classifyConstraint maps a unique constraint (or column) name to a conflict field.
// Stable schema names come first; substring matching is the fallback.
func classifyConstraint(name string) string {
	c := strings.ToLower(strings.TrimSpace(name))

	switch c {
	case "uq_users_email_norm", "users.email_norm":
		return FieldEmail
	case "uq_pending_signups_email_norm", "pending_signups.email_norm":
		return FieldPendingSignup
	case "uq_pending_signups_code_hash", "pending_signups.code_hash":
		return FieldVerificationCode
	case "uq_password_reset_tokens_token_hash", "password_reset_tokens.token_hash":
		return FieldResetToken
	}
	switch {
	case strings.Contains(c, "code_hash"):
		return FieldVerificationCode
	case strings.Contains(c, "token_hash"):
		return FieldResetToken
	case strings.Contains(c, "pending") && strings.Contains(c, "email"):
		return FieldPendingSignup
	case strings.Contains(c, "email"):
		return FieldEmail
	default:
		return "unique"
	}
}
