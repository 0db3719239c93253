package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store over a single SQLite file.
// Times are stored as unix milliseconds. Embedded migrations run on open.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("identity: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL" +
		"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const (
	sqlUserCols    = `id, username, email, email_norm, password_hash, created_at, updated_at`
	sqlPendingCols = `id, username, email, email_norm, password_hash, code_hash, created_at, expires_at`
)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func (s *SQLiteStore) CreatePendingSignup(ctx context.Context, p PendingSignup, now time.Time) error {
	const op = "identity.CreatePendingSignup"
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := preparePending(op, &p); err != nil {
		return err
	}
	now = orNow(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email_norm = ?`, p.EmailNorm).Scan(&one)
	switch {
	case err == nil:
		return ConflictError{Op: op, Field: FieldEmail}
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_signups
		  WHERE expires_at <= ?
		    AND (email_norm = ? OR code_hash = ?)`,
		toMillis(now), p.EmailNorm, p.CodeHash,
	); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pending_signups (`+sqlPendingCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Username, p.Email, p.EmailNorm, p.PasswordHash, p.CodeHash,
		toMillis(p.CreatedAt), toMillis(p.ExpiresAt),
	)
	if err != nil {
		if field, ok := sqliteClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return fmt.Errorf("create pending signup: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetPendingSignupByEmail(ctx context.Context, email string, now time.Time) (PendingSignup, error) {
	const op = "identity.GetPendingSignupByEmail"
	if err := ctx.Err(); err != nil {
		return PendingSignup{}, err
	}
	p, err := sqliteScanPending(s.db.QueryRowContext(ctx,
		`SELECT `+sqlPendingCols+` FROM pending_signups WHERE email_norm = ? AND expires_at > ?`,
		NormalizeEmail(email), toMillis(orNow(now)),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingSignup{}, NotFoundError{Op: op, Resource: "pending_signup"}
		}
		return PendingSignup{}, err
	}
	return p, nil
}

func (s *SQLiteStore) RefreshPendingCode(ctx context.Context, email, codeHash string, expiresAt, now time.Time) error {
	const op = "identity.RefreshPendingCode"
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
	norm := NormalizeEmail(email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_signups WHERE code_hash = ? AND expires_at <= ? AND email_norm <> ?`,
		codeHash, toMillis(now), norm,
	); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE pending_signups
		    SET code_hash = ?, expires_at = ?
		  WHERE email_norm = ? AND expires_at > ?`,
		codeHash, toMillis(expiresAt), norm, toMillis(now),
	)
	if err != nil {
		if field, ok := sqliteClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return NotFoundError{Op: op, Resource: "pending_signup"}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ConsumePendingSignup(ctx context.Context, codeHash, userID string, now time.Time) (User, error) {
	const op = "identity.ConsumePendingSignup"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, invalid(op, "missing user id")
	}
	now = orNow(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := sqliteScanPending(tx.QueryRowContext(ctx,
		`DELETE FROM pending_signups
		  WHERE code_hash = ? AND expires_at > ?
		 RETURNING `+sqlPendingCols,
		strings.ToLower(codeHash), toMillis(now),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		CreatedAt:    fromMillis(toMillis(now)),
		UpdatedAt:    fromMillis(toMillis(now)),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (`+sqlUserCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.EmailNorm, u.PasswordHash, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if field, ok := sqliteClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, "identity.GetUserByEmail", `email_norm = ?`, NormalizeEmail(email))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, "identity.GetUserByID", `id = ?`, strings.TrimSpace(id))
}

func (s *SQLiteStore) getUser(ctx context.Context, op, where, val string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	u, err := sqliteScanUser(s.db.QueryRowContext(ctx, `SELECT `+sqlUserCols+` FROM users WHERE `+where, val))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if passwordHash == "" {
		return invalid(op, "missing password hash")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, toMillis(orNow(now)), userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *SQLiteStore) PutResetToken(ctx context.Context, t ResetToken) error {
	const op = "identity.PutResetToken"
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateReset(op, t); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, t.UserID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFoundError{Op: op, Resource: "user"}
		}
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (user_id, token_hash, created_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		    SET token_hash = excluded.token_hash,
		        created_at = excluded.created_at,
		        expires_at = excluded.expires_at`,
		t.UserID, strings.ToLower(t.TokenHash), toMillis(t.CreatedAt), toMillis(t.ExpiresAt),
	)
	if err != nil {
		if field, ok := sqliteClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return fmt.Errorf("put reset token: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (User, error) {
	const op = "identity.ConsumeResetToken"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if passwordHash == "" {
		return User{}, invalid(op, "missing password hash")
	}
	now = orNow(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM password_reset_tokens
		  WHERE token_hash = ? AND expires_at > ?
		 RETURNING user_id`,
		strings.ToLower(tokenHash), toMillis(now),
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, notActive(op)
		}
		return User{}, err
	}

	u, err := sqliteScanUser(tx.QueryRowContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? RETURNING `+sqlUserCols,
		passwordHash, toMillis(now), userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, notActive(op)
		}
		return User{}, err
	}

	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	if err := ctx.Err(); err != nil {
		return PurgeResult{}, err
	}
	cutoff := toMillis(orNow(now))

	var res PurgeResult
	r, err := s.db.ExecContext(ctx, `DELETE FROM pending_signups WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return res, err
	}
	if res.PendingSignups, err = r.RowsAffected(); err != nil {
		return res, err
	}

	r, err = s.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return res, err
	}
	if res.ResetTokens, err = r.RowsAffected(); err != nil {
		return res, err
	}
	return res, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("identity: nil store")
	}
	return s.db.PingContext(ctx)
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func sqliteScanUser(row rowScanner) (User, error) {
	var (
		u                User
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.EmailNorm, &u.PasswordHash, &created, &updated); err != nil {
		return User{}, err
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return u, nil
}

func sqliteScanPending(row rowScanner) (PendingSignup, error) {
	var (
		p                PendingSignup
		created, expires int64
	)
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.EmailNorm, &p.PasswordHash, &p.CodeHash, &created, &expires); err != nil {
		return PendingSignup{}, err
	}
	p.CreatedAt = fromMillis(created)
	p.ExpiresAt = fromMillis(expires)
	return p, nil
}

// sqliteClassifyUniqueViolation maps "UNIQUE constraint failed: table.column" to a conflict field.
func sqliteClassifyUniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	unique := false
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			unique = true
		}
	}
	msg := strings.ToLower(err.Error())
	const marker = "unique constraint failed: "
	i := strings.Index(msg, marker)
	if !unique && i < 0 {
		return "", false
	}
	if i < 0 {
		return "unique", true
	}
	col := msg[i+len(marker):]
	if j := strings.IndexAny(col, " ,("); j >= 0 {
		col = col[:j]
	}
	return classifyConstraint(col), true
}
