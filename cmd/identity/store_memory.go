package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
// All operations hold one mutex, which makes every consume trivially atomic.
type MemoryStore struct {
	mu sync.Mutex

	users       map[string]User          // by id
	usersEmail  map[string]string        // email_norm -> id
	pending     map[string]PendingSignup // by email_norm
	pendingCode map[string]string        // code_hash -> email_norm
	resets      map[string]ResetToken    // by user id
	resetHash   map[string]string        // token_hash -> user id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]User),
		usersEmail:  make(map[string]string),
		pending:     make(map[string]PendingSignup),
		pendingCode: make(map[string]string),
		resets:      make(map[string]ResetToken),
		resetHash:   make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreatePendingSignup(ctx context.Context, p PendingSignup, now time.Time) error {
	const op = "identity.CreatePendingSignup"
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := preparePending(op, &p); err != nil {
		return err
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersEmail[p.EmailNorm]; ok {
		return ConflictError{Op: op, Field: FieldEmail}
	}
	if cur, ok := s.pending[p.EmailNorm]; ok {
		if cur.ExpiresAt.After(now) {
			return ConflictError{Op: op, Field: FieldPendingSignup}
		}
		s.dropPendingLocked(cur)
	}
	if err := s.claimCodeLocked(op, p.CodeHash, now); err != nil {
		return err
	}

	s.pending[p.EmailNorm] = p
	s.pendingCode[p.CodeHash] = p.EmailNorm
	return nil
}

func (s *MemoryStore) GetPendingSignupByEmail(ctx context.Context, email string, now time.Time) (PendingSignup, error) {
	const op = "identity.GetPendingSignupByEmail"
	if err := ctx.Err(); err != nil {
		return PendingSignup{}, err
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[NormalizeEmail(email)]
	if !ok || !p.ExpiresAt.After(now) {
		return PendingSignup{}, NotFoundError{Op: op, Resource: "pending_signup"}
	}
	return p, nil
}

func (s *MemoryStore) RefreshPendingCode(ctx context.Context, email, codeHash string, expiresAt, now time.Time) error {
	const op = "identity.RefreshPendingCode"
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(codeHash) != 64 {
		return invalid(op, "code hash must be 64 hex chars")
	}
	now = orNow(now)
	if !expiresAt.After(now) {
		return invalid(op, "expires_at must be in the future")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	norm := NormalizeEmail(email)
	p, ok := s.pending[norm]
	if !ok || !p.ExpiresAt.After(now) {
		return NotFoundError{Op: op, Resource: "pending_signup"}
	}
	if err := s.claimCodeLocked(op, codeHash, now); err != nil {
		return err
	}

	delete(s.pendingCode, p.CodeHash)
	p.CodeHash = codeHash
	p.ExpiresAt = expiresAt.UTC()
	s.pending[norm] = p
	s.pendingCode[codeHash] = norm
	return nil
}

func (s *MemoryStore) ConsumePendingSignup(ctx context.Context, codeHash, userID string, now time.Time) (User, error) {
	const op = "identity.ConsumePendingSignup"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if userID == "" {
		return User{}, invalid(op, "missing user id")
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	norm, ok := s.pendingCode[codeHash]
	if !ok {
		return User{}, notActive(op)
	}
	p := s.pending[norm]
	if !p.ExpiresAt.After(now) {
		return User{}, notActive(op)
	}
	if _, taken := s.usersEmail[norm]; taken {
		return User{}, ConflictError{Op: op, Field: FieldEmail}
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
	s.dropPendingLocked(p)
	s.users[u.ID] = u
	s.usersEmail[norm] = u.ID
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.users[id], nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if passwordHash == "" {
		return invalid(op, "missing password hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = orNow(now)
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) PutResetToken(ctx context.Context, t ResetToken) error {
	const op = "identity.PutResetToken"
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateReset(op, t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[t.UserID]; !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if owner, ok := s.resetHash[t.TokenHash]; ok && owner != t.UserID {
		return ConflictError{Op: op, Field: FieldResetToken}
	}
	if prev, ok := s.resets[t.UserID]; ok {
		delete(s.resetHash, prev.TokenHash)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	s.resets[t.UserID] = t
	s.resetHash[t.TokenHash] = t.UserID
	return nil
}

func (s *MemoryStore) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (User, error) {
	const op = "identity.ConsumeResetToken"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if passwordHash == "" {
		return User{}, invalid(op, "missing password hash")
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.resetHash[tokenHash]
	if !ok {
		return User{}, notActive(op)
	}
	t := s.resets[userID]
	if !t.ExpiresAt.After(now) {
		return User{}, notActive(op)
	}
	u, ok := s.users[userID]
	if !ok {
		return User{}, notActive(op)
	}

	delete(s.resetHash, tokenHash)
	delete(s.resets, userID)
	u.PasswordHash = passwordHash
	u.UpdatedAt = now
	s.users[userID] = u
	return u, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	if err := ctx.Err(); err != nil {
		return PurgeResult{}, err
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	var res PurgeResult
	for _, p := range s.pending {
		if !p.ExpiresAt.After(now) {
			s.dropPendingLocked(p)
			res.PendingSignups++
		}
	}
	for userID, t := range s.resets {
		if !t.ExpiresAt.After(now) {
			delete(s.resetHash, t.TokenHash)
			delete(s.resets, userID)
			res.ResetTokens++
		}
	}
	return res, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

// claimCodeLocked fails when codeHash belongs to a live pending signup and
// evicts an expired holder otherwise.
func (s *MemoryStore) claimCodeLocked(op, codeHash string, now time.Time) error {
	norm, ok := s.pendingCode[codeHash]
	if !ok {
		return nil
	}
	holder := s.pending[norm]
	if holder.ExpiresAt.After(now) {
		return ConflictError{Op: op, Field: FieldVerificationCode}
	}
	s.dropPendingLocked(holder)
	return nil
}

func (s *MemoryStore) dropPendingLocked(p PendingSignup) {
	delete(s.pendingCode, p.CodeHash)
	delete(s.pending, p.EmailNorm)
}
