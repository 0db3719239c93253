package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"latch/cmd/identity/ids"
)

// runStoreContract exercises the Store contract against any implementation.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"pending signup is consumed once", testConsumePendingOnce},
		{"expired code is not active", testConsumePendingExpired},
		{"live pending blocks second signup", testPendingConflict},
		{"expired pending is replaced", testExpiredPendingReplaced},
		{"existing user blocks signup", testUserConflict},
		{"duplicate live code conflicts", testCodeConflict},
		{"refresh invalidates old code", testRefreshInvalidatesOldCode},
		{"refresh without pending is not found", testRefreshNotFound},
		{"reset token is consumed once", testResetOnce},
		{"new reset token replaces old", testResetReplaced},
		{"expired reset token is not active", testResetExpired},
		{"reset token for unknown user", testResetUnknownUser},
		{"purge removes only expired rows", testPurge},
		{"update password hash", testUpdatePasswordHash},
		{"concurrent consume has one winner", testConcurrentConsume},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			tc.fn(t, s)
		})
	}
}

var contractT0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func mustID(t *testing.T) string {
	t.Helper()
	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return id
}

func newPending(t *testing.T, email, code string, now time.Time, ttl time.Duration) PendingSignup {
	t.Helper()
	return PendingSignup{
		ID:           mustID(t),
		Username:     " Ada ",
		Email:        email,
		PasswordHash: "$argon2id$stub",
		CodeHash:     hashOf(code),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
}

func mustActiveUser(t *testing.T, s Store, email string) User {
	t.Helper()
	ctx := context.Background()
	code := "c-" + email
	if err := s.CreatePendingSignup(ctx, newPending(t, email, code, contractT0, 15*time.Minute), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}
	u, err := s.ConsumePendingSignup(ctx, hashOf(code), mustID(t), contractT0.Add(time.Minute))
	if err != nil {
		t.Fatalf("ConsumePendingSignup: %v", err)
	}
	return u
}

func testConsumePendingOnce(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.CreatePendingSignup(ctx, newPending(t, "Ada@Example.com", "111111", contractT0, 15*time.Minute), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}

	p, err := s.GetPendingSignupByEmail(ctx, "ada@example.com", contractT0)
	if err != nil {
		t.Fatalf("GetPendingSignupByEmail: %v", err)
	}
	if p.Username != "Ada" || p.EmailNorm != "ada@example.com" {
		t.Fatalf("unexpected pending row: %+v", p)
	}

	id := mustID(t)
	u, err := s.ConsumePendingSignup(ctx, hashOf("111111"), id, contractT0.Add(14*time.Minute))
	if err != nil {
		t.Fatalf("ConsumePendingSignup: %v", err)
	}
	if u.ID != id || u.Email != "Ada@Example.com" || u.PasswordHash != "$argon2id$stub" {
		t.Fatalf("unexpected user: %+v", u)
	}

	_, err = s.ConsumePendingSignup(ctx, hashOf("111111"), mustID(t), contractT0.Add(14*time.Minute))
	if !IsNotActive(err) {
		t.Fatalf("second consume: expected ErrNotActive, got %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "  ADA@example.com ")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != id {
		t.Fatalf("GetUserByEmail id=%s want %s", got.ID, id)
	}
	if _, err := s.GetPendingSignupByEmail(ctx, "ada@example.com", contractT0); !IsNotFound(err) {
		t.Fatalf("pending row must be gone, got %v", err)
	}
}

func testConsumePendingExpired(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.CreatePendingSignup(ctx, newPending(t, "late@example.com", "222222", contractT0, 15*time.Minute), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}
	_, err := s.ConsumePendingSignup(ctx, hashOf("222222"), mustID(t), contractT0.Add(15*time.Minute))
	if !IsNotActive(err) {
		t.Fatalf("expected ErrNotActive at expiry, got %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "late@example.com"); !IsNotFound(err) {
		t.Fatalf("no user may exist, got %v", err)
	}
}

func testPendingConflict(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.CreatePendingSignup(ctx, newPending(t, "dup@example.com", "333333", contractT0, 15*time.Minute), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}
	err := s.CreatePendingSignup(ctx, newPending(t, "DUP@example.com", "333334", contractT0, 15*time.Minute), contractT0.Add(time.Minute))
	if got := ConflictField(err); got != FieldPendingSignup {
		t.Fatalf("expected %s conflict, got %v", FieldPendingSignup, err)
	}
}

func testExpiredPendingReplaced(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.CreatePendingSignup(ctx, newPending(t, "again@example.com", "444444", contractT0, 15*time.Minute), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}
	later := contractT0.Add(20 * time.Minute)
	if err := s.CreatePendingSignup(ctx, newPending(t, "again@example.com", "444445", later, 15*time.Minute), later); err != nil {
		t.Fatalf("replace expired pending: %v", err)
	}
	if _, err := s.ConsumePendingSignup(ctx, hashOf("444444"), mustID(t), later); !IsNotActive(err) {
		t.Fatalf("old code must be dead, got %v", err)
	}
	if _, err := s.ConsumePendingSignup(ctx, hashOf("444445"), mustID(t), later.Add(time.Minute)); err != nil {
		t.Fatalf("new code: %v", err)
	}
}

func testUserConflict(t *testing.T, s Store) {
	ctx := context.Background()
	mustActiveUser(t, s, "taken@example.com")
	err := s.CreatePendingSignup(ctx, newPending(t, "Taken@Example.com", "555555", contractT0, 15*time.Minute), contractT0.Add(2*time.Minute))
	if got := ConflictField(err); got != FieldEmail {
		t.Fatalf("expected %s conflict, got %v", FieldEmail, err)
	}
}

func testCodeConflict(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.CreatePendingSignup(ctx, newPending(t, "a@example.com", "666666", contractT0, 15*time.Minute), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}
	err := s.CreatePendingSignup(ctx, newPending(t, "b@example.com", "666666", contractT0, 15*time.Minute), contractT0)
	if got := ConflictField(err); got != FieldVerificationCode {
		t.Fatalf("expected %s conflict, got %v", FieldVerificationCode, err)
	}

	// Once the holder expires the code may be reused.
	later := contractT0.Add(16 * time.Minute)
	if err := s.CreatePendingSignup(ctx, newPending(t, "b@example.com", "666666", later, 15*time.Minute), later); err != nil {
		t.Fatalf("reuse of expired code: %v", err)
	}
}

func testRefreshInvalidatesOldCode(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.CreatePendingSignup(ctx, newPending(t, "resend@example.com", "777777", contractT0, 15*time.Minute), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}
	now := contractT0.Add(10 * time.Minute)
	if err := s.RefreshPendingCode(ctx, "Resend@example.com", hashOf("777778"), now.Add(15*time.Minute), now); err != nil {
		t.Fatalf("RefreshPendingCode: %v", err)
	}
	if _, err := s.ConsumePendingSignup(ctx, hashOf("777777"), mustID(t), now); !IsNotActive(err) {
		t.Fatalf("old code must be dead, got %v", err)
	}
	// New expiry is honored past the original one.
	if _, err := s.ConsumePendingSignup(ctx, hashOf("777778"), mustID(t), contractT0.Add(20*time.Minute)); err != nil {
		t.Fatalf("new code: %v", err)
	}
}

func testRefreshNotFound(t *testing.T, s Store) {
	err := s.RefreshPendingCode(context.Background(), "nobody@example.com", hashOf("1"), contractT0.Add(time.Hour), contractT0)
	if !IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func testResetOnce(t *testing.T, s Store) {
	ctx := context.Background()
	u := mustActiveUser(t, s, "reset@example.com")
	now := contractT0.Add(time.Hour)
	if err := s.PutResetToken(ctx, ResetToken{UserID: u.ID, TokenHash: hashOf("tok-1"), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("PutResetToken: %v", err)
	}

	got, err := s.ConsumeResetToken(ctx, hashOf("tok-1"), "$argon2id$new", now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ConsumeResetToken: %v", err)
	}
	if got.ID != u.ID || got.PasswordHash != "$argon2id$new" {
		t.Fatalf("unexpected user after reset: %+v", got)
	}
	if _, err := s.ConsumeResetToken(ctx, hashOf("tok-1"), "$argon2id$other", now.Add(31*time.Minute)); !IsNotActive(err) {
		t.Fatalf("second consume: expected ErrNotActive, got %v", err)
	}

	stored, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if stored.PasswordHash != "$argon2id$new" {
		t.Fatalf("password hash not persisted: %q", stored.PasswordHash)
	}
}

func testResetReplaced(t *testing.T, s Store) {
	ctx := context.Background()
	u := mustActiveUser(t, s, "twice@example.com")
	now := contractT0.Add(time.Hour)
	for _, tok := range []string{"first", "second"} {
		if err := s.PutResetToken(ctx, ResetToken{UserID: u.ID, TokenHash: hashOf(tok), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
			t.Fatalf("PutResetToken(%s): %v", tok, err)
		}
	}
	if _, err := s.ConsumeResetToken(ctx, hashOf("first"), "$h", now); !IsNotActive(err) {
		t.Fatalf("replaced token must be dead, got %v", err)
	}
	if _, err := s.ConsumeResetToken(ctx, hashOf("second"), "$h", now); err != nil {
		t.Fatalf("latest token: %v", err)
	}
}

func testResetExpired(t *testing.T, s Store) {
	ctx := context.Background()
	u := mustActiveUser(t, s, "stale@example.com")
	now := contractT0.Add(time.Hour)
	if err := s.PutResetToken(ctx, ResetToken{UserID: u.ID, TokenHash: hashOf("old"), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("PutResetToken: %v", err)
	}
	if _, err := s.ConsumeResetToken(ctx, hashOf("old"), "$h", now.Add(time.Hour)); !IsNotActive(err) {
		t.Fatalf("expected ErrNotActive at expiry, got %v", err)
	}
	stored, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if stored.PasswordHash != u.PasswordHash {
		t.Fatalf("password must be unchanged")
	}
}

func testResetUnknownUser(t *testing.T, s Store) {
	err := s.PutResetToken(context.Background(), ResetToken{
		UserID:    mustID(t),
		TokenHash: hashOf("x"),
		CreatedAt: contractT0,
		ExpiresAt: contractT0.Add(time.Hour),
	})
	if !IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func testPurge(t *testing.T, s Store) {
	ctx := context.Background()
	u := mustActiveUser(t, s, "purge@example.com")

	if err := s.CreatePendingSignup(ctx, newPending(t, "short@example.com", "888881", contractT0, 5*time.Minute), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}
	if err := s.CreatePendingSignup(ctx, newPending(t, "long@example.com", "888882", contractT0, time.Hour), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}
	if err := s.PutResetToken(ctx, ResetToken{UserID: u.ID, TokenHash: hashOf("r"), CreatedAt: contractT0, ExpiresAt: contractT0.Add(10 * time.Minute)}); err != nil {
		t.Fatalf("PutResetToken: %v", err)
	}

	res, err := s.PurgeExpired(ctx, contractT0.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if res.PendingSignups != 1 || res.ResetTokens != 1 {
		t.Fatalf("unexpected purge counts: %+v", res)
	}
	if _, err := s.GetPendingSignupByEmail(ctx, "long@example.com", contractT0.Add(30*time.Minute)); err != nil {
		t.Fatalf("live pending must survive purge: %v", err)
	}
}

func testUpdatePasswordHash(t *testing.T, s Store) {
	ctx := context.Background()
	u := mustActiveUser(t, s, "rehash@example.com")
	if err := s.UpdatePasswordHash(ctx, u.ID, "$argon2id$upgraded", contractT0.Add(time.Hour)); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.PasswordHash != "$argon2id$upgraded" {
		t.Fatalf("hash=%q", got.PasswordHash)
	}
	if err := s.UpdatePasswordHash(ctx, mustID(t), "$x", contractT0); !IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func testConcurrentConsume(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.CreatePendingSignup(ctx, newPending(t, "race@example.com", "999999", contractT0, 15*time.Minute), contractT0); err != nil {
		t.Fatalf("CreatePendingSignup: %v", err)
	}

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		unknown []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumePendingSignup(ctx, hashOf("999999"), mustIDNoT(), contractT0.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrNotActive):
			default:
				unknown = append(unknown, err)
			}
		}()
	}
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func mustIDNoT() string {
	id, err := ids.NewULID(time.Now())
	if err != nil {
		panic(err)
	}
	return id
}
