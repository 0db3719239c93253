package identity

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_RejectsInvalidPending(t *testing.T) {
	s := NewMemoryStore()
	p := PendingSignup{
		ID:           "01J00000000000000000000000",
		Username:     "   ",
		Email:        "x@example.com",
		PasswordHash: "$h",
		CodeHash:     hashOf("1"),
		CreatedAt:    contractT0,
		ExpiresAt:    contractT0.Add(time.Minute),
	}
	if err := s.CreatePendingSignup(context.Background(), p, contractT0); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for blank username, got %v", err)
	}

	p.Username = "x"
	p.CodeHash = "short"
	if err := s.CreatePendingSignup(context.Background(), p, contractT0); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for bad code hash, got %v", err)
	}
}

func TestMemoryStore_HonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryStore().GetUserByID(ctx, "x"); err == nil {
		t.Fatalf("expected context error")
	}
}
