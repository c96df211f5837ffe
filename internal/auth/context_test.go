// ABOUTME: Tests for auth context propagation
// ABOUTME: Verifies WithAuth/FromContext round-trip and missing-context behavior

package auth

import (
	"context"
	"testing"
)

func TestAuthContext_RoundTrip(t *testing.T) {
	authCtx := &AuthContext{
		PrincipalID: "p-1",
		Username:    "alice",
		Role:        "trainer",
	}

	ctx := WithAuth(context.Background(), authCtx)
	got := FromContext(ctx)

	if got == nil {
		t.Fatal("FromContext() = nil, want AuthContext")
	}
	if got.PrincipalID != "p-1" || got.Username != "alice" || got.Role != "trainer" {
		t.Errorf("FromContext() = %+v", got)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %+v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext should panic without auth in context")
		}
	}()
	MustFromContext(context.Background())
}
