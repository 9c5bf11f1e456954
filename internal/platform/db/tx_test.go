package db

import (
	"context"
	"errors"
	"testing"
)

func TestWithTx_NoConnection(t *testing.T) {
	ctx := context.Background()
	got, tx, err := WithTx(ctx)
	if err == nil {
		t.Fatal("expected error without a connection in context")
	}
	if tx != nil {
		t.Error("expected nil transaction")
	}
	if got != ctx {
		t.Error("expected the original context back")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected nil transaction for empty context")
	}
	if ConnFromContext(context.Background()) != nil {
		t.Error("expected nil connection for empty context")
	}
}

func TestNopTransactor(t *testing.T) {
	called := false
	err := NopTransactor{}.InTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run without error, called=%v err=%v", called, err)
	}

	boom := errors.New("boom")
	if err := (NopTransactor{}).InTx(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected fn error to propagate, got %v", err)
	}
}
