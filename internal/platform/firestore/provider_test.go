package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/plate-market/api/internal/platform/config"
)

func TestProviderRequiresProject(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	p := NewProvider(config.FirestoreConfig{})
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProjectRequired) {
		t.Fatalf("expected ErrProjectRequired, got %v", err)
	}
}

func TestProviderClosed(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "plates"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestProviderDialTimeout(t *testing.T) {
	if p := NewProvider(config.FirestoreConfig{}, WithDialTimeout(3*time.Second)); p.dialTimeout != 3*time.Second {
		t.Fatalf("expected configured dial timeout, got %s", p.dialTimeout)
	}
	// An unset config value keeps the default.
	if p := NewProvider(config.FirestoreConfig{}, WithDialTimeout(0)); p.dialTimeout != defaultDialTimeout {
		t.Fatalf("expected default dial timeout, got %s", p.dialTimeout)
	}
}

func TestWrapErrorClassification(t *testing.T) {
	if WrapError("plates.get", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if err := WrapError("plates.get", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	notFound := WrapError("plates.get", status.Error(codes.NotFound, "no doc"))
	if !IsNotFound(notFound) {
		t.Fatalf("expected not found classification for %v", notFound)
	}
	if notFound.Error() != "plates.get: rpc error: code = NotFound desc = no doc" {
		t.Fatalf("unexpected message %q", notFound.Error())
	}

	var repoErr *Error
	if !errors.As(WrapError("plates.update", status.Error(codes.Unavailable, "down")), &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("expected unavailable classification")
	}
	if WrapError("outer", notFound) != notFound {
		t.Fatalf("expected already wrapped errors to pass through")
	}
}
