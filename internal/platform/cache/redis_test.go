package cache

import "testing"

func TestNewRedisStoreValidation(t *testing.T) {
	if _, err := NewRedisStore(nil, "", 0); err == nil {
		t.Fatalf("expected error for nil client")
	}
	client, err := NewRedisClient("redis://localhost:6379/2")
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()
	store, err := NewRedisStore(client, "  ", 0)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	if store.key("abc") != defaultKeyPrefix+"abc" {
		t.Fatalf("unexpected key %q", store.key("abc"))
	}
	if _, err := NewRedisClient("http://nope"); err == nil {
		t.Fatalf("expected invalid scheme to fail")
	}
}
