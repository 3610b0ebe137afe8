package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/tidewater-ai/conduit/internal/store"
	"github.com/tidewater-ai/conduit/providers"
)

func openTestStore(t *testing.T) (*Store, *store.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}
	s, err := Open(db, filepath.Join(dir, "secret.key"))
	if err != nil {
		t.Fatalf("open credential store: %v", err)
	}
	return s, db
}

func TestPutTokenDeleteRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, providers.Groq, "gsk_secret", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	token, ok, err := s.Token(ctx, providers.Groq)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !ok || token != "gsk_secret" {
		t.Errorf("Token = %q, %v", token, ok)
	}

	if err := s.Delete(ctx, providers.Groq); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := s.Token(ctx, providers.Groq); err != nil || ok {
		t.Errorf("after delete: ok=%v err=%v", ok, err)
	}
}

func TestPutReplacesExistingToken(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, providers.OpenAI, "first", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, providers.OpenAI, "second", "https://proxy.example.com/v1"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	token, ok, err := s.Token(ctx, providers.OpenAI)
	if err != nil || !ok {
		t.Fatalf("Token: ok=%v err=%v", ok, err)
	}
	if token != "second" {
		t.Errorf("token = %q, want %q", token, "second")
	}

	override, err := s.BaseURLOverride(ctx, providers.OpenAI)
	if err != nil {
		t.Fatalf("BaseURLOverride: %v", err)
	}
	if override != "https://proxy.example.com/v1" {
		t.Errorf("override = %q", override)
	}
}

func TestTokenCorruptCiphertext(t *testing.T) {
	s, db := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, providers.Mistral, "secret", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := db.Exec(ctx,
		"UPDATE credentials SET ciphertext = ? WHERE provider = ?",
		[]byte("garbage"), string(providers.Mistral)); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	_, _, err := s.Token(ctx, providers.Mistral)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestListReturnsEnumOrder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	// Insert out of enum order.
	for _, p := range []providers.Provider{providers.Anthropic, providers.Groq, providers.Google} {
		if err := s.Put(ctx, p, "tok", ""); err != nil {
			t.Fatalf("Put %s: %v", p, err)
		}
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []providers.Provider{providers.Groq, providers.Google, providers.Anthropic}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestKeyFileReusedAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}

	keyPath := filepath.Join(dir, "keys", "secret.key")
	first, err := Open(db, keyPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := first.Put(ctx, providers.Cohere, "persistent", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	second, err := Open(db, keyPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	token, ok, err := second.Token(ctx, providers.Cohere)
	if err != nil || !ok {
		t.Fatalf("Token: ok=%v err=%v", ok, err)
	}
	if token != "persistent" {
		t.Errorf("token = %q after reopen", token)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(keyPath)
		if err != nil {
			t.Fatalf("stat key file: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("key file mode = %o, want 600", perm)
		}
	}
}

func TestOpenRejectsShortKey(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	keyPath := filepath.Join(dir, "secret.key")
	if err := os.WriteFile(keyPath, []byte("short"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := Open(db, keyPath); err == nil {
		t.Error("expected error for truncated key file")
	}
}

func TestResolveBaseURLPrecedence(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	// No row, no config default.
	got, err := s.ResolveBaseURL(ctx, providers.DeepSeek, "")
	if err != nil || got != "" {
		t.Errorf("empty case = %q, %v", got, err)
	}

	// Config default only.
	got, err = s.ResolveBaseURL(ctx, providers.DeepSeek, "https://cfg.example.com")
	if err != nil || got != "https://cfg.example.com" {
		t.Errorf("config case = %q, %v", got, err)
	}

	// Row override wins.
	if err := s.Put(ctx, providers.DeepSeek, "tok", "https://row.example.com"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err = s.ResolveBaseURL(ctx, providers.DeepSeek, "https://cfg.example.com")
	if err != nil || got != "https://row.example.com" {
		t.Errorf("override case = %q, %v", got, err)
	}
}
