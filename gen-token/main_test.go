package main

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"prism-board/api"
)

func TestUserIDs(t *testing.T) {
	if got := userIDs(1, "u", 1, []string{"alice"}); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("explicit id: %v", got)
	}
	if got := userIDs(1, "u", 1, nil); got[0] != "u" {
		t.Fatalf("single: %v", got)
	}
	got := userIDs(3, "u", 5, nil)
	if len(got) != 3 || got[0] != "u-5" || got[2] != "u-7" {
		t.Fatalf("range: %v", got)
	}
}

func TestGeneratedTokensAreAccepted(t *testing.T) {
	tokens, err := generate("s3cret", "prism", []string{"u-1", "u-2"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	auth := api.NewTestAuth([]byte("s3cret"), "prism", "")
	for i, tok := range tokens {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		user, err := auth.UserID(req)
		if err != nil {
			t.Fatalf("token %d rejected: %v", i, err)
		}
		if want := []string{"u-1", "u-2"}[i]; user != want {
			t.Fatalf("token %d: got user %q want %q", i, user, want)
		}
	}
}

func TestGenerateRequiresSecret(t *testing.T) {
	if _, err := generate("", "", []string{"u"}, time.Now()); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestWriteTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatalf("writeTokens: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []string
	if err := sonic.Unmarshal(data, &got); err != nil || len(got) != 2 {
		t.Fatalf("unexpected file %q: %v", data, err)
	}
}
