package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	k, err := NewKeyring("k1", map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	sealed, err := k.Seal("telegram-bot-token")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, "k1:") {
		t.Fatalf("sealed value missing key id prefix: %q", sealed)
	}

	out, err := k.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "telegram-bot-token" {
		t.Fatalf("expected original token, got %q", out)
	}
}

func TestRotationOpensOldSealsNew(t *testing.T) {
	oldKey := mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	newKey := mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")

	oldRing, err := NewKeyring("old", map[string][]byte{"old": oldKey})
	if err != nil {
		t.Fatalf("old keyring: %v", err)
	}
	legacySealed, err := oldRing.Seal("legacy-token")
	if err != nil {
		t.Fatalf("seal with old key: %v", err)
	}

	rotated, err := NewKeyring("new", map[string][]byte{"old": oldKey, "new": newKey})
	if err != nil {
		t.Fatalf("rotated keyring: %v", err)
	}

	plain, err := rotated.Open(legacySealed)
	if err != nil {
		t.Fatalf("open legacy value: %v", err)
	}
	if plain != "legacy-token" {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	resealed, err := rotated.Reseal(legacySealed)
	if err != nil {
		t.Fatalf("reseal: %v", err)
	}
	if !strings.HasPrefix(resealed, "new:") {
		t.Fatalf("reseal should use current key, got %q", resealed)
	}
	if out, err := rotated.Open(resealed); err != nil || out != "legacy-token" {
		t.Fatalf("open resealed value: %v %q", err, out)
	}
}

func TestOpenRejectsMalformedValue(t *testing.T) {
	k, err := NewKeyring("k1", map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	for _, sealed := range []string{"", "no-separators", "bad:AAAA:AAAA"} {
		if _, err := k.Open(sealed); err == nil {
			t.Fatalf("expected error opening %q", sealed)
		}
	}
}

func mustKey(t *testing.T, b64 string) []byte {
	t.Helper()
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k))
	}
	return k
}
