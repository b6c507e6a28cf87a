package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"botdeck/internal/auth"
	"botdeck/internal/crypto"
	"botdeck/internal/files"
	"botdeck/internal/ingest"
	"botdeck/internal/stats"
	"botdeck/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:httpapi_%s?mode=memory&cache=shared", t.Name())
	store, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	keyring, err := crypto.NewKeyring("k1", map[string][]byte{
		"k1": bytes.Repeat([]byte{0x42}, 32),
	})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	uploads, err := files.NewStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("new uploads store: %v", err)
	}

	srv := New(Config{
		Store:    store,
		Sessions: auth.NewSessions(rdb, time.Hour),
		Keyring:  keyring,
		Ingestor: ingest.New(ingest.Config{Store: store, Logger: zerolog.Nop()}),
		Stats:    stats.New(store),
		Uploads:  uploads,
		Logger:   zerolog.Nop(),
	})

	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp, raw
}

func registerUser(t *testing.T, ts *httptest.Server, email string) string {
	t.Helper()
	resp, raw := doJSON(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register %s: status %d: %s", email, resp.StatusCode, raw)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if out.Token == "" {
		t.Fatal("register returned empty token")
	}
	return out.Token
}

func createBot(t *testing.T, ts *httptest.Server, token, platform string, active bool) int64 {
	t.Helper()
	resp, raw := doJSON(t, ts, http.MethodPost, "/bots", token, map[string]any{
		"platform": platform,
		"name":     platform + " bot",
		"isActive": active,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create %s bot: status %d: %s", platform, resp.StatusCode, raw)
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode bot response: %v", err)
	}
	return out.ID
}

func TestRegisterLoginFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	token := registerUser(t, ts, "owner@example.com")

	resp, raw := doJSON(t, ts, http.MethodGet, "/user", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get user: status %d: %s", resp.StatusCode, raw)
	}
	var u struct {
		Email *string `json:"email"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.Email == nil || *u.Email != "owner@example.com" {
		t.Fatalf("unexpected user email: %+v", u.Email)
	}

	resp, raw = doJSON(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "owner@example.com",
		"password": "anotherpassword",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register: status %d: %s", resp.StatusCode, raw)
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "owner@example.com",
		"password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "owner@example.com",
		"password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password login: status %d", resp.StatusCode)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerUser(t, ts, "revoke@example.com")

	resp, _ := doJSON(t, ts, http.MethodPost, "/auth/logout", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/user", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/stats", "/recent-activity", "/bots", "/user"} {
		resp, _ := doJSON(t, ts, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s without token: status %d", path, resp.StatusCode)
		}
		resp, _ = doJSON(t, ts, http.MethodGet, path, "not-a-real-token", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s with bogus token: status %d", path, resp.StatusCode)
		}
	}
}

func TestCreateBotRejectsUnknownPlatform(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerUser(t, ts, "platforms@example.com")

	resp, raw := doJSON(t, ts, http.MethodPost, "/bots", token, map[string]any{
		"platform": "signal",
		"name":     "nope",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown platform, got %d: %s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, ts, http.MethodGet, "/bots", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list bots: status %d", resp.StatusCode)
	}
	var bots []json.RawMessage
	if err := json.Unmarshal(raw, &bots); err != nil {
		t.Fatalf("decode bots: %v", err)
	}
	if len(bots) != 0 {
		t.Fatalf("rejected create still produced %d bots", len(bots))
	}
}

func TestBotLifecycleNeverEchoesToken(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerUser(t, ts, "lifecycle@example.com")

	const botToken = "123456:super-secret-credential"
	resp, raw := doJSON(t, ts, http.MethodPost, "/bots", token, map[string]any{
		"platform": "telegram",
		"name":     "support bot",
		"token":    botToken,
		"isActive": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create bot: status %d: %s", resp.StatusCode, raw)
	}
	if strings.Contains(string(raw), botToken) {
		t.Fatal("create response leaked the bot token")
	}
	var created struct {
		ID       int64 `json:"id"`
		HasToken bool  `json:"hasToken"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode bot: %v", err)
	}
	if !created.HasToken {
		t.Fatal("expected hasToken=true")
	}

	newName := "renamed bot"
	resp, raw = doJSON(t, ts, http.MethodPut, fmt.Sprintf("/bots/%d", created.ID), token, map[string]any{
		"name": newName,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update bot: status %d: %s", resp.StatusCode, raw)
	}
	var updated struct {
		Name     string `json:"name"`
		HasToken bool   `json:"hasToken"`
	}
	if err := json.Unmarshal(raw, &updated); err != nil {
		t.Fatalf("decode updated bot: %v", err)
	}
	if updated.Name != newName || !updated.HasToken {
		t.Fatalf("unexpected updated bot: %+v", updated)
	}

	resp, _ = doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/bots/%d", created.ID), token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete bot: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/bots/%d", created.ID), token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: status %d", resp.StatusCode)
	}
}

func TestBotAccessIsOwnerScoped(t *testing.T) {
	ts, _ := newTestServer(t)
	owner := registerUser(t, ts, "scoped-owner@example.com")
	other := registerUser(t, ts, "scoped-other@example.com")

	id := createBot(t, ts, owner, storage.PlatformTelegram, true)

	resp, _ := doJSON(t, ts, http.MethodPut, fmt.Sprintf("/bots/%d", id), other, map[string]any{
		"name": "hijacked",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-user update: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/bots/%d", id), other, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-user delete: status %d", resp.StatusCode)
	}
}

func TestTelegramWebhookWithoutMessageLogsNothing(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerUser(t, ts, "tg-nomsg@example.com")
	id := createBot(t, ts, token, storage.PlatformTelegram, true)

	resp, raw := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/webhooks/telegram/%d", id), "", map[string]any{
		"update_id": 7,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status %d: %s", resp.StatusCode, raw)
	}
	var ack struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || !ack.OK {
		t.Fatalf("expected {\"ok\":true}, got %s", raw)
	}

	_, raw = doJSON(t, ts, http.MethodGet, "/recent-activity", token, nil)
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode recent activity: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("messageless update produced %d log rows", len(entries))
	}
}

func TestTelegramWebhookLogsMessage(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerUser(t, ts, "tg-msg@example.com")
	id := createBot(t, ts, token, storage.PlatformTelegram, true)

	resp, raw := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/webhooks/telegram/%d", id), "", map[string]any{
		"update_id": 8,
		"message": map[string]any{
			"message_id": 100,
			"from":       map[string]any{"id": 555},
			"text":       "hello there",
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status %d: %s", resp.StatusCode, raw)
	}

	_, raw = doJSON(t, ts, http.MethodGet, "/recent-activity", token, nil)
	var entries []struct {
		Platform       string  `json:"platform"`
		SenderID       *string `json:"senderId"`
		MessageText    *string `json:"messageText"`
		IsAutoResponse bool    `json:"isAutoResponse"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode recent activity: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Platform != storage.PlatformTelegram || !e.IsAutoResponse {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.SenderID == nil || *e.SenderID != "555" {
		t.Fatalf("unexpected sender: %+v", e.SenderID)
	}
	if e.MessageText == nil || *e.MessageText != "hello there" {
		t.Fatalf("unexpected text: %+v", e.MessageText)
	}
}

func TestWhatsAppWebhookFansOut(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerUser(t, ts, "wa-fanout@example.com")
	id := createBot(t, ts, token, storage.PlatformWhatsApp, true)

	resp, raw := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/webhooks/whatsapp/%d", id), "", map[string]any{
		"messages": []map[string]any{
			{"id": "wamid.1", "from": "491700000001", "text": map[string]string{"body": "first"}},
			{"id": "wamid.2", "from": "491700000002", "text": map[string]string{"body": "second"}},
			{"id": "wamid.3", "from": "491700000003"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status %d: %s", resp.StatusCode, raw)
	}
	var ack struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Status != "success" {
		t.Fatalf("expected {\"status\":\"success\"}, got %s", raw)
	}

	resp, raw = doJSON(t, ts, http.MethodGet, "/stats", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status %d", resp.StatusCode)
	}
	var summary struct {
		TotalMessages   int64 `json:"totalMessages"`
		ActiveBots      int64 `json:"activeBots"`
		AvgResponseTime int64 `json:"avgResponseTime"`
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if summary.TotalMessages != 3 || summary.ActiveBots != 1 || summary.AvgResponseTime != 150 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestWebhookPlatformMismatch(t *testing.T) {
	ts, store := newTestServer(t)
	token := registerUser(t, ts, "mismatch@example.com")
	id := createBot(t, ts, token, storage.PlatformTelegram, true)

	resp, raw := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/webhooks/whatsapp/%d", id), "", map[string]any{
		"messages": []map[string]any{
			{"id": "wamid.x", "from": "491700000009"},
		},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for platform mismatch, got %d: %s", resp.StatusCode, raw)
	}

	var count int
	if err := store.DB().QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM message_logs").Scan(&count); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 0 {
		t.Fatalf("mismatched delivery wrote %d rows", count)
	}
}

func TestWebhookUnknownBot(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodPost, "/webhooks/telegram/9999", "", map[string]any{
		"update_id": 1,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown bot, got %d", resp.StatusCode)
	}
}

func TestRedeliveryIsNotDeduplicated(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerUser(t, ts, "redelivery@example.com")
	id := createBot(t, ts, token, storage.PlatformInstagram, true)

	payload := map[string]any{
		"entry": []map[string]any{{
			"messaging": []map[string]any{{
				"sender":  map[string]string{"id": "ig-777"},
				"message": map[string]string{"mid": "mid.abc", "text": "hi"},
			}},
		}},
	}
	for i := 0; i < 2; i++ {
		resp, raw := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/webhooks/instagram/%d", id), "", payload)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d: status %d: %s", i, resp.StatusCode, raw)
		}
	}

	_, raw := doJSON(t, ts, http.MethodGet, "/recent-activity", token, nil)
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode recent activity: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected duplicate rows on redelivery, got %d", len(entries))
	}
}
