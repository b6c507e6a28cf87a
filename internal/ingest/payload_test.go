package ingest

import (
	"errors"
	"testing"
)

func TestParseTelegramMessage(t *testing.T) {
	payload := []byte(`{"update_id":1,"message":{"message_id":42,"from":{"id":777,"first_name":"Ann"},"chat":{"id":777},"text":"hello"}}`)

	units, skipped, err := parseTelegram(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skipped units, got %d", skipped)
	}
	if len(units) != 1 {
		t.Fatalf("expected one unit, got %d", len(units))
	}
	u := units[0]
	if u.MessageID != "42" || u.SenderID != "777" {
		t.Fatalf("unexpected ids: %+v", u)
	}
	if u.Text == nil || *u.Text != "hello" {
		t.Fatalf("unexpected text: %+v", u.Text)
	}
}

func TestParseTelegramNonMessageUpdate(t *testing.T) {
	units, skipped, err := parseTelegram([]byte(`{"update_id":2,"edited_message":{"message_id":1}}`))
	if err != nil {
		t.Fatalf("non-message update should be acknowledged, got %v", err)
	}
	if len(units) != 0 || skipped != 0 {
		t.Fatalf("expected zero units, got %d units %d skipped", len(units), skipped)
	}
}

func TestParseTelegramTextlessMessage(t *testing.T) {
	units, _, err := parseTelegram([]byte(`{"message":{"message_id":5,"from":{"id":9}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("expected one unit, got %d", len(units))
	}
	if units[0].Text != nil {
		t.Fatalf("textless telegram message should keep text nil, got %q", *units[0].Text)
	}
}

func TestParseTelegramFailsClosed(t *testing.T) {
	cases := map[string]string{
		"missing message_id": `{"message":{"from":{"id":9},"text":"hi"}}`,
		"missing from":       `{"message":{"message_id":5,"text":"hi"}}`,
		"missing from.id":    `{"message":{"message_id":5,"from":{},"text":"hi"}}`,
		"not json":           `{`,
	}
	for name, payload := range cases {
		if _, _, err := parseTelegram([]byte(payload)); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("%s: expected ErrMalformedPayload, got %v", name, err)
		}
	}
}

func TestParseWhatsAppFanOut(t *testing.T) {
	payload := []byte(`{"messages":[
		{"id":"wamid.1","from":"15550001","text":{"body":"first"}},
		{"id":"wamid.2","from":"15550002"},
		{"id":"wamid.3","from":"15550003","text":{"body":"third"}}
	]}`)

	units, skipped, err := parseWhatsApp(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skipped units, got %d", skipped)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(units))
	}
	if units[0].MessageID != "wamid.1" || units[0].SenderID != "15550001" || *units[0].Text != "first" {
		t.Fatalf("unexpected first unit: %+v", units[0])
	}
	if *units[1].Text != "" {
		t.Fatalf("textless whatsapp message should default to empty string, got %q", *units[1].Text)
	}
	if units[2].MessageID != "wamid.3" {
		t.Fatalf("unexpected third unit: %+v", units[2])
	}
}

func TestParseWhatsAppIsolatesBadUnits(t *testing.T) {
	payload := []byte(`{"messages":[
		{"id":"wamid.1","from":"15550001","text":{"body":"ok"}},
		{"from":"15550002"},
		{"id":"wamid.3"},
		{"id":"wamid.4","from":"15550004"}
	]}`)

	units, skipped, err := parseWhatsApp(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped units, got %d", skipped)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 good units, got %d", len(units))
	}
}

func TestParseWhatsAppMissingMessages(t *testing.T) {
	if _, _, err := parseWhatsApp([]byte(`{"statuses":[]}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestParseInstagramNestedFanOut(t *testing.T) {
	payload := []byte(`{"entry":[
		{"messaging":[
			{"sender":{"id":"ig1"},"message":{"mid":"m1","text":"hey"}},
			{"sender":{"id":"ig2"},"read":{"watermark":1}}
		]},
		{"messaging":[
			{"sender":{"id":"ig3"},"message":{"mid":"m3"}}
		]}
	]}`)

	units, skipped, err := parseInstagram(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skipped units, got %d", skipped)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].MessageID != "m1" || units[0].SenderID != "ig1" || *units[0].Text != "hey" {
		t.Fatalf("unexpected first unit: %+v", units[0])
	}
	if *units[1].Text != "" {
		t.Fatalf("textless instagram message should default to empty string, got %q", *units[1].Text)
	}
}

func TestParseInstagramSkipsIncompleteMessages(t *testing.T) {
	payload := []byte(`{"entry":[
		{"messaging":[
			{"message":{"mid":"m1","text":"no sender"}},
			{"sender":{"id":"ig2"},"message":{"text":"no mid"}},
			{"sender":{"id":"ig3"},"message":{"mid":"m3","text":"ok"}}
		]}
	]}`)

	units, skipped, err := parseInstagram(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped units, got %d", skipped)
	}
	if len(units) != 1 || units[0].MessageID != "m3" {
		t.Fatalf("expected only the complete unit, got %+v", units)
	}
}

func TestParseInstagramMissingEntry(t *testing.T) {
	if _, _, err := parseInstagram([]byte(`{"object":"instagram"}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}
