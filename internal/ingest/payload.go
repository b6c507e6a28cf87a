package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedPayload marks a webhook body whose envelope cannot be parsed at
// all. Individual fan-out units that fail to parse are skipped and counted
// instead, so one bad unit does not block its siblings.
var ErrMalformedPayload = errors.New("malformed payload")

// Unit is one normalized inbound message extracted from a platform payload.
// Text is nil when the platform distinguishes "no text" from an empty body
// (telegram); whatsapp and instagram default missing bodies to "".
type Unit struct {
	MessageID string
	SenderID  string
	Text      *string
}

type telegramUpdate struct {
	Message *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID *int64        `json:"message_id"`
	From      *telegramUser `json:"from"`
	Text      *string       `json:"text"`
}

type telegramUser struct {
	ID *int64 `json:"id"`
}

// parseTelegram extracts at most one unit. Updates without a message field
// (edits, callbacks, member events) are acknowledged with zero units.
func parseTelegram(raw []byte) ([]Unit, int, error) {
	var upd telegramUpdate
	if err := json.Unmarshal(raw, &upd); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if upd.Message == nil {
		return nil, 0, nil
	}
	if upd.Message.MessageID == nil || upd.Message.From == nil || upd.Message.From.ID == nil {
		return nil, 0, fmt.Errorf("%w: message missing message_id or from.id", ErrMalformedPayload)
	}
	return []Unit{{
		MessageID: strconv.FormatInt(*upd.Message.MessageID, 10),
		SenderID:  strconv.FormatInt(*upd.Message.From.ID, 10),
		Text:      upd.Message.Text,
	}}, 0, nil
}

type whatsappNotification struct {
	Messages *[]json.RawMessage `json:"messages"`
}

type whatsappMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

// parseWhatsApp fans out over the messages array: one unit per well-formed
// entry, malformed entries skipped and counted.
func parseWhatsApp(raw []byte) ([]Unit, int, error) {
	var n whatsappNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if n.Messages == nil {
		return nil, 0, fmt.Errorf("%w: messages array missing", ErrMalformedPayload)
	}

	units := make([]Unit, 0, len(*n.Messages))
	skipped := 0
	for _, entry := range *n.Messages {
		var m whatsappMessage
		if err := json.Unmarshal(entry, &m); err != nil || m.ID == "" || m.From == "" {
			skipped++
			continue
		}
		body := ""
		if m.Text != nil {
			body = m.Text.Body
		}
		units = append(units, Unit{MessageID: m.ID, SenderID: m.From, Text: &body})
	}
	return units, skipped, nil
}

type instagramNotification struct {
	Entry *[]instagramEntry `json:"entry"`
}

type instagramEntry struct {
	Messaging []json.RawMessage `json:"messaging"`
}

type instagramMessaging struct {
	Sender *struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		MID  string `json:"mid"`
		Text string `json:"text"`
	} `json:"message"`
}

// parseInstagram walks entry[].messaging[]. Messaging elements without a
// message field (delivery receipts, read events) contribute nothing; elements
// with a message but missing mid or sender.id are skipped and counted.
func parseInstagram(raw []byte) ([]Unit, int, error) {
	var n instagramNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if n.Entry == nil {
		return nil, 0, fmt.Errorf("%w: entry array missing", ErrMalformedPayload)
	}

	units := make([]Unit, 0)
	skipped := 0
	for _, e := range *n.Entry {
		for _, raw := range e.Messaging {
			var m instagramMessaging
			if err := json.Unmarshal(raw, &m); err != nil {
				skipped++
				continue
			}
			if m.Message == nil {
				continue
			}
			if m.Message.MID == "" || m.Sender == nil || m.Sender.ID == "" {
				skipped++
				continue
			}
			text := m.Message.Text
			units = append(units, Unit{MessageID: m.Message.MID, SenderID: m.Sender.ID, Text: &text})
		}
	}
	return units, skipped, nil
}
