package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"zonemarket/internal/model"
)

// messageAliases lists, per field, the wire names a message may use. The
// first name present wins.
var messageAliases = map[string][]string{
	"id":              {"id"},
	"temp_id":         {"temp_id", "tempId"},
	"conversation_id": {"conversation_id", "conversationId"},
	"sender_id":       {"sender_id", "senderId"},
	"text":            {"text", "content"},
	"image":           {"image", "image_url", "imageUrl"},
	"read":            {"read", "is_read", "isRead"},
	"created_at":      {"created_at", "createdAt"},
	"sender":          {"sender"},
}

// timeLayouts are tried in order for string timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02 15:04:05",
}

// NormalizeMessage decodes any wire shape of a message into a Message.
// A missing id is not an error; the caller decides what an id-less message
// means. Text is NFC normalized.
func NormalizeMessage(raw []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return Message{}, fmt.Errorf("%w: message: %v", ErrMalformedResponse, err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("%w: message is null", ErrMalformedResponse)
	}
	return normalizeFields(fields)
}

func lookup(fields map[string]interface{}, name string) (interface{}, bool) {
	for _, alias := range messageAliases[name] {
		if v, ok := fields[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func normalizeFields(fields map[string]interface{}) (Message, error) {
	var (
		m   Message
		err error
	)

	if v, ok := lookup(fields, "id"); ok {
		if m.ID, err = toInt(v); err != nil {
			return Message{}, fmt.Errorf("%w: id: %v", ErrMalformedResponse, err)
		}
	}
	if v, ok := lookup(fields, "temp_id"); ok {
		m.TempID, _ = v.(string)
	}
	if v, ok := lookup(fields, "conversation_id"); ok {
		if m.ConversationID, err = toInt(v); err != nil {
			return Message{}, fmt.Errorf("%w: conversation_id: %v", ErrMalformedResponse, err)
		}
	}

	if v, ok := lookup(fields, "sender"); ok {
		if obj, isObj := v.(map[string]interface{}); isObj {
			m.Sender = &model.UserBrief{}
			if id, ok := obj["id"]; ok && id != nil {
				m.Sender.ID, _ = toInt(id)
			}
			m.Sender.Name, _ = obj["name"].(string)
			m.Sender.Avatar, _ = obj["avatar"].(string)
		}
	}
	if v, ok := lookup(fields, "sender_id"); ok {
		if m.SenderID, err = toInt(v); err != nil {
			return Message{}, fmt.Errorf("%w: sender_id: %v", ErrMalformedResponse, err)
		}
	} else if m.Sender != nil {
		m.SenderID = m.Sender.ID
	}

	if v, ok := lookup(fields, "text"); ok {
		if s, isStr := v.(string); isStr {
			m.Text = norm.NFC.String(s)
		}
	}
	if v, ok := lookup(fields, "image"); ok {
		m.Image = imageRef(v)
	}
	if v, ok := lookup(fields, "read"); ok {
		m.Read = toBool(v)
	}
	if v, ok := lookup(fields, "created_at"); ok {
		if m.CreatedAt, err = toTime(v); err != nil {
			return Message{}, fmt.Errorf("%w: created_at: %v", ErrMalformedResponse, err)
		}
	}
	return m, nil
}

// imageRef accepts a plain string or an object carrying uri or url.
func imageRef(v interface{}) string {
	switch img := v.(type) {
	case string:
		return img
	case map[string]interface{}:
		for _, k := range []string{"uri", "url"} {
			if s, ok := img[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func toInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("not an integer: %s", n)
		}
		return int64(f), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int64(n), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, fmt.Errorf("unexpected %T", v)
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case json.Number:
		return b.String() != "0"
	case float64:
		return b != 0
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	}
	return false
}

// toTime accepts RFC3339 strings, "Y-m-d H:i:s" strings in UTC and unix
// milliseconds.
func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unknown time format %q", t)
	case json.Number, float64:
		ms, err := toInt(t)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unexpected %T", v)
}
