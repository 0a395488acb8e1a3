package events

import (
	"encoding/json"
	"strings"
)

// Kind is the semantic bucket of a lifecycle event.
type Kind int

const (
	KindOther Kind = iota
	KindCallStarted
	KindCallEnded
)

func (k Kind) String() string {
	switch k {
	case KindCallStarted:
		return "call_started"
	case KindCallEnded:
		return "call_ended"
	default:
		return "other"
	}
}

// CallEvent is the normalized form of an inner event.
type CallEvent struct {
	Kind   Kind
	CallID string
	UserID string
	// Rule names the matcher that produced Kind, for logs and tests.
	Rule string
}

// rawEvent holds the fields every matcher looks at. Nested objects stay as
// generic maps because their field names differ between API generations.
type rawEvent struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	CallID  string          `json:"call_id"`
	User    json.RawMessage `json:"user"`
	UserID  string          `json:"user_id"`
	Call    map[string]any  `json:"call"`
	Room    map[string]any  `json:"room"`
	Message struct {
		Room map[string]any `json:"room"`
	} `json:"message"`
}

type rule struct {
	name  string
	match func(*rawEvent) Kind
}

var (
	startTypes = set("call_started", "call.started", "call_start")
	endTypes   = set("call_ended", "call.ended", "call_end")

	startSubtypes = set("sh_room_created", "call_started")
	endSubtypes   = set("sh_room_ended", "call_ended")
)

// rules are evaluated in order; the first one returning a non-Other kind wins.
var rules = []rule{
	{"type", func(e *rawEvent) Kind {
		switch t := strings.ToLower(e.Type); {
		case startTypes[t]:
			return KindCallStarted
		case endTypes[t]:
			return KindCallEnded
		}
		return KindOther
	}},
	{"message_subtype", func(e *rawEvent) Kind {
		if e.Type != "message" {
			return KindOther
		}
		switch st := strings.ToLower(e.Subtype); {
		case startSubtypes[st]:
			return KindCallStarted
		case endSubtypes[st]:
			return KindCallEnded
		}
		return KindOther
	}},
	{"room", func(e *rawEvent) Kind {
		room := e.Room
		if room == nil {
			room = e.Message.Room
		}
		if room == nil {
			return KindOther
		}
		if truthy(room["has_ended"]) || nonZero(room["date_end"]) {
			return KindCallEnded
		}
		label := strings.ToLower(e.Type + " " + e.Subtype)
		if strings.Contains(label, "room") || strings.Contains(label, "huddle") {
			return KindCallStarted
		}
		return KindOther
	}},
	{"call_object", func(e *rawEvent) Kind {
		if e.Call == nil {
			return KindOther
		}
		if nonZero(e.Call["date_end"]) || nonZero(e.Call["date_ended"]) || nonZero(e.Call["ended_at"]) {
			return KindCallEnded
		}
		if nonZero(e.Call["date_start"]) || nonZero(e.Call["started_at"]) {
			return KindCallStarted
		}
		return KindOther
	}},
}

// Classify maps an inner event to a CallEvent. Unparsable input and events
// no rule recognizes are KindOther.
func Classify(raw json.RawMessage) CallEvent {
	var e rawEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return CallEvent{Kind: KindOther, Rule: "unparsable"}
	}
	out := CallEvent{Kind: KindOther, Rule: "none"}
	for _, r := range rules {
		if k := r.match(&e); k != KindOther {
			out.Kind = k
			out.Rule = r.name
			break
		}
	}
	out.CallID = firstString(
		e.CallID,
		str(e.Call["id"]),
		str(e.Room["id"]),
		str(e.Message.Room["id"]),
	)
	out.UserID = firstString(
		userField(e.User),
		e.UserID,
		str(e.Call["created_by"]),
		str(e.Room["created_by"]),
		str(e.Message.Room["created_by"]),
	)
	return out
}

// userField accepts both "user":"U1" and "user":{"id":"U1"}.
func userField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.ID
	}
	return ""
}

func set(vals ...string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}

// nonZero treats numbers other than 0 and non-empty strings other than "0"
// as set; timestamps arrive as either.
func nonZero(v any) bool {
	switch t := v.(type) {
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0"
	case bool:
		return t
	}
	return false
}
