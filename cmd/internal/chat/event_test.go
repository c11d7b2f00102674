package chat

import (
	"testing"

	v1 "murmur/shared/contracts/chat/v1"
)

func TestParseEventKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in        string
		want      EventKind
		wantKnown bool
	}{
		{"CONNECT", EventConnect, true},
		{" disconnect ", EventDisconnect, true},
		{"Message", EventMessage, true},
		{"PING", EventPing, true},
		{"", "", false},
		{"FOO", "FOO", false},
	}
	for _, tc := range cases {
		got, known := ParseEventKind(tc.in)
		if got != tc.want || known != tc.wantKnown {
			t.Fatalf("ParseEventKind(%q)=(%q,%v) want=(%q,%v)", tc.in, got, known, tc.want, tc.wantKnown)
		}
	}
}

func TestParseOrEmpty(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		in     string
		want   RequestBody
		wantOK bool
	}{
		{
			name:   "full frame",
			in:     `{"action":"send_message","room":" lobby ","username":"alice","content":"hi","limit":5}`,
			want:   RequestBody{Action: v1.ActionSendMessage, Room: "lobby", Username: "alice", Content: "hi", Limit: 5},
			wantOK: true,
		},
		{
			name:   "legacy action spelling",
			in:     `{"action":"sendMessage","username":"bob","content":"yo","token":"captcha"}`,
			want:   RequestBody{Action: v1.ActionSendMessage, Username: "bob", Content: "yo"},
			wantOK: true,
		},
		{name: "empty", in: "", wantOK: true},
		{name: "whitespace", in: "  \n", wantOK: true},
		{name: "empty object", in: "{}", wantOK: true},
		{name: "malformed", in: "{nope", wantOK: false},
		{name: "array", in: "[1,2]", wantOK: false},
		{name: "wrong field type", in: `{"username":42}`, wantOK: false},
	}
	for _, tc := range cases {
		got, ok := ParseOrEmpty([]byte(tc.in))
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("%s: ParseOrEmpty=(%+v,%v) want=(%+v,%v)", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}
}
