package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_AttrsGroupsAndQuoting(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.With("connection_id", "01J0").
		WithGroup("push").
		Info("chat.fanout", "targets", 3, slog.Group("timeout", "ms", 2000), "body", "hello world")

	out := strings.TrimSpace(buf.String())
	for _, want := range []string{
		"msg=chat.fanout",
		" connection_id=01J0",
		"push.targets=3",
		"push.timeout.ms=2000",
		`push.body="hello world"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestPrettyHandler_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}
	log.Error("kept", "err", errors.New("boom"))
	if !strings.Contains(buf.String(), "lvl=[ERROR] msg=kept") || !strings.Contains(buf.String(), "err=boom") {
		t.Fatalf("output=%q", buf.String())
	}
}

func TestPrettyHandler_Colors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key  string
		val  any
		want string
	}{
		{key: "status", val: 200, want: ansiGreen + "200" + ansiReset},
		{key: "status", val: 404, want: ansiYellow + "404" + ansiReset},
		{key: "status", val: 503, want: ansiRed + "503" + ansiReset},
		{key: "err", val: "boom", want: ansiRed + "boom" + ansiReset},
		{key: "room", val: "general", want: ansiCyan + "general" + ansiReset},
		{key: "index", val: 7, want: "index=7"},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		log := slog.New(newPrettyHandler(&buf, nil, true))
		log.Info("m", tc.key, tc.val)

		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("%s=%v: output %q missing %q", tc.key, tc.val, buf.String(), tc.want)
		}
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":         `""`,
		"plain":    "plain",
		"a b":      `"a b"`,
		"k=v":      `"k=v"`,
		`say "hi"`: `"say \"hi\""`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", in, got, want)
		}
	}
}
