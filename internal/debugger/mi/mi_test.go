package mi

import (
	"reflect"
	"testing"
)

func TestParseLineStreamRecords(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		kind    Kind
		message string
	}{
		{"console", `~"Starting program: /bin/ls \n"`, KindConsole, "Starting program: /bin/ls \n"},
		{"target", `@"hello world\n"`, KindTarget, "hello world\n"},
		{"log", `&"No symbol table loaded.\n"`, KindLog, "No symbol table loaded.\n"},
		{"bare prompt", `(gdb) `, KindConsole, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ParseLine(tc.line)
			if resp.Kind != tc.kind {
				t.Fatalf("Kind = %q, want %q", resp.Kind, tc.kind)
			}
			if tc.name != "bare prompt" && resp.Message != tc.message {
				t.Fatalf("Message = %q, want %q", resp.Message, tc.message)
			}
			if resp.HasToken {
				t.Fatalf("unexpected token on stream record")
			}
		})
	}
}

func TestParseLineResultRecordWithToken(t *testing.T) {
	resp := ParseLine(`42^done,value="1"`)

	if resp.Kind != KindResult {
		t.Fatalf("Kind = %q, want result", resp.Kind)
	}
	if !resp.HasToken || resp.CorrelationID != 42 {
		t.Fatalf("CorrelationID = %d (hasToken=%v), want 42", resp.CorrelationID, resp.HasToken)
	}
	if resp.Class != "done" {
		t.Fatalf("Class = %q, want done", resp.Class)
	}
	if got := resp.Payload["value"]; got != "1" {
		t.Fatalf("Payload[value] = %v, want \"1\"", got)
	}
}

func TestParseLineErrorResultCarriesMessage(t *testing.T) {
	resp := ParseLine(`7^error,msg="No such file or directory."`)

	if resp.Class != "error" {
		t.Fatalf("Class = %q, want error", resp.Class)
	}
	if got := resp.Payload["msg"]; got != "No such file or directory." {
		t.Fatalf("Payload[msg] = %v", got)
	}
}

func TestParseLineNotifyStoppedWithNestedFrame(t *testing.T) {
	line := `*stopped,reason="breakpoint-hit",bkptno="1",frame={addr="0x0000555555555159",func="main",args=[]},thread-id="1",stopped-threads="all"`
	resp := ParseLine(line)

	if resp.Kind != KindNotify {
		t.Fatalf("Kind = %q, want notify", resp.Kind)
	}
	if resp.Class != "stopped" {
		t.Fatalf("Class = %q, want stopped", resp.Class)
	}
	if got := resp.Payload["reason"]; got != "breakpoint-hit" {
		t.Fatalf("Payload[reason] = %v", got)
	}

	frame, ok := resp.Payload["frame"].(map[string]any)
	if !ok {
		t.Fatalf("Payload[frame] is %T, want map[string]any", resp.Payload["frame"])
	}
	if frame["func"] != "main" {
		t.Fatalf("frame[func] = %v, want main", frame["func"])
	}
	args, ok := frame["args"].([]any)
	if !ok || len(args) != 0 {
		t.Fatalf("frame[args] = %v, want empty list", frame["args"])
	}
}

func TestParseLineResultWithList(t *testing.T) {
	resp := ParseLine(`3^done,register-names=["rax","rbx","rip"]`)

	names, ok := resp.Payload["register-names"].([]any)
	if !ok {
		t.Fatalf("register-names is %T", resp.Payload["register-names"])
	}
	want := []any{"rax", "rbx", "rip"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("register-names = %v, want %v", names, want)
	}
}

func TestParseLineNoTokenResult(t *testing.T) {
	resp := ParseLine(`^running`)
	if resp.HasToken {
		t.Fatalf("expected no token")
	}
	if resp.Class != "running" {
		t.Fatalf("Class = %q, want running", resp.Class)
	}
	if resp.Payload != nil {
		t.Fatalf("Payload = %v, want nil for bare class", resp.Payload)
	}
}

func TestParseLineEmptyLine(t *testing.T) {
	resp := ParseLine("")
	if resp.Kind != KindConsole {
		t.Fatalf("Kind = %q, want console", resp.Kind)
	}
}

func TestUnescapeSequences(t *testing.T) {
	resp := ParseLine(`~"line one\nline two\ttabbed"`)
	want := "line one\nline two\ttabbed"
	if resp.Message != want {
		t.Fatalf("Message = %q, want %q", resp.Message, want)
	}
}
