package mi

import "testing"

func TestLoadFileQuotesPath(t *testing.T) {
	got := LoadFile("/tmp/a b.bin")
	want := `-file-exec-and-symbols "/tmp/a b.bin"`
	if got != want {
		t.Fatalf("LoadFile = %q, want %q", got, want)
	}
}

func TestAttachFormatsPID(t *testing.T) {
	if got := Attach(1234); got != "-target-attach 1234" {
		t.Fatalf("Attach = %q", got)
	}
}

func TestExecRunStartFlag(t *testing.T) {
	if got := ExecRun(true); got != "-exec-run --start" {
		t.Fatalf("ExecRun(true) = %q", got)
	}
	if got := ExecRun(false); got != "-exec-run" {
		t.Fatalf("ExecRun(false) = %q", got)
	}
}

func TestCanonicalStepResolvesAliases(t *testing.T) {
	cases := map[string]string{
		"c":        StepContinue,
		"continue": StepContinue,
		"n":        StepNext,
		"s":        StepStep,
		"ni":       StepNexti,
		"si":       StepStepi,
	}
	for alias, want := range cases {
		kind, ok := CanonicalStep(alias)
		if !ok {
			t.Fatalf("CanonicalStep(%q) not recognized", alias)
		}
		if kind != want {
			t.Fatalf("CanonicalStep(%q) = %q, want %q", alias, kind, want)
		}
	}
}

func TestCanonicalStepRejectsUnknown(t *testing.T) {
	if _, ok := CanonicalStep("bogus"); ok {
		t.Fatalf("expected bogus alias to be rejected")
	}
}

func TestStepCommandMapsEveryCanonicalKind(t *testing.T) {
	cases := map[string]string{
		StepContinue: "-exec-continue",
		StepNext:     "-exec-next",
		StepStep:     "-exec-step",
		StepNexti:    "-exec-next-instruction",
		StepStepi:    "-exec-step-instruction",
	}
	for kind, want := range cases {
		if got := StepCommand(kind); got != want {
			t.Fatalf("StepCommand(%q) = %q, want %q", kind, got, want)
		}
	}
}

func TestBreakInsertWithAndWithoutCondition(t *testing.T) {
	if got := BreakInsert("main", ""); got != "-break-insert main" {
		t.Fatalf("BreakInsert(no cond) = %q", got)
	}
	if got := BreakInsert("main", "x == 1"); got != `-break-insert -c "x == 1" main` {
		t.Fatalf("BreakInsert(cond) = %q", got)
	}
}

func TestExecUntilOptionalLocation(t *testing.T) {
	if got := ExecUntil(""); got != "-exec-until" {
		t.Fatalf("ExecUntil(\"\") = %q", got)
	}
	if got := ExecUntil("*0x1234"); got != "-exec-until *0x1234" {
		t.Fatalf("ExecUntil(loc) = %q", got)
	}
}

func TestDataDisassembleWindow(t *testing.T) {
	got := DataDisassemble(32)
	want := "-data-disassemble -s $pc -e $pc+32 -- 1"
	if got != want {
		t.Fatalf("DataDisassemble = %q, want %q", got, want)
	}
}

func TestSetupCommandsOrderAndContent(t *testing.T) {
	want := []string{
		"-gdb-set mi-async on",
		"-gdb-set pagination off",
		"-gdb-set confirm off",
		"-gdb-set follow-fork-mode parent",
		"-gdb-set detach-on-fork off",
	}
	if len(SetupCommands) != len(want) {
		t.Fatalf("SetupCommands has %d entries, want %d", len(SetupCommands), len(want))
	}
	for i, cmd := range want {
		if SetupCommands[i] != cmd {
			t.Fatalf("SetupCommands[%d] = %q, want %q", i, SetupCommands[i], cmd)
		}
	}
}
