package mi

import "fmt"

// SetupCommands is the fixed sequence issued once, before any user command
// is accepted, per the spawn contract: enable asynchronous MI mode, disable
// pagination and confirmation prompts, set follow-fork to parent, and turn
// off detach-on-fork. Skipping any of these is a correctness bug.
var SetupCommands = []string{
	"-gdb-set mi-async on",
	"-gdb-set pagination off",
	"-gdb-set confirm off",
	"-gdb-set follow-fork-mode parent",
	"-gdb-set detach-on-fork off",
}

// LoadFile builds the MI command to load a binary for debugging.
func LoadFile(path string) string {
	return fmt.Sprintf("-file-exec-and-symbols %s", quote(path))
}

// EnvironmentCD builds the MI command that changes GDB's working directory
// so relative paths in the loaded binary resolve correctly.
func EnvironmentCD(dir string) string {
	return fmt.Sprintf("-environment-cd %s", quote(dir))
}

// Attach builds the MI command to attach to a running process.
func Attach(pid int) string {
	return fmt.Sprintf("-target-attach %d", pid)
}

// ExecArguments builds the MI command that sets the inferior's argv.
func ExecArguments(args string) string {
	return fmt.Sprintf("-exec-arguments %s", args)
}

// ExecRun builds the MI command to start the inferior. startAtEntry issues
// `--start`, stopping at the first line of main.
func ExecRun(startAtEntry bool) string {
	if startAtEntry {
		return "-exec-run --start"
	}
	return "-exec-run"
}

// Step aliases accepted by step_control, long and short forms.
const (
	StepContinue = "continue"
	StepNext     = "next"
	StepStep     = "step"
	StepNexti    = "nexti"
	StepStepi    = "stepi"
)

// stepAliases maps every accepted alias (long or short) to its canonical
// step kind.
var stepAliases = map[string]string{
	"c":        StepContinue,
	"continue": StepContinue,
	"n":        StepNext,
	"next":     StepNext,
	"s":        StepStep,
	"step":     StepStep,
	"ni":       StepNexti,
	"nexti":    StepNexti,
	"si":       StepStepi,
	"stepi":    StepStepi,
}

// CanonicalStep resolves a step_control alias to its canonical kind and
// reports whether it was recognized.
func CanonicalStep(alias string) (kind string, ok bool) {
	kind, ok = stepAliases[alias]
	return kind, ok
}

// StepCommand builds the MI command for a canonical step kind.
func StepCommand(kind string) string {
	switch kind {
	case StepContinue:
		return "-exec-continue"
	case StepNext:
		return "-exec-next"
	case StepStep:
		return "-exec-step"
	case StepNexti:
		return "-exec-next-instruction"
	case StepStepi:
		return "-exec-step-instruction"
	default:
		return ""
	}
}

// ExecFinish, ExecJump, ExecReturn, ExecUntil, ExecInterrupt map directly
// onto their MI command names.
func ExecFinish() string { return "-exec-finish" }
func ExecJump(loc string) string {
	return fmt.Sprintf("-exec-jump %s", loc)
}
func ExecReturn() string { return "-exec-return" }
func ExecUntil(loc string) string {
	if loc == "" {
		return "-exec-until"
	}
	return fmt.Sprintf("-exec-until %s", loc)
}
func ExecInterrupt() string { return "-exec-interrupt" }

// BreakInsert builds the MI command to set a breakpoint, optionally
// conditional.
func BreakInsert(location, condition string) string {
	if condition != "" {
		return fmt.Sprintf("-break-insert -c %s %s", quote(condition), location)
	}
	return fmt.Sprintf("-break-insert %s", location)
}

func BreakList() string             { return "-break-list" }
func BreakDelete(number int) string { return fmt.Sprintf("-break-delete %d", number) }
func BreakEnable(number int) string { return fmt.Sprintf("-break-enable %d", number) }
func BreakDisable(number int) string {
	return fmt.Sprintf("-break-disable %d", number)
}

// DataEvaluateExpression builds the MI command to evaluate an expression in
// the inferior's current context.
func DataEvaluateExpression(expr string) string {
	return fmt.Sprintf("-data-evaluate-expression %s", quote(expr))
}

// DataReadMemoryBytes is the preferred fast path for a flat memory read.
func DataReadMemoryBytes(addr string, n int) string {
	return fmt.Sprintf("-data-read-memory-bytes %s %d", addr, n)
}

// DataReadMemoryGrid reads memory formatted into a grid, used when a
// non-hex rendering (e.g. int) is requested.
func DataReadMemoryGrid(addr, format string, wordSize, rows, cols int) string {
	return fmt.Sprintf("-data-read-memory %s %s %d %d %d", addr, format, wordSize, rows, cols)
}

// DataListRegisterValues, StackListFrames, DataDisassemble are the three MI
// queries get_quick_context composes.
func DataListRegisterValues() string { return "-data-list-register-values x" }
func StackListFrames() string        { return "-stack-list-frames" }

// DataDisassemble builds a disassembly window of windowBytes bytes
// starting at $pc, in mixed source/disassembly mode (mode 1, raw opcodes
// off — "1" selects mixed mode per the MI spec; see GDB MI docs for
// -data-disassemble mode values).
func DataDisassemble(windowBytes int) string {
	return fmt.Sprintf("-data-disassemble -s $pc -e $pc+%d -- 1", windowBytes)
}

// ContextConsole builds the pwndbg console command used by get_context for
// a named rendering kind.
func ContextConsole(kind string) string {
	return fmt.Sprintf("context %s", kind)
}

// ExamineString builds the console command used by get_memory("string").
func ExamineString(addr string) string {
	return fmt.Sprintf("x/s %s", addr)
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}
