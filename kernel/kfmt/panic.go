package kfmt

import (
	"runtime"

	"gopherboot/kernel"
	"gopherboot/kernel/cpu"
	"gopherboot/kernel/driver/video/console"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	// callerFn is mocked by tests that need a stable source location.
	callerFn = runtime.Caller

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}

	panicAttr = console.MakeAttr(console.LightRed, console.Black)
)

// attrWriter is implemented by output sinks that can render text using an
// explicit color attribute (e.g. tty.Vt).
type attrWriter interface {
	WriteAttr(p []byte, attr console.Attr) (int, error)
}

// panicWriter sends panic reports to the active output sink, highlighted if
// the sink supports colors.
type panicWriter struct{}

func (panicWriter) Write(p []byte) (int, error) {
	switch sink := outputSink.(type) {
	case nil:
		return earlyOutput.Write(p)
	case attrWriter:
		return sink.WriteAttr(p, panicAttr)
	default:
		return sink.Write(p)
	}
}

// Panic outputs the supplied error (if not nil) together with the source
// location of the caller and halts the CPU. Calls to Panic never return.
// Panic also works as a redirection target for calls to panic() (resolved
// via runtime.gopanic).
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	panicFromCaller(2, e)
}

// PanicAt behaves like Panic but reports the supplied source location instead
// of the caller's. Calls to PanicAt never return.
func PanicAt(file string, line int, e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	w := panicWriter{}
	Fprintf(w, "\n-----------------------------------\n")
	if err != nil {
		Fprintf(w, "[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Fprintf(w, "panic in file %s on line %d\n", file, line)
	Fprintf(w, "*** kernel panic: system halted ***")
	Fprintf(w, "\n-----------------------------------\n")

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw. The message is
// stored in errRuntimePanic instead of being boxed into an interface.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	panicFromCaller(2, errRuntimePanic)
}

// goexit serves as a redirect target for runtime.Goexit. The kernel has no
// stack unwinding support: there are no deferred calls to run and no other
// context to switch to, so the stub parks the CPU. It never returns.
//
//go:redirect-from runtime.Goexit
func goexit() {
	for {
		cpuHaltFn()
	}
}

// panicFromCaller resolves the source location skip frames above itself and
// invokes PanicAt.
func panicFromCaller(skip int, e interface{}) {
	_, file, line, ok := callerFn(skip)
	if !ok {
		file, line = "unknown", 0
	}

	PanicAt(file, line, e)
}
