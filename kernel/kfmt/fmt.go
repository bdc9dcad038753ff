// Package kfmt implements formatted output for the kernel. Nothing in this
// package allocates memory, so it can be used before any memory manager
// exists.
//
// Formatting keeps its scratch space on the caller's stack, so concurrent
// Printf calls are safe. Each formatted piece is passed to the output sink
// with its own Write call; output from concurrent callers may interleave.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize is the size of the buffer used for rendering integers.
// It fits a 64-bit value in base 8 plus a sign.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	lineBreak       = []byte("\n")
	hexPrefix       = []byte("0x")
	octPrefix       = []byte("0")
	digits          = "0123456789abcdef"

	// earlyOutput captures Printf output until an output sink is attached.
	earlyOutput earlyBuffer

	// outputSink receives Printf output. While nil, output is kept in
	// earlyOutput.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and replays
// any output captured before a sink was available.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		earlyOutput.WriteTo(w)
	}
}

// OutputSink returns the writer that receives Printf output or nil if output
// is still being buffered.
func OutputSink() io.Writer {
	return outputSink
}

// Printf writes formatted output to the active output sink. It supports a
// subset of the fmt.Printf verbs:
//
//	%s  string or []byte
//	%d  base 10 integer
//	%x  base 16 integer, lower-case digits
//	%o  base 8 integer
//	%t  bool
//	%%  a literal percent sign
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are padded on the left with spaces; base-8 and base-16 integers
// are padded with zeroes. The '#' flag prefixes base-16 values with "0x" and
// base-8 values with "0".
//
// Only built-in integer, bool, string and []byte arguments are supported;
// fmt.Stringer is not consulted because interface tables may not be usable
// yet. Pointers (%p) are not supported because that would drag in reflect.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Printfln behaves like Printf and appends a line break to the output.
func Printfln(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
	doWrite(outputSink, lineBreak)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer. A nil writer selects the early output buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		alt      bool
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			writeChar(w, format[i])
			continue
		}

		width, alt = 0, false

	parseVerb:
		for i++; ; i++ {
			if i == len(format) {
				doWrite(w, errNoVerb)
				break
			}

			ch := format[i]
			switch {
			case ch == '%':
				writeChar(w, '%')
				break parseVerb
			case ch == '#':
				alt = true
			case ch >= '0' && ch <= '9':
				width = width*10 + int(ch-'0')
			case ch == 's' || ch == 'd' || ch == 'x' || ch == 'o' || ch == 't':
				if argIndex >= len(args) {
					doWrite(w, errMissingArg)
					break parseVerb
				}

				arg := args[argIndex]
				argIndex++

				switch ch {
				case 's':
					fmtString(w, arg, width)
				case 'd':
					fmtInt(w, arg, 10, width, alt)
				case 'x':
					fmtInt(w, arg, 16, width, alt)
				case 'o':
					fmtInt(w, arg, 8, width, alt)
				case 't':
					fmtBool(w, arg)
				}
				break parseVerb
			default:
				doWrite(w, errNoVerb)
				break parseVerb
			}
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		writeRepeat(w, ' ', width-len(s))
		for i := 0; i < len(s); i++ {
			writeChar(w, s[i])
		}
	case []byte:
		writeRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtInt renders v in the requested base. Negative values are rendered with
// a leading '-'; zero padding is inserted between the sign and the digits.
func fmtInt(w io.Writer, v interface{}, base uint64, width int, alt bool) {
	var (
		mag uint64
		neg bool
	)

	switch n := v.(type) {
	case uint8:
		mag = uint64(n)
	case uint16:
		mag = uint64(n)
	case uint32:
		mag = uint64(n)
	case uint64:
		mag = n
	case uint:
		mag = uint64(n)
	case uintptr:
		mag = uint64(n)
	case int8:
		mag, neg = signed(int64(n))
	case int16:
		mag, neg = signed(int64(n))
	case int32:
		mag, neg = signed(int64(n))
	case int64:
		mag, neg = signed(n)
	case int:
		mag, neg = signed(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if width > numBufSize-1 {
		width = numBufSize - 1
	}

	// Digits are rendered right-to-left at the end of buf.
	var buf [numBufSize]byte
	pos := numBufSize
	for {
		pos--
		buf[pos] = digits[mag%base]
		mag /= base
		if mag == 0 {
			break
		}
	}

	var prefix []byte
	if alt {
		switch base {
		case 16:
			prefix = hexPrefix
		case 8:
			prefix = octPrefix
		}
	}

	signLen := 0
	if neg {
		signLen = 1
	}

	padLen := width - (numBufSize - pos) - signLen - len(prefix)
	if base == 10 {
		writeRepeat(w, ' ', padLen)
		padLen = 0
	}

	if neg {
		writeChar(w, '-')
	}
	if prefix != nil {
		doWrite(w, prefix)
	}
	writeRepeat(w, '0', padLen)
	doWrite(w, buf[pos:])
}

func signed(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// writeChar passes a single character to doWrite without converting a
// string to a byte slice.
func writeChar(w io.Writer, ch byte) {
	buf := [1]byte{ch}
	doWrite(w, buf[:])
}

func writeRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeChar(w, ch)
	}
}

// doWrite hides p from escape analysis. The call to the unknown io.Writer
// would otherwise make the compiler flag every argument of Printf as
// escaping and emit heap allocations for them.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyOutput.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. It mirrors the helper of
// the same name in runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
