package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. The prefix of a line is emitted
// lazily, right before the first byte of that line, so a trailing line break
// never produces a dangling prefix.
type PrefixWriter struct {
	// A writer where all writes get sent to. A nil Sink selects the
	// writer used by Printf.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set while the current line already has its prefix.
	midLine bool
}

// Write implements io.Writer. The returned byte count refers to p only; the
// injected prefixes are not included.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		written int
		sink    = w.sink()
	)

	for len(p) > 0 {
		if !w.midLine {
			if _, err := sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		lineLen := len(p)
		for i, ch := range p {
			if ch == '\n' {
				lineLen = i + 1
				w.midLine = false
				break
			}
		}

		n, err := sink.Write(p[:lineLen])
		written += n
		if err != nil {
			return written, err
		}
		p = p[lineLen:]
	}

	return written, nil
}

func (w *PrefixWriter) sink() io.Writer {
	switch {
	case w.Sink != nil:
		return w.Sink
	case outputSink != nil:
		return outputSink
	default:
		return &earlyOutput
	}
}
