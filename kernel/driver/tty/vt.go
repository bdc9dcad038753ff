// Package tty implements terminals on top of console devices.
package tty

import (
	"gopherboot/kernel/driver/video/console"
	"gopherboot/kernel/sync"
)

const (
	defaultFg = console.LightGrey
	defaultBg = console.Black
)

// Vt implements a simple terminal that can process LF and CR characters. The
// terminal uses a console device for its output.
//
// All terminal state (cursor position, current color and the attached
// console's grid) is guarded by a spinlock so that a fault handler printing
// while regular code is mid-write cannot interleave with it. The lock is not
// re-entrant.
type Vt struct {
	lock sync.Spinlock

	cons console.Console

	width  uint16
	height uint16

	curX    uint16
	curY    uint16
	curAttr console.Attr
}

// AttachTo links the terminal with the specified console device and resets
// the cursor position and color to their defaults.
func (t *Vt) AttachTo(cons console.Console) {
	t.lock.Acquire()
	defer t.lock.Release()

	t.cons = cons
	t.width, t.height = cons.Dimensions()
	t.curX = 0
	t.curY = 0

	// Default to lightgrey on black text.
	t.curAttr = console.MakeAttr(defaultFg, defaultBg)
}

// Dimensions returns the terminal width and height in characters.
func (t *Vt) Dimensions() (uint16, uint16) {
	t.lock.Acquire()
	defer t.lock.Release()

	return t.width, t.height
}

// Clear clears the terminal and moves the cursor to the top-left corner.
func (t *Vt) Clear() {
	t.lock.Acquire()
	defer t.lock.Release()

	t.cons.Clear(0, 0, t.width, t.height)
	t.curX, t.curY = 0, 0
}

// Position returns the current cursor position (x, y).
func (t *Vt) Position() (uint16, uint16) {
	t.lock.Acquire()
	defer t.lock.Release()

	return t.curX, t.curY
}

// SetPosition sets the current cursor position to (x,y). Coordinates outside
// the terminal are clipped.
func (t *Vt) SetPosition(x, y uint16) {
	t.lock.Acquire()
	defer t.lock.Release()

	if x >= t.width {
		x = t.width - 1
	}

	if y >= t.height {
		y = t.height - 1
	}

	t.curX, t.curY = x, y
}

// SetColor sets the foreground and background colors used by subsequent
// calls to Write.
func (t *Vt) SetColor(fg, bg console.Attr) {
	t.lock.Acquire()
	defer t.lock.Release()

	t.curAttr = console.MakeAttr(fg, bg)
}

// Write implements io.Writer.
func (t *Vt) Write(data []byte) (int, error) {
	t.lock.Acquire()
	defer t.lock.Release()

	t.write(data, t.curAttr)
	return len(data), nil
}

// WriteByte implements io.ByteWriter.
func (t *Vt) WriteByte(b byte) error {
	t.lock.Acquire()
	defer t.lock.Release()

	t.writeByte(b, t.curAttr)
	return nil
}

// WriteAttr behaves like Write but renders data using attr instead of the
// terminal's current color. The current color is left unchanged.
func (t *Vt) WriteAttr(data []byte, attr console.Attr) (int, error) {
	t.lock.Acquire()
	defer t.lock.Release()

	t.write(data, attr)
	return len(data), nil
}

func (t *Vt) write(data []byte, attr console.Attr) {
	for _, b := range data {
		t.writeByte(b, attr)
	}
}

func (t *Vt) writeByte(b byte, attr console.Attr) {
	switch b {
	case '\r':
		t.cr()
	case '\n':
		t.cr()
		t.lf()
	default:
		t.cons.Write(b, attr, t.curX, t.curY)
		t.curX++
		if t.curX == t.width {
			t.cr()
			t.lf()
		}
	}
}

// cr resets the x coordinate of the terminal cursor to 0.
func (t *Vt) cr() {
	t.curX = 0
}

// lf advances the y coordinate of the terminal cursor by one line scrolling
// the terminal contents if the end of the last terminal line is reached.
func (t *Vt) lf() {
	if t.curY+1 < t.height {
		t.curY++
		return
	}

	t.cons.Scroll(console.Up, 1)
	t.cons.Clear(0, t.height-1, t.width, 1)
}
