package console

import "gopherboot/kernel/cpu"

const (
	clearChar = byte(' ')
)

var (
	// clearAttr is the attribute of blank cells: light grey on black.
	clearAttr = MakeAttr(LightGrey, Black)

	// The volatile accessors are mocked by tests that need to observe the
	// exact sequence of cell accesses.
	readCellFn  = cpu.ReadVolatileWord
	writeCellFn = cpu.WriteVolatileWord
)

// Ega implements an EGA-compatible text console that writes directly to a
// memory-mapped text buffer. Each cell is a 16-bit word holding the glyph in
// its low byte and the color attribute in its high byte.
//
// The framebuffer is hardware memory: every cell access goes through the
// cpu package's volatile accessors so that no write is ever elided, merged
// or reordered by the compiler and no cell is ever observed half-written.
//
// Ega does not synchronize access to the framebuffer; callers (normally a
// tty.Vt) are expected to serialize calls.
type Ega struct {
	width  uint16
	height uint16

	fbAddr uintptr
}

// Init sets up the console to use the text buffer at fbPhysAddr which must
// hold at least width*height cells.
func (cons *Ega) Init(width, height uint16, fbPhysAddr uintptr) {
	cons.width = width
	cons.height = height
	cons.fbAddr = fbPhysAddr
}

// Dimensions returns the console width and height in characters.
func (cons *Ega) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// Clear clears the specified rectangular region
func (cons *Ega) Clear(x, y, width, height uint16) {
	var (
		clr                  = uint16(clearAttr)<<8 | uint16(clearChar)
		rowOffset, colOffset uintptr
	)

	// clip rectangle
	if x >= cons.width {
		x = cons.width
	}
	if y >= cons.height {
		y = cons.height
	}

	// uint32 sums cannot wrap for uint16 operands
	if uint32(x)+uint32(width) > uint32(cons.width) {
		width = cons.width - x
	}
	if uint32(y)+uint32(height) > uint32(cons.height) {
		height = cons.height - y
	}

	rowOffset = uintptr(y)*uintptr(cons.width) + uintptr(x)
	for ; height > 0; height, rowOffset = height-1, rowOffset+uintptr(cons.width) {
		for colOffset = rowOffset; colOffset < rowOffset+uintptr(width); colOffset++ {
			writeCellFn(cons.cellAddr(colOffset), clr)
		}
	}
}

// Scroll a particular number of lines to the specified direction. The rows
// uncovered by the scroll keep their previous contents; callers clear them
// if needed.
func (cons *Ega) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	var (
		i      uintptr
		offset = uintptr(lines) * uintptr(cons.width)
		total  = uintptr(cons.height) * uintptr(cons.width)
	)

	switch dir {
	case Up:
		for ; i < total-offset; i++ {
			writeCellFn(cons.cellAddr(i), readCellFn(cons.cellAddr(i+offset)))
		}
	case Down:
		for i = total - 1; i >= offset; i-- {
			writeCellFn(cons.cellAddr(i), readCellFn(cons.cellAddr(i-offset)))
		}
	}
}

// Write a char to the specified location. Writes with off-screen coordinates
// are ignored.
func (cons *Ega) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	writeCellFn(
		cons.cellAddr(uintptr(y)*uintptr(cons.width)+uintptr(x)),
		uint16(attr)<<8|uint16(ch),
	)
}

// Read returns the glyph and attribute stored at the specified location.
// Reads with off-screen coordinates return a blank cell.
func (cons *Ega) Read(x, y uint16) (byte, Attr) {
	if x >= cons.width || y >= cons.height {
		return clearChar, clearAttr
	}

	cell := readCellFn(cons.cellAddr(uintptr(y)*uintptr(cons.width) + uintptr(x)))
	return byte(cell), Attr(cell >> 8)
}

// cellAddr returns the address of the cell at the given linear offset.
func (cons *Ega) cellAddr(offset uintptr) uintptr {
	return cons.fbAddr + offset<<1
}
