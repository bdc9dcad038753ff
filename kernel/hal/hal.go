// Package hal owns the hardware the kernel talks to before any driver
// model exists: a single EGA text-mode console and the terminal on top of it.
package hal

import (
	"gopherboot/kernel/driver/tty"
	"gopherboot/kernel/driver/video/console"
	"gopherboot/kernel/kfmt"
)

const (
	// TerminalWidth and TerminalHeight are the dimensions of the text grid
	// in characters.
	TerminalWidth  = 80
	TerminalHeight = 25

	// egaTextBufferAddr is the physical address of the EGA text buffer.
	egaTextBufferAddr = uintptr(0xB8000)
)

var (
	egaConsole = &console.Ega{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some output
// till everything is properly setup. The grid is cleared, the cursor moves to
// the top-left corner and any output buffered by kfmt so far is flushed to it.
func InitTerminal() {
	InitTerminalAt(egaTextBufferAddr)
}

// InitTerminalAt behaves like InitTerminal but uses the text buffer located at
// fbAddr. It allows host tools to render kernel output into memory they own.
func InitTerminalAt(fbAddr uintptr) {
	egaConsole.Init(TerminalWidth, TerminalHeight, fbAddr)
	ActiveTerminal.AttachTo(egaConsole)
	ActiveTerminal.Clear()

	kfmt.SetOutputSink(ActiveTerminal)
}

// ActiveConsole returns the console device that backs ActiveTerminal.
func ActiveConsole() *console.Ega {
	return egaConsole
}
