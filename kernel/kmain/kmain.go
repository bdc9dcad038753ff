// Package kmain contains the kernel entry point that takes over from the rt0
// bootstrap code.
package kmain

import (
	"gopherboot/kernel"
	"gopherboot/kernel/cpu"
	"gopherboot/kernel/hal"
	"gopherboot/kernel/hal/multiboot"
	"gopherboot/kernel/kfmt"
)

// BootState describes how far the kernel has progressed since rt0 handed
// over control.
type BootState uint8

const (
	// Booting is the state while the terminal is being set up.
	Booting BootState = iota

	// Reporting is the state while the boot information is being printed.
	Reporting

	// Idle is the final state; the CPU waits for interrupts forever.
	Idle
)

// String implements fmt.Stringer.
func (s BootState) String() string {
	switch s {
	case Booting:
		return "booting"
	case Reporting:
		return "reporting"
	case Idle:
		return "idle"
	default:
		return "invalid"
	}
}

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	state BootState

	// Overridden by tests.
	initTerminalFn = hal.InitTerminal
	idleFn         = cpu.Idle

	// listWriter indents the memory area and section lines of the boot
	// report.
	listWriter = kfmt.PrefixWriter{Prefix: []byte("  ")}
)

// State returns the current boot state.
func State() BootState {
	return state
}

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader. Kmain initializes the terminal, prints the memory layout and the
// kernel image sections it finds there and then idles forever.
//
// Kmain is not expected to return. If it does, the kernel panics.
//
//go:noinline
func Kmain(multibootInfoPtr uintptr) {
	state = Booting
	initTerminalFn()

	state = Reporting
	multiboot.SetInfoPtr(multibootInfoPtr)
	Report(multiboot.Current())

	state = Idle
	idleFn()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// Report prints the boot loader name, the memory areas and the kernel image
// sections described by info to the kfmt output sink. Only usable memory
// areas are listed unless the command line contains memmap=all, in which
// case every area is listed along with its kind.
func Report(info *multiboot.Info) {
	if name := info.BootLoaderName(); name != "" {
		kfmt.Printf("booted by %s\n", name)
	}

	allAreas := false
	if v, found := info.CmdLineOption("memmap"); found && v == "all" {
		allAreas = true
	}

	kfmt.Printf("memory areas:\n")
	for area := range info.MemoryAreas() {
		switch {
		case !allAreas:
			if area.Kind == multiboot.MemUsable {
				kfmt.Fprintf(&listWriter, "base 0x%x, size 0x%x\n", area.Base, area.Size)
			}
		case area.Kind.Known():
			kfmt.Fprintf(&listWriter, "base 0x%x, size 0x%x, %s\n", area.Base, area.Size, area.Kind.String())
		default:
			kfmt.Fprintf(&listWriter, "base 0x%x, size 0x%x, unknown(%d)\n", area.Base, area.Size, uint32(area.Kind))
		}
	}

	kfmt.Printf("kernel sections:\n")
	for sec := range info.Sections() {
		kfmt.Fprintf(&listWriter, "base 0x%x, size 0x%x, flags 0x%x\n", sec.Start(), sec.Size, sec.Flags)
	}
}
