// Command mbdump renders a captured multiboot2 boot information block the
// way the kernel would print it at boot.
//
// The dump is decoded by the kernel's multiboot parser and the boot report is
// printed through the kernel terminal into an in-memory 80x25 text buffer
// which is then copied to stdout.
//
//	mbdump [-color auto|always|never] [-human] <dump-file>
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"unsafe"

	"gopherboot/kernel/driver/video/console"
	"gopherboot/kernel/hal"
	"gopherboot/kernel/hal/multiboot"
	"gopherboot/kernel/kmain"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// ansiColor maps the EGA color index to the ANSI color index.
var ansiColor = [8]int{0, 4, 2, 6, 1, 5, 3, 7}

type options struct {
	color    string
	human    bool
	dumpFile string
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mbdump] error: %s\n", err.Error())
	os.Exit(1)
}

func parseArgs(args []string) (*options, error) {
	var opts options

	fs := flag.NewFlagSet("mbdump", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.color, "color", "auto", "colorize output: auto, always or never")
	fs.BoolVar(&opts.human, "human", false, "append a summary of the memory map with human readable sizes")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch opts.color {
	case "auto", "always", "never":
	default:
		return nil, fmt.Errorf("invalid -color value %q", opts.color)
	}

	if fs.NArg() != 1 {
		return nil, errors.New("expected the path to a boot information dump as the only argument")
	}
	opts.dumpFile = fs.Arg(0)

	return &opts, nil
}

// renderScreen prints the kernel boot report for info into a text buffer
// owned by the caller.
func renderScreen(info *multiboot.Info) []uint16 {
	fb := make([]uint16, hal.TerminalWidth*hal.TerminalHeight)
	hal.InitTerminalAt(uintptr(unsafe.Pointer(&fb[0])))
	kmain.Report(info)

	return fb
}

// writeScreen copies the rows of the active console up to the last non-blank
// one to w. If colorize is set, cell attributes are converted to ANSI escape
// sequences.
func writeScreen(w io.Writer, cons console.Console, colorize bool) error {
	reader, ok := cons.(interface {
		Read(x, y uint16) (byte, console.Attr)
	})
	if !ok {
		return errors.New("console does not support reading cells")
	}

	width, height := cons.Dimensions()

	var rows [][]byte
	for y := uint16(0); y < height; y++ {
		var (
			row      bytes.Buffer
			lastAttr console.Attr = 0xffff
		)

		for x := uint16(0); x < width; x++ {
			ch, attr := reader.Read(x, y)
			if colorize && attr != lastAttr {
				row.WriteString(ansiSequence(attr))
				lastAttr = attr
			}
			row.WriteByte(ch)
		}

		line := row.Bytes()
		if colorize {
			line = append(line, "\x1b[0m"...)
		} else {
			line = bytes.TrimRight(line, " ")
		}
		rows = append(rows, line)
	}

	for len(rows) > 0 && isBlankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}

	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%s\n", row); err != nil {
			return err
		}
	}

	return nil
}

func isBlankRow(row []byte) bool {
	for i := 0; i < len(row); i++ {
		switch row[i] {
		case ' ':
		case '\x1b':
			// skip over the escape sequence
			for i < len(row) && row[i] != 'm' {
				i++
			}
		default:
			return false
		}
	}

	return true
}

// ansiSequence returns the SGR escape sequence for an EGA attribute.
func ansiSequence(attr console.Attr) string {
	fg, bg := int(attr&0xf), int(attr>>4&0xf)

	fgCode := 30 + ansiColor[fg&0x7]
	if fg >= 8 {
		fgCode += 60
	}

	bgCode := 40 + ansiColor[bg&0x7]
	if bg >= 8 {
		bgCode += 60
	}

	return fmt.Sprintf("\x1b[%d;%dm", fgCode, bgCode)
}

// writeSummary prints every memory area with its size in IEC units followed
// by the total amount of usable memory.
func writeSummary(w io.Writer, info *multiboot.Info) error {
	var usable uint64

	if _, err := fmt.Fprintf(w, "\nmemory map summary:\n"); err != nil {
		return err
	}

	for area := range info.MemoryAreas() {
		if area.Kind == multiboot.MemUsable {
			usable += area.Size
		}

		if _, err := fmt.Fprintf(w, "  0x%016x - 0x%016x %10s %s\n", area.Base, area.End(), humanize.IBytes(area.Size), area.Kind); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "usable memory: %s\n", humanize.IBytes(usable))
	return err
}

func run(args []string, stdout io.Writer, isTerminal func() bool) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(opts.dumpFile)
	if err != nil {
		return fmt.Errorf("reading dump: %w", err)
	}

	info := multiboot.FromBytes(data)
	fb := renderScreen(info)

	colorize := opts.color == "always" || (opts.color == "auto" && isTerminal())
	err = writeScreen(stdout, hal.ActiveConsole(), colorize)
	runtime.KeepAlive(fb)
	if err != nil {
		return fmt.Errorf("writing screen: %w", err)
	}

	if opts.human {
		if err = writeSummary(stdout, info); err != nil {
			return fmt.Errorf("writing summary: %w", err)
		}
	}

	return nil
}

func main() {
	stdoutIsTerminal := func() bool {
		return term.IsTerminal(int(os.Stdout.Fd()))
	}

	if err := run(os.Args[1:], os.Stdout, stdoutIsTerminal); err != nil {
		exit(err)
	}
}
