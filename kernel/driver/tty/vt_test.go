package tty

import (
	"bytes"
	"runtime"
	"sync"
	"testing"
	"unsafe"

	"gopherboot/kernel/driver/video/console"
)

const blankCell = uint16(0x0720)

func mockVt(t *testing.T) (*Vt, []uint16) {
	fb := make([]uint16, 80*25)
	var cons console.Ega
	cons.Init(80, 25, uintptr(unsafe.Pointer(&fb[0])))

	var vt Vt
	vt.AttachTo(&cons)
	vt.Clear()

	t.Cleanup(func() { runtime.KeepAlive(fb) })
	return &vt, fb
}

func rowText(fb []uint16, y int) string {
	var buf bytes.Buffer
	for x := 0; x < 80; x++ {
		buf.WriteByte(byte(fb[y*80+x]))
	}
	return string(bytes.TrimRight(buf.Bytes(), " "))
}

func TestVtPosition(t *testing.T) {
	specs := []struct {
		inX, inY   uint16
		expX, expY uint16
	}{
		{20, 20, 20, 20},
		{100, 20, 79, 20},
		{10, 200, 10, 24},
		{10, 200, 10, 24},
		{100, 100, 79, 24},
	}

	vt, _ := mockVt(t)

	w, h := vt.Dimensions()
	if w != 80 || h != 25 {
		t.Fatalf("Dimensions wrong: got %v x %v", w, h)
	}

	for specIndex, spec := range specs {
		vt.SetPosition(spec.inX, spec.inY)
		if x, y := vt.Position(); x != spec.expX || y != spec.expY {
			t.Errorf("[spec %d] expected setting position to (%d, %d) to update the position to (%d, %d); got (%d, %d)", specIndex, spec.inX, spec.inY, spec.expX, spec.expY, x, y)
		}
	}
}

func TestVtWrite(t *testing.T) {
	vt, fb := mockVt(t)

	vt.SetPosition(0, 1)
	vt.Write([]byte("12\n3\n4\r567"))
	vt.WriteByte('8')

	specs := []struct {
		x, y    uint16
		expChar byte
	}{
		{0, 1, '1'},
		{1, 1, '2'},
		{0, 2, '3'},
		{0, 3, '5'},
		{1, 3, '6'},
		{2, 3, '7'},
		{3, 3, '8'},
	}

	for specIndex, spec := range specs {
		ch := (byte)(fb[(spec.y*80)+spec.x] & 0xFF)
		if ch != spec.expChar {
			t.Errorf("[spec %d] expected char at (%d, %d) to be %c; got %c", specIndex, spec.x, spec.y, spec.expChar, ch)
		}
	}

	if x, y := vt.Position(); x != 4 || y != 3 {
		t.Errorf("expected cursor to be at (4, 3); got (%d, %d)", x, y)
	}

	expAttr := uint16(console.MakeAttr(defaultFg, defaultBg)) << 8
	if got := fb[80] & 0xFF00; got != expAttr {
		t.Errorf("expected default attribute 0x%x; got 0x%x", expAttr, got)
	}
}

func TestVtWrapsAtLastColumn(t *testing.T) {
	vt, fb := mockVt(t)

	line := bytes.Repeat([]byte{'x'}, 85)
	vt.Write(line)

	if got := rowText(fb, 0); got != string(line[:80]) {
		t.Errorf("expected first row to contain 80 chars; got %q", got)
	}

	if got := rowText(fb, 1); got != "xxxxx" {
		t.Errorf("expected second row to contain the remaining 5 chars; got %q", got)
	}

	if x, y := vt.Position(); x != 5 || y != 1 {
		t.Errorf("expected cursor to be at (5, 1); got (%d, %d)", x, y)
	}
}

func TestVtScroll(t *testing.T) {
	vt, fb := mockVt(t)

	// Fill every row with a distinct glyph.
	for y := 0; y < 25; y++ {
		vt.Write(bytes.Repeat([]byte{byte('A' + y)}, 79))
		if y != 24 {
			vt.Write([]byte{'\n'})
		}
	}

	snapshot := make([]uint16, len(fb))
	copy(snapshot, fb)

	// Moving past the last row scrolls the contents up by exactly one row.
	vt.Write([]byte{'\n'})

	for y := 0; y < 24; y++ {
		for x := 0; x < 80; x++ {
			if exp, got := snapshot[(y+1)*80+x], fb[y*80+x]; exp != got {
				t.Fatalf("expected cell (%d, %d) to contain 0x%x after scrolling; got 0x%x", x, y, exp, got)
			}
		}
	}

	for x := 0; x < 80; x++ {
		if got := fb[24*80+x]; got != blankCell {
			t.Fatalf("expected bottom row to be cleared after scrolling; cell %d contains 0x%x", x, got)
		}
	}

	if x, y := vt.Position(); x != 0 || y != 24 {
		t.Errorf("expected cursor to be at (0, 24); got (%d, %d)", x, y)
	}

	// Writing a full row at the bottom wraps and scrolls again.
	vt.Write(bytes.Repeat([]byte{'z'}, 80))
	if got := rowText(fb, 23); got != string(bytes.Repeat([]byte{'z'}, 80)) {
		t.Errorf("expected wrapped row to have scrolled to row 23; got %q", got)
	}
	if got := rowText(fb, 24); got != "" {
		t.Errorf("expected bottom row to be blank; got %q", got)
	}
}

func TestVtColors(t *testing.T) {
	vt, fb := mockVt(t)

	redOnBlack := console.MakeAttr(console.LightRed, console.Black)
	vt.WriteAttr([]byte("E"), redOnBlack)
	vt.Write([]byte("d"))

	vt.SetColor(console.White, console.Blue)
	vt.Write([]byte("w"))

	specs := []struct {
		index   int
		expCell uint16
	}{
		{0, uint16(redOnBlack)<<8 | 'E'},
		{1, uint16(console.MakeAttr(defaultFg, defaultBg))<<8 | 'd'},
		{2, uint16(console.MakeAttr(console.White, console.Blue))<<8 | 'w'},
	}

	for specIndex, spec := range specs {
		if got := fb[spec.index]; got != spec.expCell {
			t.Errorf("[spec %d] expected cell %d to be 0x%x; got 0x%x", specIndex, spec.index, spec.expCell, got)
		}
	}
}

func TestVtClear(t *testing.T) {
	vt, fb := mockVt(t)

	vt.Write([]byte("hello\nworld"))
	vt.Clear()

	for i, cell := range fb {
		if cell != blankCell {
			t.Fatalf("expected cell %d to be cleared; got 0x%x", i, cell)
		}
	}

	if x, y := vt.Position(); x != 0 || y != 0 {
		t.Errorf("expected Clear() to reset the cursor to (0, 0); got (%d, %d)", x, y)
	}
}

func TestVtConcurrentWriters(t *testing.T) {
	vt, fb := mockVt(t)

	const (
		chunkLen  = 8
		numChunks = 100
	)

	writers := []struct {
		glyph byte
		attr  console.Attr
	}{
		{'a', console.MakeAttr(console.LightGreen, console.Black)},
		{'b', console.MakeAttr(console.LightBrown, console.Blue)},
	}

	var wg sync.WaitGroup
	wg.Add(len(writers))
	for _, w := range writers {
		go func(glyph byte, attr console.Attr) {
			defer wg.Done()
			chunk := bytes.Repeat([]byte{glyph}, chunkLen)
			for i := 0; i < numChunks; i++ {
				vt.WriteAttr(chunk, attr)
				runtime.Gosched()
			}
		}(w.glyph, w.attr)
	}
	wg.Wait()

	// Every write is 8 cells long and the row width is a multiple of 8 so
	// each aligned group of 8 cells must have been produced by exactly one
	// write.
	counts := make(map[byte]int)
	for group := 0; group < 2*numChunks; group++ {
		first := fb[group*chunkLen]
		for i := 1; i < chunkLen; i++ {
			if cell := fb[group*chunkLen+i]; cell != first {
				t.Fatalf("found interleaved write in cell group %d: 0x%x != 0x%x", group, cell, first)
			}
		}

		var matched bool
		for _, w := range writers {
			if first == uint16(w.attr)<<8|uint16(w.glyph) {
				matched = true
				counts[w.glyph]++
			}
		}

		if !matched {
			t.Fatalf("cell group %d contains glyph %q with attribute 0x%x not matching any writer", group, byte(first), first>>8)
		}
	}

	for _, w := range writers {
		if counts[w.glyph] != numChunks {
			t.Errorf("expected %d chunks from writer %q; got %d", numChunks, w.glyph, counts[w.glyph])
		}
	}
}
