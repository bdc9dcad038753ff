// Package multiboot decodes the boot information block that a multiboot2
// compliant boot loader hands to the kernel.
//
// The block is borrowed, never copied: SetInfoPtr overlays a byte slice on
// top of the memory passed in by the boot loader and every accessor decodes
// its records on demand from that slice. Walking the block never allocates,
// so the accessors are safe to use before a memory manager exists.
package multiboot

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"iter"
	"strconv"
	"strings"
	"unsafe"

	"github.com/u-root/uio/uio"
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

const (
	// infoHeaderSize is the size of the {total_size, reserved} header.
	infoHeaderSize = 8

	// tagHeaderSize is the size of the {type, size} header that precedes
	// each tag. Tags start at 8-byte aligned offsets.
	tagHeaderSize = 8
	tagAlignment  = 8

	// mmapHeaderSize is the size of the {entry_size, entry_version} pair
	// that precedes the memory map entries.
	mmapHeaderSize = 8

	// mmapEntrySize is the size of a {base, length, type, reserved}
	// memory map entry. Boot loaders may report larger entries.
	mmapEntrySize = 24

	// elfSectionsHeaderSize is the size of the {num, entsize, shndx}
	// triplet that precedes the section headers.
	elfSectionsHeaderSize = 12

	elfSection32Size = 40
	elfSection64Size = 64

	// framebufferInfoSize covers the fields up to the framebuffer type.
	framebufferInfoSize = 22
)

// Info is a read-only view over a multiboot2 boot information block.
type Info struct {
	data []byte
}

var current Info

// SetInfoPtr installs the boot information block located at ptr as the
// view returned by Current. The total size is read from the first word of
// the block; ptr is trusted and passing an invalid address is undefined
// behavior. A zero ptr installs an empty view.
func SetInfoPtr(ptr uintptr) {
	if ptr == 0 {
		current = Info{}
		return
	}

	totalSize := *(*uint32)(unsafe.Pointer(ptr))
	if totalSize < infoHeaderSize {
		totalSize = infoHeaderSize
	}

	current = Info{data: unsafe.Slice((*byte)(unsafe.Pointer(ptr)), totalSize)}
}

// Current returns the view installed by the last call to SetInfoPtr.
func Current() *Info {
	return &current
}

// FromBytes returns a view over an in-memory copy of a boot information
// block. The view covers the smaller of the declared total size and len(b)
// and the strings it returns alias b.
func FromBytes(b []byte) *Info {
	if len(b) < infoHeaderSize {
		return &Info{}
	}

	totalSize := int(uio.NewLittleEndianBuffer(b).Read32())
	if totalSize > len(b) {
		totalSize = len(b)
	}
	if totalSize < infoHeaderSize {
		totalSize = infoHeaderSize
	}

	return &Info{data: b[:totalSize]}
}

// TotalSize returns the number of bytes covered by the view.
func (info *Info) TotalSize() uint32 {
	return uint32(len(info.data))
}

// tagAt decodes the tag header at offset and returns the tag type, its
// payload and the offset of the following tag. ok is false when offset
// points at the end tag, at a tag whose size is smaller than its header or
// at a tag that would extend past the end of the block.
func (info *Info) tagAt(offset int) (typ tagType, payload []byte, next int, ok bool) {
	if offset+tagHeaderSize > len(info.data) {
		return 0, nil, 0, false
	}

	typ = tagType(binary.LittleEndian.Uint32(info.data[offset:]))
	size := int(binary.LittleEndian.Uint32(info.data[offset+4:]))
	if typ == tagMbSectionEnd || size < tagHeaderSize || size > len(info.data)-offset {
		return 0, nil, 0, false
	}

	next = offset + (size+tagAlignment-1)&^(tagAlignment-1)
	return typ, info.data[offset+tagHeaderSize : offset+size], next, true
}

// tags returns a sequence over the type and payload of each tag.
func (info *Info) tags() iter.Seq2[tagType, []byte] {
	return func(yield func(tagType, []byte) bool) {
		for typ, payload, next, ok := info.tagAt(infoHeaderSize); ok; typ, payload, next, ok = info.tagAt(next) {
			if !yield(typ, payload) {
				return
			}
		}
	}
}

// findTag returns the payload of the first tag with the requested type.
func (info *Info) findTag(want tagType) ([]byte, bool) {
	for typ, payload, next, ok := info.tagAt(infoHeaderSize); ok; typ, payload, next, ok = info.tagAt(next) {
		if typ == want {
			return payload, true
		}
	}

	return nil, false
}

// MemoryAreaKind describes the type of a MemoryArea.
type MemoryAreaKind uint32

const (
	// MemUsable indicates that the memory area is available for use.
	MemUsable MemoryAreaKind = iota + 1

	// MemReserved indicates that the memory area is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory area that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemAcpiNvs indicates memory that must be preserved when hibernating.
	MemAcpiNvs

	// MemBadRAM indicates memory that is occupied by defective RAM modules.
	MemBadRAM
)

// Known returns true if the kind is one of the values defined by the
// multiboot2 boot protocol. Unknown kinds keep their raw code.
func (k MemoryAreaKind) Known() bool {
	return k >= MemUsable && k <= MemBadRAM
}

// String implements fmt.Stringer.
func (k MemoryAreaKind) String() string {
	switch k {
	case MemUsable:
		return "usable"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI reclaimable"
	case MemAcpiNvs:
		return "ACPI NVS"
	case MemBadRAM:
		return "bad RAM"
	default:
		return "unknown(" + strconv.FormatUint(uint64(k), 10) + ")"
	}
}

// MemoryArea describes a physical memory region reported by the boot loader.
type MemoryArea struct {
	// The physical address where the area begins.
	Base uint64

	// The length of the area in bytes.
	Size uint64

	// The type of this area.
	Kind MemoryAreaKind
}

// End returns the physical address right after the last byte of the area.
func (a MemoryArea) End() uint64 {
	return a.Base + a.Size
}

// MemoryAreas returns a sequence over the memory map entries. The sequence
// is empty if the block contains no memory map or the map declares entries
// smaller than a {base, length, type, reserved} record. Entries larger than
// that are tolerated; their trailing bytes are skipped.
func (info *Info) MemoryAreas() iter.Seq[MemoryArea] {
	return func(yield func(MemoryArea) bool) {
		info.visitMemoryAreas(yield)
	}
}

func (info *Info) visitMemoryAreas(visitor func(MemoryArea) bool) {
	payload, ok := info.findTag(tagMemoryMap)
	if !ok || len(payload) < mmapHeaderSize {
		return
	}

	entrySize := int(binary.LittleEndian.Uint32(payload))
	if entrySize < mmapEntrySize {
		return
	}

	for entries := payload[mmapHeaderSize:]; len(entries) >= entrySize; entries = entries[entrySize:] {
		area := MemoryArea{
			Base: binary.LittleEndian.Uint64(entries),
			Size: binary.LittleEndian.Uint64(entries[8:]),
			Kind: MemoryAreaKind(binary.LittleEndian.Uint32(entries[16:])),
		}

		if !visitor(area) {
			return
		}
	}
}

// KernelSection describes an ELF section of the loaded kernel image.
type KernelSection struct {
	elf.Section64
}

// Start returns the address the section is loaded at.
func (s KernelSection) Start() uint64 {
	return s.Addr
}

// End returns the address right after the last byte of the section.
func (s KernelSection) End() uint64 {
	return s.Addr + s.Size
}

// SectionFlags returns the section flags.
func (s KernelSection) SectionFlags() elf.SectionFlag {
	return elf.SectionFlag(s.Flags)
}

// Writable returns true if the section contains writable data.
func (s KernelSection) Writable() bool {
	return s.SectionFlags()&elf.SHF_WRITE != 0
}

// Allocated returns true if the section occupies memory at run time.
func (s KernelSection) Allocated() bool {
	return s.SectionFlags()&elf.SHF_ALLOC != 0
}

// Executable returns true if the section contains instructions.
func (s KernelSection) Executable() bool {
	return s.SectionFlags()&elf.SHF_EXECINSTR != 0
}

// Sections returns a sequence over the ELF section headers of the kernel
// image. The mandatory null header at index 0 and any other header of type
// SHT_NULL are skipped. The sequence stops when the tag payload is exhausted
// even if the header count claims more entries.
func (info *Info) Sections() iter.Seq[KernelSection] {
	return func(yield func(KernelSection) bool) {
		info.visitSections(yield)
	}
}

func (info *Info) visitSections(visitor func(KernelSection) bool) {
	payload, ok := info.findTag(tagElfSymbols)
	if !ok || len(payload) < elfSectionsHeaderSize {
		return
	}

	num := binary.LittleEndian.Uint32(payload)
	entSize := int(binary.LittleEndian.Uint32(payload[4:]))
	if entSize < elfSection64Size && entSize != elfSection32Size {
		return
	}

	headers := payload[elfSectionsHeaderSize:]
	for index := uint32(0); index < num && len(headers) >= entSize; index, headers = index+1, headers[entSize:] {
		var sec KernelSection
		if entSize == elfSection32Size {
			sec = decodeSection32(headers)
		} else {
			sec = decodeSection64(headers)
		}

		if index == 0 || elf.SectionType(sec.Type) == elf.SHT_NULL {
			continue
		}

		if !visitor(sec) {
			return
		}
	}
}

// decodeSection64 decodes an elf.Section64 header from the first
// elfSection64Size bytes of b.
func decodeSection64(b []byte) KernelSection {
	_ = b[elfSection64Size-1]

	var sec KernelSection
	sec.Name = binary.LittleEndian.Uint32(b[0:])
	sec.Type = binary.LittleEndian.Uint32(b[4:])
	sec.Flags = binary.LittleEndian.Uint64(b[8:])
	sec.Addr = binary.LittleEndian.Uint64(b[16:])
	sec.Off = binary.LittleEndian.Uint64(b[24:])
	sec.Size = binary.LittleEndian.Uint64(b[32:])
	sec.Link = binary.LittleEndian.Uint32(b[40:])
	sec.Info = binary.LittleEndian.Uint32(b[44:])
	sec.Addralign = binary.LittleEndian.Uint64(b[48:])
	sec.Entsize = binary.LittleEndian.Uint64(b[56:])
	return sec
}

// decodeSection32 decodes an elf.Section32 header and widens it.
func decodeSection32(b []byte) KernelSection {
	_ = b[elfSection32Size-1]

	var sec KernelSection
	sec.Name = binary.LittleEndian.Uint32(b[0:])
	sec.Type = binary.LittleEndian.Uint32(b[4:])
	sec.Flags = uint64(binary.LittleEndian.Uint32(b[8:]))
	sec.Addr = uint64(binary.LittleEndian.Uint32(b[12:]))
	sec.Off = uint64(binary.LittleEndian.Uint32(b[16:]))
	sec.Size = uint64(binary.LittleEndian.Uint32(b[20:]))
	sec.Link = binary.LittleEndian.Uint32(b[24:])
	sec.Info = binary.LittleEndian.Uint32(b[28:])
	sec.Addralign = uint64(binary.LittleEndian.Uint32(b[32:]))
	sec.Entsize = uint64(binary.LittleEndian.Uint32(b[36:]))
	return sec
}

// FramebufferType defines the type of the initialized framebuffer.
type FramebufferType uint8

const (
	// FramebufferTypeIndexed specifies a 256-color palette.
	FramebufferTypeIndexed FramebufferType = iota

	// FramebufferTypeRGB specifies direct RGB mode.
	FramebufferTypeRGB

	// FramebufferTypeEGA specifies EGA text mode.
	FramebufferTypeEGA
)

// FramebufferInfo provides information about the initialized framebuffer.
type FramebufferInfo struct {
	// The framebuffer physical address.
	PhysAddr uint64

	// Row pitch in bytes.
	Pitch uint32

	// Width and height in pixels (or characters if Type = FramebufferTypeEGA)
	Width, Height uint32

	// Bits per pixel (non EGA modes only).
	Bpp uint8

	// Framebuffer type.
	Type FramebufferType
}

// Framebuffer returns the framebuffer set up by the boot loader. The second
// return value is false if the block carries no framebuffer tag.
func (info *Info) Framebuffer() (FramebufferInfo, bool) {
	payload, ok := info.findTag(tagFramebufferInfo)
	if !ok || len(payload) < framebufferInfoSize {
		return FramebufferInfo{}, false
	}

	return FramebufferInfo{
		PhysAddr: binary.LittleEndian.Uint64(payload),
		Pitch:    binary.LittleEndian.Uint32(payload[8:]),
		Width:    binary.LittleEndian.Uint32(payload[12:]),
		Height:   binary.LittleEndian.Uint32(payload[16:]),
		Bpp:      payload[20],
		Type:     FramebufferType(payload[21]),
	}, true
}

// BootLoaderName returns the name reported by the boot loader or an empty
// string if the block does not include it.
func (info *Info) BootLoaderName() string {
	return info.stringTag(tagBootLoaderName)
}

// CmdLine returns the raw kernel command line or an empty string if the
// block does not include it.
func (info *Info) CmdLine() string {
	return info.stringTag(tagBootCmdLine)
}

// CmdLineOption looks up a single command line option. Options without a
// value (e.g. "quiet") map to themselves.
func (info *Info) CmdLineOption(key string) (string, bool) {
	for k, v, rest, ok := nextCmdLineOption(info.CmdLine()); ok; k, v, rest, ok = nextCmdLineOption(rest) {
		if k == key {
			return v, true
		}
	}

	return "", false
}

// CmdLineOptions parses the kernel command line into key/value pairs.
// Options without a value (e.g. "quiet") map to themselves.
func (info *Info) CmdLineOptions() map[string]string {
	options := make(map[string]string)
	for k, v, rest, ok := nextCmdLineOption(info.CmdLine()); ok; k, v, rest, ok = nextCmdLineOption(rest) {
		options[k] = v
	}

	return options
}

const cmdLineSpace = " \t\n\v\f\r"

// nextCmdLineOption splits the first whitespace separated option off
// cmdLine. ok is false once cmdLine holds no more options.
func nextCmdLineOption(cmdLine string) (key, value, rest string, ok bool) {
	cmdLine = strings.TrimLeft(cmdLine, cmdLineSpace)
	if cmdLine == "" {
		return "", "", "", false
	}

	field := cmdLine
	if end := strings.IndexAny(cmdLine, cmdLineSpace); end >= 0 {
		field, rest = cmdLine[:end], cmdLine[end:]
	}

	key, value, found := strings.Cut(field, "=")
	if !found {
		value = key
	}

	return key, value, rest, true
}

// stringTag returns the NUL-terminated string payload of a tag. The string
// aliases the boot information block instead of copying it.
func (info *Info) stringTag(want tagType) string {
	payload, ok := info.findTag(want)
	if !ok {
		return ""
	}

	if end := bytes.IndexByte(payload, 0); end >= 0 {
		payload = payload[:end]
	}

	if len(payload) == 0 {
		return ""
	}

	return unsafe.String(&payload[0], len(payload))
}
