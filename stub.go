package main

import "gopherboot/kernel/kmain"

// multibootInfoPtr is filled in by the rt0 code with the address of the boot
// information block before main runs.
var multibootInfoPtr uintptr

// main is the trampoline the rt0 code jumps to. Nothing in a regular Go
// program calls kmain.Kmain, so without this call the linker would drop the
// kernel from the image. Passing a global keeps the compiler from inlining
// the call away.
func main() {
	kmain.Kmain(multibootInfoPtr)
}
