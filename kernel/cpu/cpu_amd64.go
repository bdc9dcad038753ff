package cpu

// Halt disables interrupts and stops instruction execution. Calls to Halt
// never return.
func Halt()

// Idle stops instruction execution until the next interrupt arrives and then
// goes back to sleep. Interrupts are left untouched so fault handlers can
// still run. Calls to Idle never return.
func Idle()

// ReadVolatileWord loads the 16-bit value stored at addr. The load is
// implemented in assembly so the compiler can neither cache nor elide it and
// is performed as a single, indivisible memory access.
func ReadVolatileWord(addr uintptr) uint16

// WriteVolatileWord stores val at addr. Like ReadVolatileWord, the store is
// a single 16-bit memory access that always reaches memory in program order.
func WriteVolatileWord(addr uintptr, val uint16)
