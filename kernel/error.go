// Package kernel holds the types shared by every kernel package.
package kernel

// Error describes a failure inside a kernel module. Errors are declared as
// package-level *Error values and compared by identity; nothing on the error
// path may allocate because the kernel has no memory allocator.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface. The module name is not included; the
// panic path prints it separately.
func (e *Error) Error() string {
	return e.Message
}
