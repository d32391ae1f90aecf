//go:build linux

package worker

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const schedFIFO = 1

// setThreadAttrs names the locked OS thread and optionally raises it to
// SCHED_FIFO. The kernel truncates names to 15 bytes.
func setThreadAttrs(name string, priority int) error {
	var errs []error
	if name != "" {
		if len(name) > 15 {
			name = name[:15]
		}
		p, err := unix.BytePtrFromString(name)
		if err == nil {
			err = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to set thread name %q: %w", name, err))
		}
	}
	if priority > 0 {
		attr := unix.SchedAttr{
			Size:     unix.SizeofSchedAttr,
			Policy:   schedFIFO,
			Priority: uint32(priority),
		}
		if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
			errs = append(errs, fmt.Errorf("failed to set SCHED_FIFO priority %d: %w", priority, err))
		}
	}
	return errors.Join(errs...)
}
