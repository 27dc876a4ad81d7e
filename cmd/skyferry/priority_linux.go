//go:build linux

package main

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const loopPriority = 50

// setRealtime moves the calling thread to SCHED_FIFO, falling back to a
// raised nice value, and locks the process memory. Both need CAP_SYS_NICE /
// CAP_IPC_LOCK; failures are returned together and are not fatal.
func setRealtime() error {
	var errs []error
	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: loopPriority,
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		errs = append(errs, fmt.Errorf("sched_setattr fifo: %w", err))
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -10); err != nil {
			errs = append(errs, fmt.Errorf("setpriority: %w", err))
		}
	}
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		errs = append(errs, fmt.Errorf("mlockall: %w", err))
	}
	return errors.Join(errs...)
}
