package main

import (
	"errors"

	"github.com/r3/r3/internal/rerr"
)

// exitCodeFor maps a core error to the exit codes fixed by §6: 0 success
// (never reached here), 1 user error, 2 integrity failure, 3 I/O failure.
// errors.As is used rather than a type switch because Verify aggregates
// multiple failures with multierr, which may wrap several error kinds
// together.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	var integrity *rerr.IntegrityError
	if errors.As(err, &integrity) {
		return 2
	}

	var ioErr *rerr.IOError
	var lockErr *rerr.LockTimeout
	if errors.As(err, &ioErr) || errors.As(err, &lockErr) {
		return 3
	}

	return 1
}
