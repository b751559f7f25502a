package store

import (
	"errors"
	"fmt"
)

// Kind says what went wrong with a run or checkpoint file.
type Kind uint8

const (
	// KindMissing: the file does not exist.
	KindMissing Kind = iota + 1
	// KindMalformed: the file is not valid JSON or holds no parameters.
	KindMalformed
	// KindDisk: the filesystem refused a read, write or rename.
	KindDisk
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindMalformed:
		return "malformed"
	case KindDisk:
		return "disk"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// FileError is a failure to persist or read back one file.
type FileError struct {
	Action string
	Path   string
	Kind   Kind
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("store: %s %s (%s): %v", e.Action, e.Path, e.Kind, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first FileError wrapped by err, or 0 when
// there is none.
func KindOf(err error) Kind {
	var fe *FileError
	if !errors.As(err, &fe) {
		return 0
	}
	return fe.Kind
}
