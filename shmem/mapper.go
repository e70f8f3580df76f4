// Package shmem implements the Shared-Memory Mapper of spec.md §4.2: given
// a (shared_memory_id, length), it produces a read-only view of exactly
// length bytes backed by an OS shared-memory region, released on disposal.
//
// golang.org/x/sys/unix.Mmap is used directly rather than a higher-level
// wrapper, the same way the teacher keeps its own low-level IP/address
// encoding in controller/util/util.go instead of reaching for a framework —
// golang.org/x/sys is promoted here from an indirect, tooling-only
// dependency in the teacher's go.mod to a direct one.
package shmem

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Dir is the filesystem namespace shared-memory ids resolve under, matching
// the upstream dora daemon's convention of naming POSIX shared-memory
// objects that appear as files under /dev/shm on Linux.
var Dir = "/dev/shm"

// MappingError reports why a shared-memory segment could not be mapped.
type MappingError struct {
	SharedMemoryID string
	Length         int
	Err            error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map shared memory %q (%d bytes): %s", e.SharedMemoryID, e.Length, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// View is a read-only view over exactly Length bytes of a shared-memory
// segment. It owns the underlying OS mapping; Release must be called
// exactly once to unmap it.
type View struct {
	SharedMemoryID string
	Bytes          []byte

	released bool
	mu       sync.Mutex
}

// Release unmaps the view's underlying memory. Calling it more than once is
// a no-op, matching spec.md §8's idempotence requirement for disposal paths.
func (v *View) Release() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released || v.Bytes == nil {
		return nil
	}
	v.released = true
	return unix.Munmap(v.Bytes)
}

// Map opens sharedMemoryID read-only and maps exactly length bytes.
func Map(sharedMemoryID string, length int) (*View, error) {
	path := filepath.Join(Dir, sharedMemoryID)

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, &MappingError{SharedMemoryID: sharedMemoryID, Length: length, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &MappingError{SharedMemoryID: sharedMemoryID, Length: length, Err: err}
	}
	if int64(length) > info.Size() {
		return nil, &MappingError{
			SharedMemoryID: sharedMemoryID,
			Length:         length,
			Err:            fmt.Errorf("requested length exceeds segment size %d", info.Size()),
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &MappingError{SharedMemoryID: sharedMemoryID, Length: length, Err: err}
	}

	return &View{SharedMemoryID: sharedMemoryID, Bytes: data}, nil
}
