// Package safeio implements atomic file writes, used for the key material
// the signer exports.
package safeio

import (
	"os"
	"path/filepath"
)

// FileOp represents an operation on a file (passed by its name).
type FileOp func(fname string) error

// WriteFile writes data to a file named by filename, atomically.
//
// The data goes to a temporary file in the same directory, which is renamed
// over filename at the end. Before renaming, the given operations are run on
// the temporary file; if any of them fails, the temporary file is removed
// and filename is left untouched.
//
// Note this relies on same-directory Rename being atomic, which holds in most
// reasonably modern filesystems.
func WriteFile(filename string, data []byte, perm os.FileMode, ops ...FileOp) error {
	tmpf, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename))
	if err != nil {
		return err
	}
	tmpName := tmpf.Name()

	if err = os.Chmod(tmpName, perm); err != nil {
		tmpf.Close()
		os.Remove(tmpName)
		return err
	}

	if _, err = tmpf.Write(data); err != nil {
		tmpf.Close()
		os.Remove(tmpName)
		return err
	}

	if err = tmpf.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	for _, op := range ops {
		if err = op(tmpName); err != nil {
			os.Remove(tmpName)
			return err
		}
	}

	return os.Rename(tmpName, filename)
}
