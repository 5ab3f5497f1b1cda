// Package output writes generated artifacts to disk.
package output

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
)

// WriteFile creates path, lets render fill it through a buffered writer and
// flushes and closes the file on every return path. A failed render removes
// the partial file.
func WriteFile(path string, render func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close")
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := render(bw); err != nil {
		return errors.Wrap(err, "render")
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	return nil
}
