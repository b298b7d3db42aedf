// Package output persists batch results: one pretty-printed document per
// device for reads, and a consolidated report for applies.
package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/newtron-network/ncbulk/pkg/util"
)

// DefaultDir is where results are written when no directory is configured.
const DefaultDir = "output"

// DirWriter writes read results to <Dir>/out_read_<device>.xml. It is safe
// for concurrent use; each device owns its own file, and a duplicated device
// leaves the last complete document written.
type DirWriter struct {
	Dir string
}

// NewDirWriter creates dir if needed.
func NewDirWriter(dir string) (*DirWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &DirWriter{Dir: dir}, nil
}

// Path returns the file a device's read result is written to.
func (w *DirWriter) Path(device string) string {
	return filepath.Join(w.Dir, "out_read_"+util.SanitizeFileName(device)+".xml")
}

// WriteDevice pretty-prints doc and writes it for device. A document that
// does not parse is written as received.
func (w *DirWriter) WriteDevice(device string, doc []byte) error {
	pretty, err := Indent(doc)
	if err != nil {
		util.WithDevice(device).Debugf("writing unformatted output: %v", err)
		pretty = doc
	}
	path := w.Path(device)
	if err := writeFileAtomic(path, pretty); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	util.WithDevice(device).Infof("read result saved to %s", path)
	return nil
}

// writeFileAtomic replaces path with data through a rename so that readers
// and concurrent writers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
