package bundle

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// namedArray is an archive member: any value npyio writes, or a *rawArray.
type namedArray struct {
	name  string
	value interface{}
}

// writeNPZ stores the arrays as deflated name.npy members, like numpy.savez_compressed. The
// archive is written next to path and renamed into place once complete.
func writeNPZ(path string, arrays []namedArray) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			utils.UncheckedError(os.Remove(tmp.Name()))
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, entry := range arrays {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.name + ".npy", Method: zip.Deflate})
		if err != nil {
			return multierr.Combine(err, zw.Close(), tmp.Close())
		}
		if err := writeNPY(w, entry.value); err != nil {
			return multierr.Combine(errors.Wrapf(err, "cannot write %s", entry.name), zw.Close(), tmp.Close())
		}
	}
	if err := multierr.Combine(zw.Close(), tmp.Sync(), tmp.Close()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readNPZ decodes every .npy member of an archive, keyed by name without the extension.
func readNPZ(path string) (map[string]*array, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s", path)
	}
	defer utils.UncheckedErrorFunc(zr.Close)

	ret := map[string]*array{}
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open member %s", f.Name)
		}
		a, err := readNPY(rc)
		if closeErr := rc.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cannot decode member %s", f.Name)
		}
		ret[strings.TrimSuffix(f.Name, ".npy")] = a
	}
	return ret, nil
}
