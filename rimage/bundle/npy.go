package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
)

const (
	npyMagic     = "\x93NUMPY"
	npyAlignment = 64
)

// array is one decoded .npy entry. Numeric payloads are widened to float64, which is exact
// for every dtype a bundle holds.
type array struct {
	descr string
	shape []int
	vals  []float64
	str   string
}

func (a *array) size() int {
	n := 1
	for _, d := range a.shape {
		n *= d
	}
	return n
}

func (a *array) hasShape(shape ...int) bool {
	if len(a.shape) != len(shape) {
		return false
	}
	for i := range shape {
		if a.shape[i] != shape[i] {
			return false
		}
	}
	return true
}

func (a *array) float64s() ([]float64, error) {
	if a.vals == nil {
		return nil, errors.Errorf("dtype %q is not numeric", a.descr)
	}
	return a.vals, nil
}

func (a *array) float32s() ([]float32, error) {
	wide, err := a.float64s()
	if err != nil {
		return nil, err
	}
	ret := make([]float32, len(wide))
	for i, v := range wide {
		ret[i] = float32(v)
	}
	return ret, nil
}

func (a *array) string() (string, error) {
	if !strings.HasPrefix(a.descr, "|S") {
		return "", errors.Errorf("dtype %q is not a byte string", a.descr)
	}
	return a.str, nil
}

// rawArray is an entry npyio has no shape for: byte strings and n-dimensional arrays other
// than float64 matrices. data is the little-endian, C ordered payload.
type rawArray struct {
	descr string
	shape []int
	data  []byte
}

func float32Table(rows, cols int, vals []float32) *rawArray {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return &rawArray{"<f4", []int{rows, cols}, data}
}

func byteString(s string) *rawArray {
	return &rawArray{fmt.Sprintf("|S%d", len(s)), []int{}, []byte(s)}
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	if len(shape) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// writeRaw writes a version 1.0 .npy stream.
func writeRaw(w io.Writer, a *rawArray) error {
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", a.descr, shapeString(a.shape))
	// magic(6) + version(2) + header length(2) + header + '\n' is a multiple of 64
	total := len(npyMagic) + 4 + len(header) + 1
	if pad := total % npyAlignment; pad != 0 {
		header += strings.Repeat(" ", npyAlignment-pad)
	}
	header += "\n"
	if len(header) > math.MaxUint16 {
		return errors.New("npy header too long")
	}

	var prefix bytes.Buffer
	prefix.WriteString(npyMagic)
	prefix.Write([]byte{1, 0})
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	prefix.Write(hlen[:])
	prefix.WriteString(header)
	if _, err := w.Write(prefix.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(a.data)
	return err
}

// writeNPY writes v as a .npy stream. Scalars, slices and *mat.Dense go through npyio.
func writeNPY(w io.Writer, v interface{}) error {
	if raw, ok := v.(*rawArray); ok {
		return writeRaw(w, raw)
	}
	return npyio.Write(w, v)
}

type numeric interface {
	~int16 | ~uint16 | ~int32 | ~int64 | ~float32 | ~float64
}

func readValues[T numeric](r *npyio.Reader, n int, scalar bool) ([]float64, error) {
	var vals []T
	if scalar {
		var v T
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		vals = []T{v}
	} else {
		vals = make([]T, n)
		if err := r.Read(&vals); err != nil {
			return nil, err
		}
	}
	if len(vals) != n {
		return nil, errors.Errorf("read %d values, expected %d", len(vals), n)
	}
	ret := make([]float64, n)
	for i, v := range vals {
		ret[i] = float64(v)
	}
	return ret, nil
}

// readNPY decodes a .npy stream.
func readNPY(r io.Reader) (*array, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	nr, err := npyio.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	descr := nr.Header.Descr
	a := &array{descr: descr.Type, shape: append([]int{}, descr.Shape...)}
	if descr.Fortran && len(a.shape) > 1 {
		return nil, errors.New("fortran ordered arrays are not supported")
	}

	if strings.HasPrefix(a.descr, "|S") {
		n, err := strconv.Atoi(a.descr[2:])
		if err != nil || n < 0 || n*a.size() > len(raw) {
			return nil, errors.Errorf("bad byte string dtype %q", a.descr)
		}
		a.str = string(bytes.TrimRight(raw[len(raw)-n*a.size():], "\x00"))
		return a, nil
	}

	n, scalar := a.size(), len(a.shape) == 0
	switch a.descr {
	case "<f8":
		a.vals, err = readValues[float64](nr, n, scalar)
	case "<f4":
		a.vals, err = readValues[float32](nr, n, scalar)
	case "<i8":
		a.vals, err = readValues[int64](nr, n, scalar)
	case "<i4":
		a.vals, err = readValues[int32](nr, n, scalar)
	case "<i2":
		a.vals, err = readValues[int16](nr, n, scalar)
	case "<u2":
		a.vals, err = readValues[uint16](nr, n, scalar)
	default:
		return nil, errors.Errorf("unsupported dtype %q", a.descr)
	}
	if err != nil {
		return nil, errors.Wrap(err, "truncated npy data")
	}
	return a, nil
}
