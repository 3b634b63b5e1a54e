package rimage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadPFM decodes a Portable Float Map. Grayscale ("Pf") maps are returned as is; for color
// ("PF") maps only the first channel is kept. Rows are stored bottom to top in the file and are
// flipped so that row 0 is the top of the image.
func ReadPFM(r io.Reader) (*FloatMap, error) {
	br := bufio.NewReader(r)
	magic, err := readHeaderLine(br)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read PFM magic")
	}
	channels := 0
	switch magic {
	case "Pf":
		channels = 1
	case "PF":
		channels = 3
	default:
		return nil, errors.Errorf("not a PFM file, magic %q", magic)
	}

	dims, err := readHeaderLine(br)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read PFM dimensions")
	}
	var width, height int
	if _, err := fmt.Sscanf(dims, "%d %d", &width, &height); err != nil {
		return nil, errors.Wrapf(err, "bad PFM dimensions %q", dims)
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("bad PFM dimensions %dx%d", width, height)
	}

	scaleLine, err := readHeaderLine(br)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read PFM scale")
	}
	scale, err := strconv.ParseFloat(scaleLine, 64)
	if err != nil || scale == 0 {
		return nil, errors.Errorf("bad PFM scale %q", scaleLine)
	}
	var order binary.ByteOrder = binary.BigEndian
	if scale < 0 {
		order = binary.LittleEndian
	}

	raw := make([]byte, 4*channels*width*height)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, errors.Wrap(err, "truncated PFM data")
	}
	fm := NewFloatMap(width, height)
	for row := 0; row < height; row++ {
		y := height - 1 - row
		for x := 0; x < width; x++ {
			off := 4 * channels * (row*width + x)
			fm.Set(x, y, math.Float32frombits(order.Uint32(raw[off:off+4])))
		}
	}
	return fm, nil
}

// ReadPFMFile reads a PFM file from disk.
func ReadPFMFile(fn string) (*FloatMap, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	fm, err := ReadPFM(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %s", fn)
	}
	return fm, nil
}

// WritePFM encodes a single channel little-endian PFM.
func WritePFM(w io.Writer, fm *FloatMap) error {
	if _, err := fmt.Fprintf(w, "Pf\n%d %d\n-1.0\n", fm.Width(), fm.Height()); err != nil {
		return err
	}
	row := make([]byte, 4*fm.Width())
	for y := fm.Height() - 1; y >= 0; y-- {
		for x := 0; x < fm.Width(); x++ {
			binary.LittleEndian.PutUint32(row[4*x:], math.Float32bits(fm.At(x, y)))
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func readHeaderLine(br *bufio.Reader) (string, error) {
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return line, nil
		}
	}
}
