package pointcloud

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/stereocal/logging"
)

// NewFromFile returns a pointcloud read in from the given file.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return NewFromLASFile(fn, logger)
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the cloud in the format named by the extension of fn: ".pcd" (written as
// pcdType), ".las" or ".dat" (raw float32 records).
func WriteToFile(cloud PointCloud, fn string, pcdType PCDType) (err error) {
	ext := strings.ToLower(filepath.Ext(fn))
	if ext == ".las" {
		return WriteToLASFile(cloud, fn)
	}
	if ext != ".pcd" && ext != ".dat" {
		return errors.Errorf("do not know how to write file %q", fn)
	}
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if ext == ".dat" {
		return WriteRaw(cloud, f)
	}
	return ToPCD(cloud, f, pcdType)
}

// lasValueTag names the variable length record holding the value of every point, as
// little-endian uint64s in point order.
const lasValueTag = "rc|pv"

const (
	lasFormatPlain   = 0
	lasFormatColored = 2
)

func lasValues(lf *lidario.LasFile) ([]byte, bool) {
	for _, vlr := range lf.VlrData {
		if vlr.Description == lasValueTag {
			return vlr.BinaryData, true
		}
	}
	return nil, false
}

func lasColor(rgb *lidario.RgbData) color.NRGBA {
	return color.NRGBA{R: uint8(rgb.Red >> 8), G: uint8(rgb.Green >> 8), B: uint8(rgb.Blue >> 8), A: 255}
}

// NewFromLASFile reads a LAS file. Points outside of the range float64 holds exactly are
// logged, not rejected.
func NewFromLASFile(fn string, logger logging.Logger) (PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	numPoints := lf.Header.NumberPoints
	values, hasValue := lasValues(lf)
	if hasValue && len(values) < 8*numPoints {
		return nil, errors.Errorf("%s: value data holds %d bytes for %d points", fn, len(values), numPoints)
	}
	colored := lf.Header.PointFormatID == lasFormatColored

	pc := NewWithPrealloc(numPoints)
	for i := 0; i < numPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		pd := p.PointData()
		pos := r3.Vector{X: pd.X, Y: pd.Y, Z: pd.Z}
		if checkPrecise(pos) != nil {
			logger.Warnw("LAS point may lose precision", "file", fn, "index", i,
				"range", fmt.Sprintf("[%f,%f]", minPreciseFloat64, maxPreciseFloat64))
		}

		var d Data
		if colored && p.RgbData() != nil {
			d = NewColoredData(lasColor(p.RgbData()))
		}
		if hasValue {
			if d == nil {
				d = NewBasicData()
			}
			d.SetValue(int(binary.LittleEndian.Uint64(values[8*i:])))
		}
		if err := pc.Set(pos, d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func lasRecord(pos r3.Vector, d Data, colored bool) lidario.LasPointer {
	rec := &lidario.PointRecord0{
		X: pos.X,
		Y: pos.Y,
		Z: pos.Z,
		// single return
		BitField:      lidario.PointBitField{Value: 1 | 1<<3},
		PointSourceID: 1,
	}
	if !colored {
		return rec
	}
	rgb := &lidario.RgbData{Red: 0xFFFF, Green: 0xFFFF, Blue: 0xFFFF}
	if d != nil && d.HasColor() {
		r, g, b := d.RGB255()
		rgb = &lidario.RgbData{Red: uint16(r) << 8, Green: uint16(g) << 8, Blue: uint16(b) << 8}
	}
	return &lidario.PointRecord2{PointRecord0: rec, RGB: rgb}
}

// WriteToLASFile writes the cloud as a LAS file, in point format 2 when it is colored. Point
// values are kept in a variable length record.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	meta := cloud.MetaData()
	format := lasFormatPlain
	if meta.HasColor {
		format = lasFormatColored
	}
	if err := lf.AddHeader(lidario.LasHeader{PointFormatID: byte(format)}); err != nil {
		return err
	}

	var values bytes.Buffer
	var raw [8]byte
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		if meta.HasValue {
			var v int
			if d != nil && d.HasValue() {
				v = d.Value()
			}
			binary.LittleEndian.PutUint64(raw[:], uint64(v))
			values.Write(raw[:])
		}
		err = lf.AddLasPoint(lasRecord(pos, d, meta.HasColor))
		return err == nil
	})
	if err != nil || !meta.HasValue {
		return err
	}
	return lf.AddVLR(lidario.VLR{
		Description:             lasValueTag,
		BinaryData:              values.Bytes(),
		RecordLengthAfterHeader: values.Len(),
	})
}
