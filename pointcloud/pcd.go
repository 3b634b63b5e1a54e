package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// Clouds are stored in millimeters while PCD files hold meters.
const pcdUnitsPerMeter = 1000.

// ToPCD writes cloud to out as a PCD v0.7 file. Colored clouds carry a packed rgb integer field.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	hasColor := cloud.MetaData().HasColor
	var dataName string
	switch outputType {
	case PCDAscii:
		dataName = "ascii"
	case PCDBinary:
		dataName = "binary"
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown PCD type %d", outputType)
	}

	bw := bufio.NewWriter(out)
	fields := "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n"
	if hasColor {
		fields = "FIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F I\nCOUNT 1 1 1 1\n"
	}
	if _, err := fmt.Fprintf(bw, "VERSION .7\n%sWIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n",
		fields, cloud.Size(), cloud.Size(), dataName); err != nil {
		return err
	}

	var err error
	buf := make([]byte, 16)
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		x := pos.X / pcdUnitsPerMeter
		y := pos.Y / pcdUnitsPerMeter
		z := pos.Z / pcdUnitsPerMeter
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(x)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(z)))
			n := 12
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], uint32(colorToPCDInt(d)))
				n = 16
			}
			_, err = bw.Write(buf[:n])
		default:
			if hasColor {
				_, err = fmt.Fprintf(bw, "%f %f %f %d\n", x, y, z, colorToPCDInt(d))
			} else {
				_, err = fmt.Fprintf(bw, "%f %f %f\n", x, y, z)
			}
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

func colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}
	r, g, b := pt.RGB255()
	return int(r)<<16 | int(g)<<8 | int(b)
}

func pcdIntToColor(c int) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

type pcdFieldType int

const (
	pcdPointOnly  pcdFieldType = 3
	pcdPointColor pcdFieldType = 4
)

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	typ    []pcdValType
	count  []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parseUintList(name string, tokens []string, want int) ([]uint64, error) {
	if len(tokens) != want {
		return nil, errors.Errorf("unexpected number of fields in %s line", name)
	}
	out := make([]uint64, len(tokens))
	for i, token := range tokens {
		v, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s field %s", name, token)
		}
		out[i] = v
	}
	return out, nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch strings.Join(tokens, " ") {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z rgb":
			header.fields = pcdPointColor
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		header.size, err = parseUintList(name, tokens, int(header.fields))
		if err != nil {
			return err
		}
		for _, s := range header.size {
			if s != 4 {
				return errors.Errorf("unsupported pcd field size %d", s)
			}
		}
	case "TYPE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.typ = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			header.typ[i] = pcdValType(token)
			switch header.typ[i] {
			case pcdValFloat, pcdValInt, pcdValUInt:
			default:
				return errors.Errorf("unsupported pcd field type %s", token)
			}
		}
		for i := 0; i < 3; i++ {
			if header.typ[i] != pcdValFloat {
				return errors.New("pcd coordinates must be floats")
			}
		}
	case "COUNT":
		header.count, err = parseUintList(name, tokens, int(header.fields))
		if err != nil {
			return err
		}
		for _, c := range header.count {
			if c != 1 {
				return errors.Errorf("unsupported pcd field count %d", c)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for _, token := range tokens {
			if _, err := strconv.ParseFloat(token, 64); err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %s", token)
			}
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads a PCD v0.7 file with x y z and optionally rgb fields.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.New("compressed pcd not yet supported")
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != int(header.fields) {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		point := make([]float64, len(tokens))
		for j, token := range tokens {
			point[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		if err := setPCDPoint(pc, point, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	record := make([]byte, 4*int(header.fields))
	point := make([]float64, int(header.fields))
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, record); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		for j := range point {
			bits := binary.LittleEndian.Uint32(record[4*j:])
			switch {
			case j < 3:
				point[j] = float64(math.Float32frombits(bits))
			case header.typ[j] == pcdValInt:
				point[j] = float64(int32(bits))
			default:
				// packed colors are also stored as float bit patterns
				point[j] = float64(bits)
			}
		}
		if err := setPCDPoint(pc, point, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func setPCDPoint(pc PointCloud, slice []float64, header pcdHeader) error {
	pos := r3.Vector{
		X: roundPCD(slice[0]),
		Y: roundPCD(slice[1]),
		Z: roundPCD(slice[2]),
	}
	if header.fields == pcdPointColor {
		return pc.Set(pos, NewColoredData(pcdIntToColor(int(slice[3]))))
	}
	return pc.Set(pos, NewBasicData())
}

// roundPCD converts meters to millimeters, dropping float32 noise below a tenth of a millimeter.
func roundPCD(f float64) float64 {
	return math.Round(f*pcdUnitsPerMeter*10) / 10
}
