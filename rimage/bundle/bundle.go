// Package bundle reads and writes the calibration bundle: a numpy .npz archive holding the
// rectification maps, the reprojection matrix and the color camera registration of a stereo rig.
package bundle

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage"
)

// DefaultFilename is the name of the bundle inside a dataset directory.
const DefaultFilename = "calibration.npz"

// Archive keys.
const (
	KeyImageSize       = "im_size"
	KeyIntrinsic       = "intrinsic"
	KeyQ               = "Q"
	KeyBf              = "Bf"
	KeyMapLeftX        = "map_l_x"
	KeyMapLeftY        = "map_l_y"
	KeyMapRightX       = "map_r_x"
	KeyMapRightY       = "map_r_y"
	KeyColorIntrinsic  = "color_intrinsic"
	KeyColorDistortion = "color_distortion"
	KeyColorR          = "color_r"
	KeyColorT          = "color_t"
	KeySessionID       = "session_id"
	KeyIRRMS           = "ir_rms"
	KeyColorRMS        = "color_rms"
)

// ErrInvalidBundle is returned when an archive misses an entry or an entry has the wrong shape.
var ErrInvalidBundle = errors.New("invalid calibration bundle")

// Bundle is the output of a stereo calibration.
type Bundle struct {
	Width  int
	Height int
	// Intrinsic is the 3x3 camera matrix of the rectified left camera.
	Intrinsic *mat.Dense
	// Q maps (x, y, disparity, 1) to homogeneous 3D points in the rectified left frame.
	Q *mat.Dense
	// Bf is baseline times rectified focal length.
	Bf       float64
	MapLeft  *rimage.RemapTable
	MapRight *rimage.RemapTable

	ColorIntrinsic *mat.Dense
	// ColorDistortion is ordered k1 k2 p1 p2 k3.
	ColorDistortion []float64
	// ColorR and ColorT map points of the rectified left frame into the color camera frame.
	ColorR *mat.Dense
	ColorT r3.Vector

	// SessionID, IRRMS and ColorRMS are zero for bundles written without them.
	SessionID string
	IRRMS     float64
	ColorRMS  float64
}

// Validate checks that every matrix and table has the expected shape.
func (b *Bundle) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return errors.Wrapf(ErrInvalidBundle, "bad image size %dx%d", b.Width, b.Height)
	}
	for _, m := range []struct {
		name       string
		m          *mat.Dense
		rows, cols int
	}{
		{KeyIntrinsic, b.Intrinsic, 3, 3},
		{KeyQ, b.Q, 4, 4},
		{KeyColorIntrinsic, b.ColorIntrinsic, 3, 3},
		{KeyColorR, b.ColorR, 3, 3},
	} {
		if m.m == nil {
			return errors.Wrapf(ErrInvalidBundle, "%s is missing", m.name)
		}
		if r, c := m.m.Dims(); r != m.rows || c != m.cols {
			return errors.Wrapf(ErrInvalidBundle, "%s is %dx%d, expected %dx%d", m.name, r, c, m.rows, m.cols)
		}
	}
	if len(b.ColorDistortion) != 5 {
		return errors.Wrapf(ErrInvalidBundle, "%s has %d coefficients, expected 5", KeyColorDistortion, len(b.ColorDistortion))
	}
	for _, t := range []struct {
		name  string
		table *rimage.RemapTable
	}{{"left map", b.MapLeft}, {"right map", b.MapRight}} {
		if t.table == nil || t.table.X == nil || t.table.Y == nil {
			return errors.Wrapf(ErrInvalidBundle, "%s is missing", t.name)
		}
		if t.table.Width() != b.Width || t.table.Height() != b.Height ||
			t.table.Y.Width() != b.Width || t.table.Y.Height() != b.Height {
			return errors.Wrapf(ErrInvalidBundle, "%s is %dx%d, expected %dx%d",
				t.name, t.table.Width(), t.table.Height(), b.Width, b.Height)
		}
	}
	return nil
}

// Write validates b and saves it at path.
func Write(path string, b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	h, w := b.Height, b.Width
	arrays := []namedArray{
		{KeyImageSize, []int64{int64(b.Width), int64(b.Height)}},
		{KeyIntrinsic, b.Intrinsic},
		{KeyQ, b.Q},
		{KeyBf, b.Bf},
		{KeyMapLeftX, float32Table(h, w, b.MapLeft.X.Data())},
		{KeyMapLeftY, float32Table(h, w, b.MapLeft.Y.Data())},
		{KeyMapRightX, float32Table(h, w, b.MapRight.X.Data())},
		{KeyMapRightY, float32Table(h, w, b.MapRight.Y.Data())},
		{KeyColorIntrinsic, b.ColorIntrinsic},
		{KeyColorDistortion, mat.NewDense(1, 5, append([]float64(nil), b.ColorDistortion...))},
		{KeyColorR, b.ColorR},
		{KeyColorT, mat.NewDense(3, 1, []float64{b.ColorT.X, b.ColorT.Y, b.ColorT.Z})},
		{KeyIRRMS, b.IRRMS},
		{KeyColorRMS, b.ColorRMS},
	}
	if b.SessionID != "" {
		arrays = append(arrays, namedArray{KeySessionID, byteString(b.SessionID)})
	}
	return writeNPZ(path, arrays)
}

// Read loads a bundle. Only the presence and the shape of the entries are checked. Tables stored
// in the fixed-point two channel layout are converted to float coordinates.
func Read(path string) (*Bundle, error) {
	arrays, err := readNPZ(path)
	if err != nil {
		return nil, err
	}
	get := func(key string, shape ...int) (*array, error) {
		a, ok := arrays[key]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidBundle, "%s has no %s", path, key)
		}
		if shape != nil && !a.hasShape(shape...) {
			return nil, errors.Wrapf(ErrInvalidBundle, "%s has shape %v, expected %v", key, a.shape, shape)
		}
		return a, nil
	}
	matrix := func(key string, rows, cols int) (*mat.Dense, error) {
		a, err := get(key, rows, cols)
		if err != nil {
			return nil, err
		}
		vals, err := a.float64s()
		if err != nil {
			return nil, errors.Wrap(ErrInvalidBundle, err.Error())
		}
		return mat.NewDense(rows, cols, vals), nil
	}
	scalar := func(key string) (float64, error) {
		a, err := get(key)
		if err != nil {
			return 0, err
		}
		if a.size() != 1 {
			return 0, errors.Wrapf(ErrInvalidBundle, "%s has shape %v, expected a scalar", key, a.shape)
		}
		vals, err := a.float64s()
		if err != nil {
			return 0, errors.Wrap(ErrInvalidBundle, err.Error())
		}
		return vals[0], nil
	}

	b := &Bundle{}
	size, err := get(KeyImageSize, 2)
	if err != nil {
		return nil, err
	}
	sizeVals, err := size.float64s()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidBundle, err.Error())
	}
	b.Width, b.Height = int(sizeVals[0]), int(sizeVals[1])

	if b.Intrinsic, err = matrix(KeyIntrinsic, 3, 3); err != nil {
		return nil, err
	}
	if b.Q, err = matrix(KeyQ, 4, 4); err != nil {
		return nil, err
	}
	if b.Bf, err = scalar(KeyBf); err != nil {
		return nil, err
	}
	if b.MapLeft, err = readTable(get, KeyMapLeftX, KeyMapLeftY, b.Width, b.Height); err != nil {
		return nil, err
	}
	if b.MapRight, err = readTable(get, KeyMapRightX, KeyMapRightY, b.Width, b.Height); err != nil {
		return nil, err
	}
	if b.ColorIntrinsic, err = matrix(KeyColorIntrinsic, 3, 3); err != nil {
		return nil, err
	}
	dist, err := get(KeyColorDistortion)
	if err != nil {
		return nil, err
	}
	if dist.size() != 5 {
		return nil, errors.Wrapf(ErrInvalidBundle, "%s has shape %v, expected 5 coefficients", KeyColorDistortion, dist.shape)
	}
	if b.ColorDistortion, err = dist.float64s(); err != nil {
		return nil, errors.Wrap(ErrInvalidBundle, err.Error())
	}
	if b.ColorR, err = matrix(KeyColorR, 3, 3); err != nil {
		return nil, err
	}
	colorT, err := matrix(KeyColorT, 3, 1)
	if err != nil {
		return nil, err
	}
	b.ColorT = r3.Vector{X: colorT.At(0, 0), Y: colorT.At(1, 0), Z: colorT.At(2, 0)}

	if _, ok := arrays[KeySessionID]; ok {
		if b.SessionID, err = arrays[KeySessionID].string(); err != nil {
			return nil, errors.Wrap(ErrInvalidBundle, err.Error())
		}
	}
	if _, ok := arrays[KeyIRRMS]; ok {
		if b.IRRMS, err = scalar(KeyIRRMS); err != nil {
			return nil, err
		}
	}
	if _, ok := arrays[KeyColorRMS]; ok {
		if b.ColorRMS, err = scalar(KeyColorRMS); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// fixed-point maps store 1/32 pixel fractions in the second table.
const interTabSize = 32

func readTable(
	get func(string, ...int) (*array, error),
	keyX, keyY string,
	width, height int,
) (*rimage.RemapTable, error) {
	ax, err := get(keyX)
	if err != nil {
		return nil, err
	}
	ay, err := get(keyY, height, width)
	if err != nil {
		return nil, err
	}
	table := rimage.NewRemapTable(width, height)
	switch {
	case ax.hasShape(height, width):
		xs, err := ax.float32s()
		if err != nil {
			return nil, errors.Wrap(ErrInvalidBundle, err.Error())
		}
		ys, err := ay.float32s()
		if err != nil {
			return nil, errors.Wrap(ErrInvalidBundle, err.Error())
		}
		copy(table.X.Data(), xs)
		copy(table.Y.Data(), ys)
	case ax.hasShape(height, width, 2) && ax.descr == "<i2" && ay.descr == "<u2":
		xy, err := ax.float64s()
		if err != nil {
			return nil, errors.Wrap(ErrInvalidBundle, err.Error())
		}
		frac, err := ay.float64s()
		if err != nil {
			return nil, errors.Wrap(ErrInvalidBundle, err.Error())
		}
		for i := 0; i < width*height; i++ {
			f := int(frac[i]) & (interTabSize*interTabSize - 1)
			table.X.Data()[i] = float32(xy[2*i] + float64(f%interTabSize)/interTabSize)
			table.Y.Data()[i] = float32(xy[2*i+1] + float64(f/interTabSize)/interTabSize)
		}
	default:
		return nil, errors.Wrapf(ErrInvalidBundle, "%s has shape %v and dtype %s", keyX, ax.shape, ax.descr)
	}
	return table, nil
}

// RectifiedBaseline returns the baseline in target units.
func (b *Bundle) RectifiedBaseline() float64 {
	f := b.Intrinsic.At(0, 0)
	if f == 0 {
		return math.NaN()
	}
	return b.Bf / f
}
