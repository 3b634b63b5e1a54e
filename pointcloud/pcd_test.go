package pointcloud

import (
	"bytes"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/stereocal/logging"
)

func makeTestCloud(t *testing.T, colored bool) PointCloud {
	t.Helper()
	pc := New()
	pts := []r3.Vector{{X: -1, Y: -2, Z: 5}, {X: 582, Y: 12, Z: 0}, {X: 7, Y: 6, Z: 1}, {X: 1, Y: 2, Z: 9}, {X: 1, Y: 2, Z: 0}}
	for i, p := range pts {
		var d Data = NewBasicData()
		if colored {
			d = NewColoredData(color.NRGBA{R: uint8(40 * i), G: uint8(255 - 30*i), B: 7, A: 255})
		}
		test.That(t, pc.Set(p, d), test.ShouldBeNil)
	}
	return pc
}

func assertSameCloud(t *testing.T, got, want PointCloud) {
	t.Helper()
	test.That(t, got.Size(), test.ShouldEqual, want.Size())
	test.That(t, got.MetaData().HasColor, test.ShouldEqual, want.MetaData().HasColor)
	want.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		gd, ok := got.At(p.X, p.Y, p.Z)
		test.That(t, ok, test.ShouldBeTrue)
		if d.HasColor() {
			test.That(t, gd.HasColor(), test.ShouldBeTrue)
			r, g, b := gd.RGB255()
			wr, wg, wb := d.RGB255()
			test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{wr, wg, wb})
		}
		return true
	})
}

func TestPCDRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name    string
		colored bool
		typ     PCDType
	}{
		{"ascii", false, PCDAscii},
		{"ascii colored", true, PCDAscii},
		{"binary", false, PCDBinary},
		{"binary colored", true, PCDBinary},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cloud := makeTestCloud(t, tc.colored)
			var buf bytes.Buffer
			test.That(t, ToPCD(cloud, &buf, tc.typ), test.ShouldBeNil)
			read, err := ReadPCD(&buf)
			test.That(t, err, test.ShouldBeNil)
			assertSameCloud(t, read, cloud)
		})
	}
}

func TestPCDHeader(t *testing.T) {
	cloud := makeTestCloud(t, true)
	var buf bytes.Buffer
	test.That(t, ToPCD(cloud, &buf, PCDAscii), test.ShouldBeNil)
	lines := strings.Split(buf.String(), "\n")
	test.That(t, lines[:10], test.ShouldResemble, []string{
		"VERSION .7",
		"FIELDS x y z rgb",
		"SIZE 4 4 4 4",
		"TYPE F F F I",
		"COUNT 1 1 1 1",
		"WIDTH 5",
		"HEIGHT 1",
		"VIEWPOINT 0 0 0 1 0 0 0",
		"POINTS 5",
		"DATA ascii",
	})
	// millimeters are written as meters
	test.That(t, lines[10], test.ShouldEqual, "-0.001000 -0.002000 0.005000 65287")

	test.That(t, ToPCD(cloud, &buf, PCDCompressed), test.ShouldNotBeNil)
}

func TestReadPCDErrors(t *testing.T) {
	header := func(fields, data string) string {
		return "# a comment\nVERSION .7\n" + fields +
			"WIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA " + data + "\n"
	}
	xyz := "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n"

	pc, err := ReadPCD(strings.NewReader(header(xyz, "ascii") + "0.5 0.25 1\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, CloudContains(pc, 500, 250, 1000), test.ShouldBeTrue)

	for _, tc := range []struct {
		name, input, msg string
	}{
		{"version", strings.Replace(header(xyz, "ascii"), ".7", ".6", 1), "version"},
		{"fields", header("FIELDS x y z normal\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n", "ascii"), "fields"},
		{"order", "VERSION .7\nWIDTH 1\n", "FIELDS"},
		{"points", strings.Replace(header(xyz, "ascii"), "POINTS 1", "POINTS 2", 1), "WIDTH*HEIGHT"},
		{"compressed", header(xyz, "binary_compressed"), "compressed"},
		{"short ascii", header(xyz, "ascii") + "0.5 0.25\n", "number of fields"},
		{"short binary", header(xyz, "binary") + "abc", "point 0"},
		{"truncated header", "VERSION .7\n", "header line"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadPCD(strings.NewReader(tc.input))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}
}

func TestFileRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	cloud := makeTestCloud(t, true)

	for _, name := range []string{"cloud.pcd", "cloud.las"} {
		fn := filepath.Join(dir, name)
		test.That(t, WriteToFile(cloud, fn, PCDBinary), test.ShouldBeNil)
		read, err := NewFromFile(fn, logger)
		test.That(t, err, test.ShouldBeNil)
		assertSameCloud(t, read, cloud)
	}

	valued := New()
	test.That(t, valued.Set(NewVector(3, 4, 5), NewValueData(42)), test.ShouldBeNil)
	test.That(t, valued.Set(NewVector(6, 7, 8), NewBasicData()), test.ShouldBeNil)
	fn := filepath.Join(dir, "valued.las")
	test.That(t, WriteToLASFile(valued, fn), test.ShouldBeNil)
	read, err := NewFromLASFile(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	d, ok := read.At(3, 4, 5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Value(), test.ShouldEqual, 42)

	test.That(t, WriteToFile(cloud, filepath.Join(dir, "cloud.ply"), PCDAscii), test.ShouldNotBeNil)
	_, err = NewFromFile(filepath.Join(dir, "cloud.ply"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}
