package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage/bundle"
)

// InspectAction prints a summary of a calibration bundle.
func InspectAction(c *cli.Context) error {
	if err := expectArgs(c, "CALIB"); err != nil {
		return err
	}
	b, err := bundle.Read(c.Args().First())
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", bundleTable(b))
	return nil
}

func formatMatrix(m mat.Matrix) string {
	r, cols := m.Dims()
	rows := make([]string, r)
	for i := 0; i < r; i++ {
		vals := make([]string, cols)
		for j := 0; j < cols; j++ {
			vals[j] = fmt.Sprintf("%.6g", m.At(i, j))
		}
		rows[i] = "[" + strings.Join(vals, " ") + "]"
	}
	return strings.Join(rows, "\n")
}

func formatValues(vals []float64) string {
	strs := make([]string, len(vals))
	for i, v := range vals {
		strs[i] = fmt.Sprintf("%.6g", v)
	}
	return strings.Join(strs, " ")
}

// bundleTable renders every entry of b, with the maps reduced to their size.
func bundleTable(b *bundle.Bundle) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Entry", "Value"})
	sessionID := b.SessionID
	if sessionID == "" {
		sessionID = "-"
	}
	t.AppendRow(table.Row{bundle.KeySessionID, sessionID})
	t.AppendRow(table.Row{bundle.KeyImageSize, fmt.Sprintf("%dx%d", b.Width, b.Height)})
	t.AppendRow(table.Row{bundle.KeyIntrinsic, formatMatrix(b.Intrinsic)})
	t.AppendRow(table.Row{bundle.KeyQ, formatMatrix(b.Q)})
	t.AppendRow(table.Row{bundle.KeyBf, fmt.Sprintf("%.6g", b.Bf)})
	t.AppendRow(table.Row{"baseline", fmt.Sprintf("%.6g", b.RectifiedBaseline())})
	t.AppendRow(table.Row{"map_l", fmt.Sprintf("%dx%d", b.MapLeft.Width(), b.MapLeft.Height())})
	t.AppendRow(table.Row{"map_r", fmt.Sprintf("%dx%d", b.MapRight.Width(), b.MapRight.Height())})
	t.AppendRow(table.Row{bundle.KeyColorIntrinsic, formatMatrix(b.ColorIntrinsic)})
	t.AppendRow(table.Row{bundle.KeyColorDistortion, formatValues(b.ColorDistortion)})
	t.AppendRow(table.Row{bundle.KeyColorR, formatMatrix(b.ColorR)})
	t.AppendRow(table.Row{bundle.KeyColorT, formatValues([]float64{b.ColorT.X, b.ColorT.Y, b.ColorT.Z})})
	t.AppendRow(table.Row{bundle.KeyIRRMS, fmt.Sprintf("%.4f", b.IRRMS)})
	t.AppendRow(table.Row{bundle.KeyColorRMS, fmt.Sprintf("%.4f", b.ColorRMS)})
	return t.Render()
}
