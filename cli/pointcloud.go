package cli

import (
	"context"
	"image"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/pointcloud"
	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/registration"
	"go.viam.com/stereocal/utils"
)

// pointCloudColorExtensions are tried in order to find the color frame of a depth frame.
var pointCloudColorExtensions = []string{".jpg", ".png", ".bmp", ".qoi", ".ppm"}

type pointCloudBuilder struct {
	dir      string
	camera   *registration.CameraInfo
	maxDepth float64
	pcdType  pointcloud.PCDType
	writeLAS bool
	writeRaw bool
	logger   logging.Logger
}

func (pb *pointCloudBuilder) findColor(name string) string {
	for _, ext := range pointCloudColorExtensions {
		fn := filepath.Join(pb.dir, colorDir, name+ext)
		if ok, err := pathExists(fn); err == nil && ok {
			return fn
		}
	}
	return ""
}

// build writes DIR/NAME.pcd, and the optional exports, from depth/NAME.png.
func (pb *pointCloudBuilder) build(ctx context.Context, name string) error {
	dm, scale, err := rimage.ReadDepthMapPNG(filepath.Join(pb.dir, depthDir, name+".png"))
	if err != nil {
		return err
	}
	var img image.Image
	if fn := pb.findColor(name); fn != "" {
		if img, err = rimage.ReadImageFromFile(fn); err != nil {
			return err
		}
	} else {
		pb.logger.Warnw("no color frame, the cloud will not be colored", "frame", name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cloud, err := pointcloud.NewFromDepth(dm, scale, img, pb.camera.Intrinsics(), pb.maxDepth)
	if err != nil {
		return errors.Wrap(err, name)
	}
	base := filepath.Join(pb.dir, name)
	if err := pointcloud.WriteToFile(cloud, base+".pcd", pb.pcdType); err != nil {
		return err
	}
	if pb.writeLAS {
		if err := pointcloud.WriteToFile(cloud, base+".las", pb.pcdType); err != nil {
			return err
		}
	}
	if pb.writeRaw {
		if err := pointcloud.WriteToFile(cloud, base+".dat", pb.pcdType); err != nil {
			return err
		}
	}
	pb.logger.Infow("saved point cloud", "frame", name, "points", cloud.Size(), "depth_scale", scale)
	return nil
}

// PointCloudAction back-projects registered depth frames into point clouds, using the camera
// description written by make-depth.
func PointCloudAction(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return errors.Errorf("%s expects a directory and at least one frame name", c.Command.Name)
	}
	dir := c.Args().First()
	names := c.Args().Tail()
	threshold := c.Float64(pointCloudFlagThreshold)
	if threshold < 0 {
		return errors.Errorf("the threshold cannot be negative, got %v", threshold)
	}
	camera, err := registration.ReadCameraInfo(filepath.Join(dir, registration.CameraInfoFilename))
	if err != nil {
		return err
	}

	pb := &pointCloudBuilder{
		dir:      dir,
		camera:   camera,
		maxDepth: threshold * 1000,
		pcdType:  pointcloud.PCDAscii,
		writeLAS: c.Bool(pointCloudFlagLAS),
		writeRaw: c.Bool(pointCloudFlagExportRaw),
		logger:   loggerFromContext(c).Sublogger("pointcloud"),
	}
	if c.Bool(pointCloudFlagBinary) {
		pb.pcdType = pointcloud.PCDBinary
	}
	if err := utils.ForEach(c.Context, c.Int(flagWorkers), names, pb.build); err != nil {
		return err
	}
	printf(c.App.Writer, "Saved %d point clouds in %s", len(names), dir)
	return nil
}
