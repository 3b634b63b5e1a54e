package calibration

import (
	"image"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/stereocal/rimage"
)

// FrameIndex identifies one capture of the rig. It is the part of a file name before the first
// dash, "0007-123.png" belongs to capture "0007".
type FrameIndex string

// Frame is one capture: a file per channel.
type Frame struct {
	Index FrameIndex
	paths [numChannels]string
}

// Path returns the file holding the frame of a channel.
func (f Frame) Path(c Channel) string {
	return f.paths[c]
}

// FrameSet is an ordered, complete set of captures.
type FrameSet struct {
	Dir    string
	Names  ChannelNames
	Size   image.Point
	frames []Frame
}

// Len returns the number of captures.
func (fs *FrameSet) Len() int {
	return len(fs.frames)
}

// Frames returns the captures in order.
func (fs *FrameSet) Frames() []Frame {
	return fs.frames
}

// Indices returns the capture indices in order.
func (fs *FrameSet) Indices() []FrameIndex {
	indices := make([]FrameIndex, len(fs.frames))
	for i, f := range fs.frames {
		indices[i] = f.Index
	}
	return indices
}

// IndexFrames scans the channel directories of dir for png frames and groups them by capture
// index. Every index has to be present exactly once in every channel and the channels have to
// share their image size, which is read from the first capture.
func IndexFrames(dir string, names ChannelNames) (*FrameSet, error) {
	perChannel := make([]map[FrameIndex]string, numChannels)
	all := map[FrameIndex]struct{}{}
	for _, c := range Channels {
		matches, err := filepath.Glob(filepath.Join(dir, names.Dir(c), "*.png"))
		if err != nil {
			return nil, errors.Wrapf(err, "cannot list the frames of %s", c)
		}
		byIndex := make(map[FrameIndex]string, len(matches))
		for _, fn := range matches {
			idx := FrameIndexFromFilename(fn)
			if prev, ok := byIndex[idx]; ok {
				return nil, errors.Wrapf(ErrInvalidDataset, "frame index %q appears twice in %s: %s and %s",
					idx, names.Dir(c), filepath.Base(prev), filepath.Base(fn))
			}
			byIndex[idx] = fn
			all[idx] = struct{}{}
		}
		perChannel[c] = byIndex
	}
	if len(all) == 0 {
		return nil, errors.Wrapf(ErrInvalidDataset, "no frames found in %s", dir)
	}

	indices := lo.Keys(all)
	SortFrameIndices(indices)

	fs := &FrameSet{Dir: dir, Names: names, frames: make([]Frame, 0, len(indices))}
	for _, idx := range indices {
		frame := Frame{Index: idx}
		for _, c := range Channels {
			fn, ok := perChannel[c][idx]
			if !ok {
				return nil, errors.Wrapf(ErrInvalidDataset, "frame index %q is missing from channel %s (%s)",
					idx, c, names.Dir(c))
			}
			frame.paths[c] = fn
		}
		fs.frames = append(fs.frames, frame)
	}

	for _, c := range Channels {
		fn := fs.frames[0].Path(c)
		cfg, err := rimage.ReadImageConfig(fn)
		if err != nil {
			return nil, err
		}
		size := image.Pt(cfg.Width, cfg.Height)
		if c == IRLeft {
			fs.Size = size
			continue
		}
		if size != fs.Size {
			return nil, errors.Wrapf(ErrDimensionMismatch, "%s frames are %dx%d but %s frames are %dx%d",
				c, size.X, size.Y, IRLeft, fs.Size.X, fs.Size.Y)
		}
	}
	return fs, nil
}

// FrameIndexFromFilename returns the capture index encoded in a frame file name.
func FrameIndexFromFilename(fn string) FrameIndex {
	base := filepath.Base(fn)
	if i := strings.Index(base, "-"); i >= 0 {
		return FrameIndex(base[:i])
	}
	return FrameIndex(strings.TrimSuffix(base, filepath.Ext(base)))
}

// SortFrameIndices orders indices numerically when all of them are integers and
// lexicographically otherwise.
func SortFrameIndices(indices []FrameIndex) {
	numbers := make(map[FrameIndex]int64, len(indices))
	numeric := true
	for _, idx := range indices {
		n, err := strconv.ParseInt(string(idx), 10, 64)
		if err != nil {
			numeric = false
			break
		}
		numbers[idx] = n
	}
	sort.Slice(indices, func(i, j int) bool {
		if numeric && numbers[indices[i]] != numbers[indices[j]] {
			return numbers[indices[i]] < numbers[indices[j]]
		}
		return indices[i] < indices[j]
	})
}
