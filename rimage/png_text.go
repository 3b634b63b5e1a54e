package rimage

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"io"
	"sort"

	"github.com/pkg/errors"
)

const (
	pngSignature = "\x89PNG\r\n\x1a\n"
	// signature + IHDR (length, type, 13 bytes of data, crc)
	pngIHDREnd = 8 + 4 + 4 + 13 + 4
)

// EncodePNGWithText writes img as a PNG with one tEXt chunk per entry of text, placed right
// after the header. With optimize set the best zlib compression is used.
func EncodePNGWithText(w io.Writer, img image.Image, text map[string]string, optimize bool) error {
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if optimize {
		enc.CompressionLevel = png.BestCompression
	}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return err
	}
	encoded := buf.Bytes()
	if len(encoded) < pngIHDREnd || string(encoded[:8]) != pngSignature {
		return errors.New("unexpected png encoder output")
	}

	keys := make([]string, 0, len(text))
	for k := range text {
		if len(k) == 0 || len(k) > 79 || bytes.IndexByte([]byte(k), 0) >= 0 {
			return errors.Errorf("invalid png text keyword %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if _, err := w.Write(encoded[:pngIHDREnd]); err != nil {
		return err
	}
	for _, k := range keys {
		if err := writePNGChunk(w, "tEXt", append(append([]byte(k), 0), text[k]...)); err != nil {
			return err
		}
	}
	_, err := w.Write(encoded[pngIHDREnd:])
	return err
}

// ReadPNGText returns the tEXt entries of a PNG stream. Chunk CRCs are verified.
func ReadPNGText(r io.Reader) (map[string]string, error) {
	sig := make([]byte, 8)
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, err
	}
	if string(sig) != pngSignature {
		return nil, errors.New("not a png stream")
	}
	ret := map[string]string{}
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return nil, errors.Wrap(err, "truncated png chunk header")
		}
		length := binary.BigEndian.Uint32(header[:4])
		chunkType := string(header[4:8])
		if length > 1<<28 {
			return nil, errors.Errorf("png chunk %q too large", chunkType)
		}
		data := make([]byte, length+4)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrapf(err, "truncated png chunk %q", chunkType)
		}
		crc := crc32.NewIEEE()
		crc.Write(header[4:8])
		crc.Write(data[:length])
		if crc.Sum32() != binary.BigEndian.Uint32(data[length:]) {
			return nil, errors.Errorf("bad crc for png chunk %q", chunkType)
		}
		switch chunkType {
		case "tEXt":
			if k, v, ok := bytes.Cut(data[:length], []byte{0}); ok {
				ret[string(k)] = string(v)
			}
		case "IDAT", "IEND":
			// text chunks of interest precede the image data
			return ret, nil
		}
	}
}

func writePNGChunk(w io.Writer, chunkType string, data []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], chunkType)
	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(data)
	var footer [4]byte
	binary.BigEndian.PutUint32(footer[:], crc.Sum32())
	for _, b := range [][]byte{header[:], data, footer[:]} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}
