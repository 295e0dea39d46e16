// This file contains a minimal OpenEXR codec: single-part scanline files, read with NONE, ZIPS or ZIP
// compression and written uncompressed. Pixels are linear and premultiplied, so they map onto
// ImageBuffer without conversion.

package imaging

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/x448/float16"
)

var (
	// ErrInvalidEXR is returned for files that are not well-formed OpenEXR.
	ErrInvalidEXR = errors.New("invalid exr file")
	// ErrUnsupportedEXR is returned for valid OpenEXR features this codec does not handle
	// (tiles, deep data, multi-part files, PIZ and lossy compressions, subsampled channels).
	ErrUnsupportedEXR = errors.New("unsupported exr feature")
)

// MaxEXRPixels bounds the data window DecodeEXR accepts.
var MaxEXRPixels = 1 << 26

// PixelType is the storage type of an EXR channel.
type PixelType int32

const (
	PixelUint  PixelType = 0
	PixelHalf  PixelType = 1
	PixelFloat PixelType = 2
)

func (pt PixelType) size() int {
	if pt == PixelHalf {
		return 2
	}
	return 4
}

const (
	exrMagic   = 20000630
	exrVersion = 2

	flagTiled     = 0x200
	flagLongNames = 0x400
	flagDeep      = 0x800
	flagMultipart = 0x1000

	compressionNone = 0
	compressionZIPS = 2
	compressionZIP  = 3
)

type exrChannel struct {
	name      string
	pixelType PixelType
	xSampling int32
	ySampling int32
}

type exrHeader struct {
	channels    []exrChannel
	compression byte
	xMin, yMin  int32
	xMax, yMax  int32
}

func (h *exrHeader) width() int  { return int(h.xMax) - int(h.xMin) + 1 }
func (h *exrHeader) height() int { return int(h.yMax) - int(h.yMin) + 1 }

func (h *exrHeader) linesPerChunk() (int, error) {
	switch h.compression {
	case compressionNone, compressionZIPS:
		return 1, nil
	case compressionZIP:
		return 16, nil
	default:
		return 0, fmt.Errorf("%w: compression %d", ErrUnsupportedEXR, h.compression)
	}
}

func (h *exrHeader) lineBytes() int {
	n := 0
	for _, c := range h.channels {
		n += h.width() * c.pixelType.size()
	}
	return n
}

// exrReader is a bounds-checked little-endian cursor over the whole file.
type exrReader struct {
	buf []byte
	pos int
	err error
}

func (r *exrReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: truncated at byte %d", ErrInvalidEXR, r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *exrReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *exrReader) i32() int32 { return int32(r.u32()) }

func (r *exrReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *exrReader) cstring() string {
	if r.err != nil {
		return ""
	}
	end := bytes.IndexByte(r.buf[r.pos:], 0)
	if end < 0 {
		r.err = fmt.Errorf("%w: unterminated string at byte %d", ErrInvalidEXR, r.pos)
		return ""
	}
	s := string(r.buf[r.pos : r.pos+end])
	r.pos += end + 1
	return s
}

// DecodeEXR reads a scanline OpenEXR image.
func DecodeEXR(src io.Reader) (*ImageBuffer, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	r := &exrReader{buf: data}

	if r.u32() != exrMagic {
		return nil, fmt.Errorf("%w: bad magic number", ErrInvalidEXR)
	}
	version := r.u32()
	if version&0xff != exrVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedEXR, version&0xff)
	}
	if version&(flagTiled|flagDeep|flagMultipart) != 0 {
		return nil, fmt.Errorf("%w: flags 0x%x", ErrUnsupportedEXR, version&^0xff&^flagLongNames)
	}

	h, err := readEXRHeader(r)
	if err != nil {
		return nil, err
	}

	lines, err := h.linesPerChunk()
	if err != nil {
		return nil, err
	}
	height := h.height()
	width := h.width()
	if width > MaxEXRPixels/height {
		return nil, fmt.Errorf("%w: data window %dx%d exceeds %d pixels", ErrUnsupportedEXR, width, height, MaxEXRPixels)
	}
	chunks := (height + lines - 1) / lines
	if chunks > (len(data)-r.pos)/8 {
		return nil, fmt.Errorf("%w: offset table of %d chunks exceeds file size", ErrInvalidEXR, chunks)
	}
	offsets := make([]uint64, chunks)
	for i := range offsets {
		offsets[i] = r.u64()
	}
	if r.err != nil {
		return nil, r.err
	}

	out := New(width, height)
	out.SetAlpha(1)
	lineBytes := h.lineBytes()

	for _, off := range offsets {
		if off >= uint64(len(data)) {
			return nil, fmt.Errorf("%w: chunk offset %d out of range", ErrInvalidEXR, off)
		}
		r.pos = int(off)
		y := int(r.i32() - h.yMin)
		size := int(r.i32())
		payload := r.take(size)
		if r.err != nil {
			return nil, r.err
		}
		if y < 0 || y >= height {
			return nil, fmt.Errorf("%w: chunk line %d outside data window", ErrInvalidEXR, y)
		}

		n := lines
		if y+n > height {
			n = height - y
		}
		raw, err := inflateChunk(h.compression, payload, n*lineBytes)
		if err != nil {
			return nil, err
		}
		scatterLines(out, h, raw, y, n)
	}
	return out, nil
}

func readEXRHeader(r *exrReader) (*exrHeader, error) {
	h := &exrHeader{}
	var haveChannels, haveWindow bool
	for {
		name := r.cstring()
		if r.err != nil {
			return nil, r.err
		}
		if name == "" {
			break
		}
		r.cstring() // attribute type
		size := int(r.i32())
		value := r.take(size)
		if r.err != nil {
			return nil, r.err
		}

		switch name {
		case "channels":
			chans, err := parseChannelList(value)
			if err != nil {
				return nil, err
			}
			h.channels = chans
			haveChannels = true
		case "compression":
			if len(value) < 1 {
				return nil, fmt.Errorf("%w: empty compression attribute", ErrInvalidEXR)
			}
			h.compression = value[0]
		case "dataWindow":
			if len(value) < 16 {
				return nil, fmt.Errorf("%w: short dataWindow", ErrInvalidEXR)
			}
			h.xMin = int32(binary.LittleEndian.Uint32(value[0:]))
			h.yMin = int32(binary.LittleEndian.Uint32(value[4:]))
			h.xMax = int32(binary.LittleEndian.Uint32(value[8:]))
			h.yMax = int32(binary.LittleEndian.Uint32(value[12:]))
			haveWindow = true
		}
	}
	if !haveChannels || !haveWindow {
		return nil, fmt.Errorf("%w: missing channels or dataWindow", ErrInvalidEXR)
	}
	if h.width() <= 0 || h.height() <= 0 {
		return nil, fmt.Errorf("%w: empty data window", ErrInvalidEXR)
	}
	return h, nil
}

func parseChannelList(value []byte) ([]exrChannel, error) {
	r := &exrReader{buf: value}
	var chans []exrChannel
	for {
		name := r.cstring()
		if r.err != nil {
			return nil, r.err
		}
		if name == "" {
			break
		}
		c := exrChannel{name: name, pixelType: PixelType(r.i32())}
		r.take(4) // pLinear + reserved
		c.xSampling = r.i32()
		c.ySampling = r.i32()
		if r.err != nil {
			return nil, r.err
		}
		if c.pixelType < PixelUint || c.pixelType > PixelFloat {
			return nil, fmt.Errorf("%w: channel %s has pixel type %d", ErrInvalidEXR, name, c.pixelType)
		}
		if c.xSampling != 1 || c.ySampling != 1 {
			return nil, fmt.Errorf("%w: subsampled channel %s", ErrUnsupportedEXR, name)
		}
		chans = append(chans, c)
	}
	return chans, nil
}

// inflateChunk undoes ZIP/ZIPS compression: zlib, then the byte predictor, then the
// even/odd byte interleave. Chunks that did not shrink are stored raw.
func inflateChunk(compression byte, payload []byte, rawSize int) ([]byte, error) {
	if compression == compressionNone || len(payload) == rawSize {
		if len(payload) != rawSize {
			return nil, fmt.Errorf("%w: chunk has %d bytes, want %d", ErrInvalidEXR, len(payload), rawSize)
		}
		return payload, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEXR, err)
	}
	defer zr.Close()
	tmp := make([]byte, rawSize)
	if _, err := io.ReadFull(zr, tmp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEXR, err)
	}

	for i := 1; i < len(tmp); i++ {
		tmp[i] = byte(int(tmp[i-1]) + int(tmp[i]) - 128)
	}

	raw := make([]byte, rawSize)
	half := (rawSize + 1) / 2
	for i := 0; i < rawSize; i++ {
		if i%2 == 0 {
			raw[i] = tmp[i/2]
		} else {
			raw[i] = tmp[half+i/2]
		}
	}
	return raw, nil
}

// channelTargets maps an EXR channel name to ImageBuffer channel indices. Layered names
// ("diffuse.R") fall back to their last component.
func channelTargets(name string) []int {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "R":
		return []int{0}
	case "G":
		return []int{1}
	case "B":
		return []int{2}
	case "A":
		return []int{3}
	case "Y":
		return []int{0, 1, 2}
	default:
		return nil
	}
}

func scatterLines(out *ImageBuffer, h *exrHeader, raw []byte, y0, n int) {
	width := h.width()
	pos := 0
	for l := 0; l < n; l++ {
		row := (y0 + l) * width * Channels
		for _, c := range h.channels {
			targets := channelTargets(c.name)
			step := c.pixelType.size()
			for x := 0; x < width; x++ {
				v := readSample(raw[pos:pos+step], c.pixelType)
				pos += step
				for _, t := range targets {
					out.Pix[row+x*Channels+t] = v
				}
			}
		}
	}
}

func readSample(b []byte, pt PixelType) float32 {
	switch pt {
	case PixelHalf:
		return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
	case PixelFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	default:
		return float32(binary.LittleEndian.Uint32(b))
	}
}

// EncodeEXR writes img as an uncompressed scanline OpenEXR file with A, B, G, R channels of the
// given pixel type (PixelHalf or PixelFloat).
func EncodeEXR(w io.Writer, img *ImageBuffer, pt PixelType) error {
	if pt != PixelHalf && pt != PixelFloat {
		return fmt.Errorf("%w: writing pixel type %d", ErrUnsupportedEXR, pt)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, img.Width, img.Height)
	}

	var hdr bytes.Buffer
	le := binary.LittleEndian
	put := func(v any) { _ = binary.Write(&hdr, le, v) }
	attr := func(name, typ string, value []byte) {
		hdr.WriteString(name)
		hdr.WriteByte(0)
		hdr.WriteString(typ)
		hdr.WriteByte(0)
		put(int32(len(value)))
		hdr.Write(value)
	}

	put(uint32(exrMagic))
	put(uint32(exrVersion))

	// EXR requires channels in alphabetical order.
	order := []struct {
		name string
		idx  int
	}{{"A", 3}, {"B", 2}, {"G", 1}, {"R", 0}}

	var chlist bytes.Buffer
	for _, c := range order {
		chlist.WriteString(c.name)
		chlist.WriteByte(0)
		_ = binary.Write(&chlist, le, int32(pt))
		chlist.Write([]byte{0, 0, 0, 0})
		_ = binary.Write(&chlist, le, int32(1))
		_ = binary.Write(&chlist, le, int32(1))
	}
	chlist.WriteByte(0)

	box := func() []byte {
		var b bytes.Buffer
		_ = binary.Write(&b, le, [4]int32{0, 0, int32(img.Width - 1), int32(img.Height - 1)})
		return b.Bytes()
	}
	f32 := func(v ...float32) []byte {
		var b bytes.Buffer
		_ = binary.Write(&b, le, v)
		return b.Bytes()
	}

	attr("channels", "chlist", chlist.Bytes())
	attr("compression", "compression", []byte{compressionNone})
	attr("dataWindow", "box2i", box())
	attr("displayWindow", "box2i", box())
	attr("lineOrder", "lineOrder", []byte{0})
	attr("pixelAspectRatio", "float", f32(1))
	attr("screenWindowCenter", "v2f", f32(0, 0))
	attr("screenWindowWidth", "float", f32(1))
	hdr.WriteByte(0)

	lineBytes := img.Width * len(order) * pt.size()
	chunkBytes := 8 + lineBytes
	first := hdr.Len() + 8*img.Height
	for y := 0; y < img.Height; y++ {
		put(uint64(first + y*chunkBytes))
	}
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}

	line := make([]byte, chunkBytes)
	for y := 0; y < img.Height; y++ {
		le.PutUint32(line[0:], uint32(y))
		le.PutUint32(line[4:], uint32(lineBytes))
		pos := 8
		for _, c := range order {
			for x := 0; x < img.Width; x++ {
				v := img.Pix[img.Offset(x, y)+c.idx]
				if pt == PixelHalf {
					le.PutUint16(line[pos:], float16.Fromfloat32(v).Bits())
					pos += 2
				} else {
					le.PutUint32(line[pos:], math.Float32bits(v))
					pos += 4
				}
			}
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}
