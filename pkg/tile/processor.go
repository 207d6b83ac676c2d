package tile

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gen2brain/webp"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/image/tiff"
)

// Processor opens tile images from local files or web servers.
type Processor struct {
	client    *http.Client
	fs        afero.Fs
	userAgent string
}

// NewProcessor creates a new tile processor reading files from the OS.
func NewProcessor(userAgent string) *Processor {
	return NewProcessorFs(afero.NewOsFs(), userAgent)
}

// NewProcessorFs creates a tile processor reading files from fs.
func NewProcessorFs(fs afero.Fs, userAgent string) *Processor {
	return &Processor{
		client:    &http.Client{},
		fs:        fs,
		userAgent: userAgent,
	}
}

// IsURL reports whether location should be fetched over HTTP.
func IsURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Open returns a source for the image at location. Files are decoded
// lazily on first read; URLs are downloaded immediately.
func (p *Processor) Open(ctx context.Context, location string) (*ImageSource, error) {
	if IsURL(location) {
		data, err := p.DownloadTile(ctx, location)
		if err != nil {
			return nil, errors.Wrapf(err, "can't retrieve %s", location)
		}
		return newImageSource(nil, location, func() ([]byte, error) { return data, nil })
	}
	return newImageSource(p.fs, location, func() ([]byte, error) { return afero.ReadFile(p.fs, location) })
}

// DownloadTile downloads a tile from the given URL
func (p *Processor) DownloadTile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

// DecodeImage detects image format and decodes it into a uint8 buffer
// whose band count follows the image: 1 for grayscale, 3 for JPEG, 4
// otherwise.
func DecodeImage(data []byte) (*Buffer, error) {
	if len(data) >= 4 && bytes.Equal(data[:4], []byte{0x89, 0x50, 0x4E, 0x47}) {
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return imageToBuffer(img, 4), nil
	} else if len(data) >= 2 && bytes.Equal(data[:2], []byte{0xFF, 0xD8}) {
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return imageToBuffer(img, 3), nil
	} else if len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))) {
		img, err := tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return imageToBuffer(img, 4), nil
	} else if len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return imageToBuffer(img, 4), nil
	}

	return nil, errors.New("unrecognized image format")
}

func imageToBuffer(img image.Image, depth int) *Buffer {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	switch img.(type) {
	case *image.Gray, *image.Gray16:
		depth = 1
	}

	buf := NewBuffer(NewRegion(0, 0, width, height), depth, Uint8)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := (y*width + x) * depth
			switch depth {
			case 1:
				buf.Data[idx] = byte(r >> 8)
			case 3:
				buf.Data[idx] = byte(r >> 8)
				buf.Data[idx+1] = byte(g >> 8)
				buf.Data[idx+2] = byte(b >> 8)
			default:
				buf.Data[idx] = byte(r >> 8)
				buf.Data[idx+1] = byte(g >> 8)
				buf.Data[idx+2] = byte(b >> 8)
				buf.Data[idx+3] = byte(a >> 8)
			}
		}
	}
	return buf
}

// MemorySource serves regions out of a buffer held in memory.
type MemorySource struct {
	md  ImageMetadata
	buf *Buffer
}

// NewMemorySource wraps buf. The buffer's region must start at (0,0).
func NewMemorySource(buf *Buffer, origin, spacing [2]float64) *MemorySource {
	return &MemorySource{
		md: ImageMetadata{
			Size:      buf.Region.Size,
			Origin:    origin,
			Spacing:   spacing,
			Bands:     buf.Bands,
			PixelType: buf.PixelType,
		},
		buf: buf,
	}
}

// Metadata implements TileSource.
func (s *MemorySource) Metadata() ImageMetadata {
	return s.md
}

// Read implements TileSource.
func (s *MemorySource) Read(ctx context.Context, region Region) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.buf.Region.Contains(region) {
		return nil, errors.Errorf("region %s outside image %s", region, s.buf.Region)
	}
	out := NewBuffer(region, s.buf.Bands, s.buf.PixelType)
	if err := out.CopyFrom(s.buf, region); err != nil {
		return nil, err
	}
	return out, nil
}

// ImageSource is a PNG, JPEG, TIFF or WebP image decoded on first read.
type ImageSource struct {
	location string
	md       ImageMetadata
	load     func() ([]byte, error)

	once sync.Once
	mem  *MemorySource
	err  error
}

// newImageSource reads the image header. When fs is set, a world file next
// to location supplies origin and spacing.
func newImageSource(fs afero.Fs, location string, load func() ([]byte, error)) (*ImageSource, error) {
	data, err := load()
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", location)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "can't decode image from %s", location)
	}

	bands := 4
	if format == "jpeg" {
		bands = 3
	}
	if cfg.ColorModel == color.GrayModel || cfg.ColorModel == color.Gray16Model {
		bands = 1
	}

	md := ImageMetadata{
		Size:      Size{Width: cfg.Width, Height: cfg.Height},
		Spacing:   [2]float64{1, 1},
		Bands:     bands,
		PixelType: Uint8,
	}
	if fs != nil {
		if spacing, origin, err := ReadWorldFile(fs, location); err == nil {
			md.Spacing, md.Origin = spacing, origin
		}
	}

	// Files are read again on first Read; only the header is needed here.
	return &ImageSource{location: location, md: md, load: load}, nil
}

// Location returns the path or URL the image was opened from.
func (s *ImageSource) Location() string {
	return s.location
}

// Metadata implements TileSource.
func (s *ImageSource) Metadata() ImageMetadata {
	return s.md
}

// Read implements TileSource.
func (s *ImageSource) Read(ctx context.Context, region Region) (*Buffer, error) {
	s.once.Do(func() {
		data, err := s.load()
		if err != nil {
			s.err = errors.Wrapf(err, "reading %s", s.location)
			return
		}
		buf, err := DecodeImage(data)
		if err != nil {
			s.err = errors.Wrapf(err, "can't decode image from %s", s.location)
			return
		}
		s.mem = NewMemorySource(buf, s.md.Origin, s.md.Spacing)
	})
	if s.err != nil {
		return nil, s.err
	}
	return s.mem.Read(ctx, region)
}
