package tile

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// EncodePNG encodes a uint8 buffer with 1, 3 or 4 bands as PNG.
func EncodePNG(w io.Writer, buf *Buffer) error {
	if buf.PixelType != Uint8 {
		return errors.Errorf("PNG output needs uint8 pixels, got %s", buf.PixelType)
	}
	width, height := buf.Region.Size.Width, buf.Region.Size.Height
	rect := image.Rect(0, 0, width, height)

	var img image.Image
	switch buf.Bands {
	case 1:
		gray := image.NewGray(rect)
		copy(gray.Pix, buf.Data)
		img = gray
	case 3:
		rgba := image.NewRGBA(rect)
		for i, j := 0, 0; i < len(buf.Data); i, j = i+3, j+4 {
			rgba.Pix[j] = buf.Data[i]
			rgba.Pix[j+1] = buf.Data[i+1]
			rgba.Pix[j+2] = buf.Data[i+2]
			rgba.Pix[j+3] = 255
		}
		img = rgba
	case 4:
		rgba := image.NewRGBA(rect)
		copy(rgba.Pix, buf.Data)
		img = rgba
	default:
		return errors.Errorf("PNG output needs 1, 3 or 4 bands, got %d", buf.Bands)
	}

	return png.Encode(w, img)
}

// WritePNG writes buf as a PNG file, or to stdout when filename is empty.
func WritePNG(fs afero.Fs, filename string, buf *Buffer) error {
	if filename == "" {
		return EncodePNG(os.Stdout, buf)
	}
	file, err := fs.Create(filename)
	if err != nil {
		return err
	}
	if err := EncodePNG(file, buf); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// RawHeader describes a band-interleaved-by-pixel raw file in ENVI style.
func RawHeader(size Size, bands int, pt PixelType) []byte {
	// ENVI data type codes.
	code := map[PixelType]int{Uint8: 1, Int16: 2, Float32: 4, Float64: 5, Uint16: 12}[pt]
	var b bytes.Buffer
	fmt.Fprintf(&b, "ENVI\n")
	fmt.Fprintf(&b, "samples = %d\n", size.Width)
	fmt.Fprintf(&b, "lines = %d\n", size.Height)
	fmt.Fprintf(&b, "bands = %d\n", bands)
	fmt.Fprintf(&b, "header offset = 0\n")
	fmt.Fprintf(&b, "data type = %d\n", code)
	fmt.Fprintf(&b, "interleave = bip\n")
	return b.Bytes()
}

// WriteRawHeader writes the ENVI header that goes with the raw file
// filename and returns its name.
func WriteRawHeader(fs afero.Fs, filename string, size Size, bands int, pt PixelType) (string, error) {
	if filename == "" {
		return "", errors.New("can't write a raw header when writing to stdout")
	}
	name := worldFileName(filename, ".hdr")
	if err := afero.WriteFile(fs, name, RawHeader(size, bands, pt), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

func worldFileName(filename, ext string) string {
	if idx := strings.LastIndex(filename, "."); idx != -1 {
		return filename[:idx] + ext
	}
	return filename + ext
}

// WorldFileData renders the six lines of a world file.
func WorldFileData(spacing, origin [2]float64) []byte {
	var buf bytes.Buffer
	// pixel size x, rotation, rotation, pixel size y, top left x, top left y
	fmt.Fprintf(&buf, "%24.10f\n", spacing[0])
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", spacing[1])
	fmt.Fprintf(&buf, "%24.10f\n", origin[0])
	fmt.Fprintf(&buf, "%24.10f\n", origin[1])
	return buf.Bytes()
}

// WriteWorldFile writes the world file that goes with filename and returns
// its name.
func WriteWorldFile(fs afero.Fs, filename string, spacing, origin [2]float64, outfmt int) (string, error) {
	if filename == "" {
		return "", errors.New("can't write a worldfile when writing to stdout")
	}

	ext := ".wld"
	if outfmt == OUTFMT_PNG {
		ext = ".pnw"
	}
	worldFilename := worldFileName(filename, ext)
	if err := afero.WriteFile(fs, worldFilename, WorldFileData(spacing, origin), 0o644); err != nil {
		return "", err
	}
	return worldFilename, nil
}

// ReadWorldFile looks for a world file next to imagePath and returns the
// spacing and origin it declares. Rotation terms must be zero.
func ReadWorldFile(fs afero.Fs, imagePath string) (spacing, origin [2]float64, err error) {
	for _, ext := range []string{".pnw", ".pgw", ".jgw", ".tfw", ".wld"} {
		f, openErr := fs.Open(worldFileName(imagePath, ext))
		if openErr != nil {
			continue
		}
		defer f.Close()
		return parseWorldFile(f)
	}
	return spacing, origin, os.ErrNotExist
}

func parseWorldFile(r io.Reader) (spacing, origin [2]float64, err error) {
	var v []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return spacing, origin, errors.Wrapf(err, "world file line %d", len(v)+1)
		}
		v = append(v, f)
	}
	if err := sc.Err(); err != nil {
		return spacing, origin, err
	}
	if len(v) != 6 {
		return spacing, origin, errors.Errorf("world file has %d values, want 6", len(v))
	}
	if v[1] != 0 || v[2] != 0 {
		return spacing, origin, errors.New("rotated world files are not supported")
	}
	return [2]float64{v[0], v[3]}, [2]float64{v[4], v[5]}, nil
}
