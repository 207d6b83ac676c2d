package sensor

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Metadata is the keyword list a model is built from. It is read-only once
// created.
type Metadata struct {
	kw map[string]string
}

// NewMetadata copies kw into a Metadata.
func NewMetadata(kw map[string]string) Metadata {
	md := Metadata{kw: make(map[string]string, len(kw))}
	for k, v := range kw {
		md.kw[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return md
}

// ReadMetadata parses "key: value" lines. Blank lines and lines starting
// with # are ignored.
func ReadMetadata(r io.Reader) (Metadata, error) {
	kw := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Metadata{}, errors.Wrapf(ErrModelBuild, "line %d: expected \"key: value\", got %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return Metadata{}, errors.Wrapf(ErrModelBuild, "line %d: empty key", lineNo)
		}
		kw[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return Metadata{}, errors.Wrap(err, "reading metadata")
	}
	return Metadata{kw: kw}, nil
}

// LoadMetadata reads a geometry file from fs.
func LoadMetadata(fs afero.Fs, path string) (Metadata, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "opening geometry file %s", path)
	}
	defer f.Close()
	md, err := ReadMetadata(f)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "parsing %s", path)
	}
	return md, nil
}

// Len returns the number of keywords.
func (md Metadata) Len() int { return len(md.kw) }

// Get returns the value of key.
func (md Metadata) Get(key string) (string, bool) {
	v, ok := md.kw[key]
	return v, ok
}

// Keys returns all keys in sorted order.
func (md Metadata) Keys() []string {
	keys := make([]string, 0, len(md.kw))
	for k := range md.kw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present.
func (md Metadata) Has(key string) bool {
	_, ok := md.kw[key]
	return ok
}

func (md Metadata) float(key string) (float64, error) {
	v, ok := md.kw[key]
	if !ok {
		return 0, errors.Wrapf(ErrModelBuild, "missing keyword %q", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrModelBuild, "keyword %q: %q is not a number", key, v)
	}
	return f, nil
}

func (md Metadata) floatOr(key string, def float64) (float64, error) {
	if !md.Has(key) {
		return def, nil
	}
	return md.float(key)
}

func (md Metadata) positiveInt(key string) (int, error) {
	v, ok := md.kw[key]
	if !ok {
		return 0, errors.Wrapf(ErrModelBuild, "missing keyword %q", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.Wrapf(ErrModelBuild, "keyword %q: %q is not a positive integer", key, v)
	}
	return n, nil
}

// coefficients reads prefix00 .. prefix19.
func (md Metadata) coefficients(prefix string) ([numCoefficients]float64, error) {
	var c [numCoefficients]float64
	for i := range c {
		v, err := md.float(prefix + twoDigits(i))
		if err != nil {
			return c, err
		}
		c[i] = v
	}
	return c, nil
}

// hasAny reports whether any of prefix00 .. prefix19 is present.
func (md Metadata) hasAny(prefix string) bool {
	for i := 0; i < numCoefficients; i++ {
		if md.Has(prefix + twoDigits(i)) {
			return true
		}
	}
	return false
}

func twoDigits(i int) string {
	if i < 10 {
		return "0" + strconv.Itoa(i)
	}
	return strconv.Itoa(i)
}
