package testdata

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// ImageFormat selects the encoding of a staged image.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	// FormatText stages a plain-text file under an image name, for
	// upload scenarios that expect the site to reject it.
	FormatText ImageFormat = "text"
)

const (
	stagedWidth  = 160
	stagedHeight = 96
)

// Images stages upload fixtures into one directory for a run.
type Images struct {
	dir    string
	mu     sync.Mutex
	staged map[string]string
}

// NewImages creates dir if needed and returns a stager writing into it.
func NewImages(dir string) (*Images, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve image dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Images{dir: abs, staged: map[string]string{}}, nil
}

// Dir returns the staging directory.
func (im *Images) Dir() string {
	return im.dir
}

// Stage writes the image called name in format and returns its absolute path.
// The pixels derive from name only, so equal names give byte-identical files
// and different names give different files.
func (im *Images) Stage(name string, format ImageFormat) (string, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	key := name + "|" + string(format)
	if path, ok := im.staged[key]; ok {
		return path, nil
	}

	data, err := Render(name, format)
	if err != nil {
		return "", err
	}
	path := filepath.Join(im.dir, fileName(name, format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	im.staged[key] = path
	return path, nil
}

func fileName(name string, format ImageFormat) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	switch format {
	case FormatPNG:
		return base + ".png"
	case FormatText:
		// Keeps a .jpg extension so only content sniffing can reject it.
		return base + "-text.jpg"
	default:
		return base + ".jpg"
	}
}

// Render encodes the image for name in format.
func Render(name string, format ImageFormat) ([]byte, error) {
	if format == FormatText {
		return []byte("this is not an image: " + name + "\n"), nil
	}

	img := pattern(name)
	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	return buf.Bytes(), nil
}

// pattern draws diagonal stripes whose colours come from a hash of seed.
func pattern(seed string) *image.RGBA {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum64()

	fg := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}
	bg := color.RGBA{R: ^uint8(sum >> 24), G: ^uint8(sum >> 32), B: ^uint8(sum >> 40), A: 255}
	stripe := int(sum>>48)%12 + 4

	img := image.NewRGBA(image.Rect(0, 0, stagedWidth, stagedHeight))
	for y := 0; y < stagedHeight; y++ {
		for x := 0; x < stagedWidth; x++ {
			if ((x+y)/stripe)%2 == 0 {
				img.SetRGBA(x, y, fg)
			} else {
				img.SetRGBA(x, y, bg)
			}
		}
	}
	return img
}

// DetectMIME reports the content type of a staged file from its bytes.
func DetectMIME(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect %s: %w", path, err)
	}
	return mt.String(), nil
}
