// Package dataset loads training images from directories on disk.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/whitebrush/go-cartoon/tensor"
	"github.com/whitebrush/go-cartoon/vision/preprocessing"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// ImageFolder serves the images of a single directory as normalized
// (3, H, W) tensors. Paired folders hold images twice as wide as they are
// tall, with the cartoon frame on the left and its edge-smoothed counterpart
// on the right; the trainer splits those after batching.
type ImageFolder struct {
	paths     []string
	imageSize int
	paired    bool
}

// NewImageFolder scans dir for supported image files, sorted by name so runs
// are reproducible. When paired is true each image is loaded at width
// 2*imageSize.
func NewImageFolder(dir string, imageSize int, paired bool) (*ImageFolder, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dataset directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if imageExtensions[ext] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(paths)

	return &ImageFolder{paths: paths, imageSize: imageSize, paired: paired}, nil
}

// Len returns the number of images in the folder.
func (d *ImageFolder) Len() int {
	return len(d.paths)
}

// ImageSize returns the height (and unpaired width) items are resized to.
func (d *ImageFolder) ImageSize() int {
	return d.imageSize
}

// Get loads and preprocesses the image at index i.
func (d *ImageFolder) Get(i int) (*tensor.Tensor, error) {
	if i < 0 || i >= len(d.paths) {
		return nil, fmt.Errorf("dataset index %d out of range [0,%d)", i, len(d.paths))
	}

	f, err := os.Open(d.paths[i])
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.paths[i], err)
	}
	defer f.Close()

	width := d.imageSize
	if d.paired {
		width = 2 * d.imageSize
	}
	t, err := preprocessing.DecodeAndPreprocess(f, width, d.imageSize)
	if err != nil {
		return nil, fmt.Errorf("preprocess %s: %w", d.paths[i], err)
	}
	return t, nil
}
