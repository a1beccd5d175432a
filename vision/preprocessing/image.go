// Package preprocessing converts between raster images and the normalized
// CHW tensors the networks consume, and writes preview grids.
package preprocessing

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/whitebrush/go-cartoon/tensor"
)

// DecodeAndPreprocess decodes an image, resizes it to targetW x targetH
// (nearest neighbor), and returns a (C, H, W) float32 tensor normalized to
// [-1, 1].
func DecodeAndPreprocess(r io.Reader, targetW, targetH int) (*tensor.Tensor, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return ToTensor(resizeNearest(img, targetW, targetH))
}

// ToTensor converts an image to a (3, H, W) tensor in [-1, 1].
func ToTensor(img image.Image) (*tensor.Tensor, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out, err := tensor.Zeros([]int{3, h, w})
	if err != nil {
		return nil, err
	}

	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*w + x
			out.Data[idx] = float32(r)/32767.5 - 1
			out.Data[plane+idx] = float32(g)/32767.5 - 1
			out.Data[2*plane+idx] = float32(b)/32767.5 - 1
		}
	}
	return out, nil
}

// resizeNearest is the same center-free nearest-neighbor scaling the
// dataloaders use; fidelity is good enough for training input.
func resizeNearest(img image.Image, targetW, targetH int) *image.RGBA {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	scaleX := float64(srcW) / float64(targetW)
	scaleY := float64(srcH) / float64(targetH)
	for y := 0; y < targetH; y++ {
		srcY := int(float64(y) * scaleY)
		if srcY >= srcH {
			srcY = srcH - 1
		}
		for x := 0; x < targetW; x++ {
			srcX := int(float64(x) * scaleX)
			if srcX >= srcW {
				srcX = srcW - 1
			}
			dst.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}
	return dst
}

// Denormalize maps a value from [-1, 1] back to an 8-bit channel.
func Denormalize(v float32) uint8 {
	p := (v + 1) * 127.5
	if p < 0 {
		p = 0
	}
	if p > 255 {
		p = 255
	}
	return uint8(p)
}

// TensorToImage renders one sample of a (N, 3, H, W) batch (or a plain
// (3, H, W) tensor with sample 0) back into displayable pixels.
func TensorToImage(t *tensor.Tensor, sample int) (*image.RGBA, error) {
	var c, h, w, offset int
	switch len(t.Shape) {
	case 4:
		if sample < 0 || sample >= t.Shape[0] {
			return nil, fmt.Errorf("sample %d out of range for batch of %d", sample, t.Shape[0])
		}
		c, h, w = t.Shape[1], t.Shape[2], t.Shape[3]
		offset = sample * c * h * w
	case 3:
		c, h, w = t.Shape[0], t.Shape[1], t.Shape[2]
	default:
		return nil, fmt.Errorf("%w: expected 3D or 4D image tensor, got %v", tensor.ErrShapeMismatch, t.Shape)
	}
	if c != 3 {
		return nil, fmt.Errorf("%w: expected 3 channels, got %d", tensor.ErrShapeMismatch, c)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := offset + y*w + x
			pix := (y*w + x) * 4
			img.Pix[pix] = Denormalize(t.Data[idx])
			img.Pix[pix+1] = Denormalize(t.Data[idx+plane])
			img.Pix[pix+2] = Denormalize(t.Data[idx+2*plane])
			img.Pix[pix+3] = 255
		}
	}
	return img, nil
}

// SaveImageGrid denormalizes a (N, 3, H, W) batch and writes it as one PNG
// grid with the given padding between tiles, at most 8 tiles per row.
func SaveImageGrid(path string, batch *tensor.Tensor, padding int) error {
	if len(batch.Shape) != 4 {
		return fmt.Errorf("%w: grid needs a 4D batch, got %v", tensor.ErrShapeMismatch, batch.Shape)
	}
	n, h, w := batch.Shape[0], batch.Shape[2], batch.Shape[3]

	cols := n
	if cols > 8 {
		cols = 8
	}
	rows := (n + cols - 1) / cols

	gridW := cols*w + (cols+1)*padding
	gridH := rows*h + (rows+1)*padding
	grid := image.NewRGBA(image.Rect(0, 0, gridW, gridH))

	for i := 0; i < n; i++ {
		tile, err := TensorToImage(batch, i)
		if err != nil {
			return err
		}
		ox := padding + (i%cols)*(w+padding)
		oy := padding + (i/cols)*(h+padding)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				grid.Set(ox+x, oy+y, tile.At(x, y))
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create preview directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, grid); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}
