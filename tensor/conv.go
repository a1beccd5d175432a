package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// conv2dOp implements a strided, zero-padded 2D convolution over NCHW
// input. The forward and backward passes lower the convolution to matrix
// multiplies (im2col / col2im) so the inner loops run through gonum.
type conv2dOp struct {
	x, w, b     *Tensor
	stride, pad int
	oh, ow      int
}

func (op *conv2dOp) Inputs() []*Tensor { return []*Tensor{op.x, op.w, op.b} }

// Conv2DAutograd convolves x (N,C,H,W) with weights w (F,C,KH,KW) and a
// per-filter bias b (F), producing (N,F,OH,OW) logits/activations with
// gradient tracking into x, w and b.
func Conv2DAutograd(x, w, b *Tensor, stride, pad int) (*Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("%w: conv2d input must be 4D (NCHW), got %v", ErrShapeMismatch, x.Shape)
	}
	if len(w.Shape) != 4 {
		return nil, fmt.Errorf("%w: conv2d weight must be 4D (FCKK), got %v", ErrShapeMismatch, w.Shape)
	}
	if x.Shape[1] != w.Shape[1] {
		return nil, fmt.Errorf("%w: input has %d channels, weight expects %d", ErrShapeMismatch, x.Shape[1], w.Shape[1])
	}
	if len(b.Shape) != 1 || b.Shape[0] != w.Shape[0] {
		return nil, fmt.Errorf("%w: bias shape %v does not match %d filters", ErrShapeMismatch, b.Shape, w.Shape[0])
	}
	if stride < 1 {
		return nil, fmt.Errorf("conv2d stride must be >= 1, got %d", stride)
	}

	n, c, h, wd := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	f, kh, kw := w.Shape[0], w.Shape[2], w.Shape[3]
	oh := (h+2*pad-kh)/stride + 1
	ow := (wd+2*pad-kw)/stride + 1
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("%w: kernel %dx%d with pad %d does not fit input %dx%d", ErrShapeMismatch, kh, kw, pad, h, wd)
	}

	out, err := Zeros([]int{n, f, oh, ow})
	if err != nil {
		return nil, err
	}

	ckk := c * kh * kw
	wMat := mat.NewDense(f, ckk, toFloat64(w.Data))
	spatial := oh * ow

	outMat := mat.NewDense(f, spatial, nil)
	for s := 0; s < n; s++ {
		cols := im2col(x.Data[s*c*h*wd:(s+1)*c*h*wd], c, h, wd, kh, kw, stride, pad, oh, ow)
		colsMat := mat.NewDense(ckk, spatial, cols)
		outMat.Mul(wMat, colsMat)

		base := s * f * spatial
		raw := outMat.RawMatrix()
		for fi := 0; fi < f; fi++ {
			bias := b.Data[fi]
			row := raw.Data[fi*raw.Stride : fi*raw.Stride+spatial]
			dst := out.Data[base+fi*spatial : base+(fi+1)*spatial]
			for i, v := range row {
				dst[i] = float32(v) + bias
			}
		}
	}

	attach(out, &conv2dOp{x: x, w: w, b: b, stride: stride, pad: pad, oh: oh, ow: ow}, x, w, b)
	return out, nil
}

func (op *conv2dOp) Backward(gradOut *Tensor) []*Tensor {
	n, c, h, wd := op.x.Shape[0], op.x.Shape[1], op.x.Shape[2], op.x.Shape[3]
	f, kh, kw := op.w.Shape[0], op.w.Shape[2], op.w.Shape[3]
	oh, ow := op.oh, op.ow
	spatial := oh * ow
	ckk := c * kh * kw

	gradX, _ := Zeros(op.x.Shape)
	gradW, _ := Zeros(op.w.Shape)
	gradB, _ := Zeros(op.b.Shape)

	wMat := mat.NewDense(f, ckk, toFloat64(op.w.Data))
	gradWMat := mat.NewDense(f, ckk, nil)
	tmpW := mat.NewDense(f, ckk, nil)
	colsGrad := mat.NewDense(ckk, spatial, nil)

	for s := 0; s < n; s++ {
		goData := toFloat64(gradOut.Data[s*f*spatial : (s+1)*f*spatial])
		goMat := mat.NewDense(f, spatial, goData)

		// Bias gradient: sum of the output gradient over each filter's
		// spatial grid.
		for fi := 0; fi < f; fi++ {
			var sum float64
			for i := 0; i < spatial; i++ {
				sum += goData[fi*spatial+i]
			}
			gradB.Data[fi] += float32(sum)
		}

		// Weight gradient: gradOut x colsᵀ, accumulated over the batch.
		cols := im2col(op.x.Data[s*c*h*wd:(s+1)*c*h*wd], c, h, wd, kh, kw, op.stride, op.pad, oh, ow)
		colsMat := mat.NewDense(ckk, spatial, cols)
		tmpW.Mul(goMat, colsMat.T())
		gradWMat.Add(gradWMat, tmpW)

		// Input gradient: wᵀ x gradOut, scattered back with col2im.
		colsGrad.Mul(wMat.T(), goMat)
		col2im(colsGrad.RawMatrix().Data, gradX.Data[s*c*h*wd:(s+1)*c*h*wd], c, h, wd, kh, kw, op.stride, op.pad, oh, ow)
	}

	raw := gradWMat.RawMatrix()
	for i := 0; i < f*ckk; i++ {
		gradW.Data[i] = float32(raw.Data[(i/ckk)*raw.Stride+i%ckk])
	}

	return []*Tensor{gradX, gradW, gradB}
}

// im2col unrolls one sample's receptive fields into a (C*KH*KW, OH*OW)
// row-major matrix. Out-of-bounds taps read as zero padding.
func im2col(x []float32, c, h, w, kh, kw, stride, pad, oh, ow int) []float64 {
	cols := make([]float64, c*kh*kw*oh*ow)
	spatial := oh * ow
	for ci := 0; ci < c; ci++ {
		for ki := 0; ki < kh; ki++ {
			for kj := 0; kj < kw; kj++ {
				row := (ci*kh+ki)*kw + kj
				dst := cols[row*spatial : (row+1)*spatial]
				for oi := 0; oi < oh; oi++ {
					ii := oi*stride + ki - pad
					if ii < 0 || ii >= h {
						continue
					}
					for oj := 0; oj < ow; oj++ {
						jj := oj*stride + kj - pad
						if jj < 0 || jj >= w {
							continue
						}
						dst[oi*ow+oj] = float64(x[(ci*h+ii)*w+jj])
					}
				}
			}
		}
	}
	return cols
}

// col2im scatters a (C*KH*KW, OH*OW) gradient matrix back onto the input
// layout, accumulating where receptive fields overlap.
func col2im(cols []float64, dst []float32, c, h, w, kh, kw, stride, pad, oh, ow int) {
	spatial := oh * ow
	for ci := 0; ci < c; ci++ {
		for ki := 0; ki < kh; ki++ {
			for kj := 0; kj < kw; kj++ {
				row := (ci*kh+ki)*kw + kj
				src := cols[row*spatial : (row+1)*spatial]
				for oi := 0; oi < oh; oi++ {
					ii := oi*stride + ki - pad
					if ii < 0 || ii >= h {
						continue
					}
					for oj := 0; oj < ow; oj++ {
						jj := oj*stride + kj - pad
						if jj < 0 || jj >= w {
							continue
						}
						dst[(ci*h+ii)*w+jj] += float32(src[oi*ow+oj])
					}
				}
			}
		}
	}
}

func toFloat64(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}
