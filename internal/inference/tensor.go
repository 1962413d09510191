package inference

import (
	"image"
	"sync"
)

// Tensor is a dense float32 buffer in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32

	pool *sync.Pool
	buf  *[]float32
}

// Release hands the buffer back to its pool. The tensor must not be read afterwards.
func (t *Tensor) Release() {
	if t == nil || t.buf == nil {
		return
	}
	t.pool.Put(t.buf)
	t.buf = nil
	t.Data = nil
}

// tensorPool recycles NHWC input buffers of one fixed square size across runs.
type tensorPool struct {
	size int
	pool sync.Pool
}

func newTensorPool(size int) *tensorPool {
	p := &tensorPool{size: size}
	p.pool.New = func() any {
		buf := make([]float32, size*size*3)
		return &buf
	}
	return p
}

func (p *tensorPool) acquire() *Tensor {
	buf := p.pool.Get().(*[]float32)
	return &Tensor{
		Shape: []int64{1, int64(p.size), int64(p.size), 3},
		Data:  *buf,
		pool:  &p.pool,
		buf:   buf,
	}
}

// fillNearest point-samples img onto t's size x size grid and writes the RGB channels
// as raw 0-255 floats, shape (1, H, W, 3). Output pixel (x, y) reads source pixel
// (floor(x*inW/size), floor(y*inH/size)); pixels are never blended.
func fillNearest(t *Tensor, img image.Image, size int) {
	bounds := img.Bounds()
	inW, inH := bounds.Dx(), bounds.Dy()
	for y := 0; y < size; y++ {
		sy := min(y*inH/size, inH-1)
		for x := 0; x < size; x++ {
			sx := min(x*inW/size, inW-1)
			r, g, b, _ := img.At(bounds.Min.X+sx, bounds.Min.Y+sy).RGBA()
			i := (y*size + x) * 3
			t.Data[i] = float32(r >> 8)
			t.Data[i+1] = float32(g >> 8)
			t.Data[i+2] = float32(b >> 8)
		}
	}
}
