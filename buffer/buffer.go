// Package buffer holds a fixed ring of recent float samples.
package buffer

import "sync"

type Ring struct {
	position int
	size     int
	data     []float64
	lock     sync.Mutex
	first    bool
}

func NewRing(size int) *Ring {
	r := Ring{}
	r.first = true

	r.size = size
	r.data = make([]float64, size)

	return &r
}

// Add stores a sample, overwriting the oldest. The first sample fills the
// whole ring so early averages are not dragged toward zero.
func (r *Ring) Add(val float64) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.data[r.position] = val
	r.position += 1
	if r.position == r.size {
		r.position = 0
	}
	if r.first {
		for i := 0; i < r.size; i++ {
			r.data[i] = val
		}
		r.first = false
	}
}

func (r *Ring) Average() float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	sum := 0.0
	for _, x := range r.data {
		sum += x
	}
	return sum / float64(r.size)
}

// Last returns the most recently added sample.
func (r *Ring) Last() float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	index := r.position - 1
	if index < 0 {
		index += r.size
	}
	return r.data[index]
}
