package player

import (
	"math"
	"sync"
	"sync/atomic"
)

// mixer renders queued clips one after another and silence when idle.
// read runs on the audio client's goroutine, everything else on callers'.
type mixer struct {
	gain atomic.Uint32

	mu    sync.Mutex
	idle  *sync.Cond
	queue [][]float32
	pos   int
}

func newMixer() *mixer {
	m := &mixer{}
	m.idle = sync.NewCond(&m.mu)
	m.setGain(1)

	return m
}

// setGain applies to audio rendered from now on, including what is already queued
func (m *mixer) setGain(gain float32) {
	if gain < 0 || math.IsNaN(float64(gain)) {
		gain = 0
	}
	m.gain.Store(math.Float32bits(gain))
}

func (m *mixer) currentGain() float32 {
	return math.Float32frombits(m.gain.Load())
}

func (m *mixer) enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, samples)
}

func (m *mixer) read(out []float32) (int, error) {
	gain := m.currentGain()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for n < len(out) && len(m.queue) > 0 {
		current := m.queue[0]
		copied := copy(out[n:], current[m.pos:])
		for i := n; i < n+copied; i++ {
			out[i] *= gain
		}

		n += copied
		m.pos += copied

		if m.pos >= len(current) {
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.pos = 0
		}
	}

	if len(m.queue) == 0 {
		m.idle.Broadcast()
	}

	// keep the stream alive with silence
	for i := n; i < len(out); i++ {
		out[i] = 0
	}

	return len(out), nil
}

// waitIdle blocks until every queued sample has been handed to the device
func (m *mixer) waitIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.queue) > 0 {
		m.idle.Wait()
	}
}

// flush drops queued audio and wakes waiters
func (m *mixer) flush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = nil
	m.pos = 0
	m.idle.Broadcast()
}
