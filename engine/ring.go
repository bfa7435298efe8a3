package engine

// RollingWindow keeps the last cap(Buffer) float64 measurements and answers
// average/max queries over whatever it currently holds. Plain ring buffer
// with a cursor; the windows here are 100 entries, so linear scans are fine.
type RollingWindow struct {
	buf    []float64
	cursor int
	count  int
}

func NewRollingWindow(size int) *RollingWindow {
	return &RollingWindow{buf: make([]float64, size)}
}

func (w *RollingWindow) Add(v float64) {
	w.buf[w.cursor] = v
	w.cursor = (w.cursor + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

func (w *RollingWindow) Len() int { return w.count }

func (w *RollingWindow) Average() float64 {
	if w.count == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.buf[:w.count] {
		sum += v
	}
	return sum / float64(w.count)
}

func (w *RollingWindow) Max() float64 {
	var m float64
	for _, v := range w.buf[:w.count] {
		if v > m {
			m = v
		}
	}
	return m
}

func (w *RollingWindow) Reset() {
	w.cursor = 0
	w.count = 0
}
