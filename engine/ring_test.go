package engine_test

import (
	"testing"

	"github.com/ormeli/notemux/engine"
)

func TestRollingWindow(t *testing.T) {
	w := engine.NewRollingWindow(4)
	if w.Len() != 0 || w.Average() != 0 || w.Max() != 0 {
		t.Fatal("fresh window not empty")
	}
	w.Add(1)
	w.Add(3)
	if w.Len() != 2 || w.Average() != 2 || w.Max() != 3 {
		t.Errorf("len %d avg %v max %v", w.Len(), w.Average(), w.Max())
	}
	// overflow the capacity; the oldest entries fall out of the statistics
	for _, v := range []float64{10, 10, 10, 10} {
		w.Add(v)
	}
	if w.Len() != 4 || w.Average() != 10 || w.Max() != 10 {
		t.Errorf("after wrap: len %d avg %v max %v", w.Len(), w.Average(), w.Max())
	}
	w.Reset()
	if w.Len() != 0 || w.Average() != 0 {
		t.Error("window not empty after reset")
	}
}
