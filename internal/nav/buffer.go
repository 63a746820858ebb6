package nav

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Buffer is a fixed-size ring of fixes with a robust median.
//
// Slots that have never been written, or that were written with a missing
// value, are masked: a row contributes to the median only when all three of
// its values are defined. Masking is by row, not by column.
type Buffer struct {
	rows [][3]float64
	next int
}

// NewBuffer returns a Buffer holding the most recent n fixes.
func NewBuffer(n int) *Buffer {
	if n < 1 {
		n = 1
	}
	b := &Buffer{rows: make([][3]float64, n)}
	for i := range b.rows {
		u := Undefined()
		b.rows[i] = [3]float64{u.Time, u.Lon, u.Lat}
	}
	return b
}

// Len is the window size.
func (b *Buffer) Len() int { return len(b.rows) }

// Append overwrites the oldest slot with f.
func (b *Buffer) Append(f Fix) {
	b.rows[b.next] = [3]float64{f.Time, f.Lon, f.Lat}
	b.next = (b.next + 1) % len(b.rows)
}

// Populated counts the rows that currently contribute to the median.
func (b *Buffer) Populated() int {
	n := 0
	for _, r := range b.rows {
		if !floats.HasNaN(r[:]) {
			n++
		}
	}
	return n
}

// Median returns the elementwise median of the populated rows. ok is false
// when no row is populated; the returned Fix is then Undefined.
func (b *Buffer) Median() (Fix, bool) {
	cols := [3][]float64{}
	for _, r := range b.rows {
		if floats.HasNaN(r[:]) {
			continue
		}
		for c := range cols {
			cols[c] = append(cols[c], r[c])
		}
	}
	if len(cols[0]) == 0 {
		return Undefined(), false
	}
	return Fix{Time: median(cols[0]), Lon: median(cols[1]), Lat: median(cols[2])}, true
}

// median sorts x in place. Even lengths average the two middle values.
func median(x []float64) float64 {
	sort.Float64s(x)
	n := len(x)
	if n%2 == 1 {
		return x[n/2]
	}
	return stat.Mean(x[n/2-1:n/2+1], nil)
}
