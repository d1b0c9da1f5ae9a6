// Package strip converts chunk triangle lists into triangle strips that fit
// the spare room of the vertex cache.
package strip

import "slices"

// Restart flags the first index of every strip but the first in a strip
// buffer.
const Restart uint16 = 1 << 15

type edge struct {
	from, to int
}

type stripifier struct {
	tris   [][3]int
	edges  map[edge][]int
	used   []bool
	maxLen int
}

// Strip is one triangle strip and the source triangles it covers.
type Strip struct {
	Indices   []int
	Triangles []int
}

// Stripify greedily joins tris into strips. Each strip starts from the
// unused triangle with the fewest unused neighbours and keeps the longest of
// its three rotations. Triangles that end up alone, or are degenerate, are
// returned as indices into tris in source order. No strip exceeds maxLen
// indices.
func Stripify(tris [][3]int, maxLen int) (strips []Strip, rest []int) {
	s := &stripifier{
		tris:   tris,
		edges:  make(map[edge][]int),
		used:   make([]bool, len(tris)),
		maxLen: max(maxLen, 3),
	}
	for i, t := range tris {
		if t[0] == t[1] || t[1] == t[2] || t[0] == t[2] {
			s.used[i] = true
			rest = append(rest, i)
			continue
		}
		for j := 0; j < 3; j++ {
			e := edge{t[j], t[(j+1)%3]}
			s.edges[e] = append(s.edges[e], i)
		}
	}

	for {
		t := s.pickStart()
		if t < 0 {
			break
		}
		a, b, c := tris[t][0], tris[t][1], tris[t][2]
		var best Strip
		for _, rot := range [3][3]int{{a, b, c}, {b, c, a}, {c, a, b}} {
			if cand := s.grow(rot, t); len(cand.Indices) > len(best.Indices) {
				best = cand
			}
		}
		for _, bt := range best.Triangles {
			s.used[bt] = true
		}
		if len(best.Triangles) == 1 {
			rest = append(rest, t)
			continue
		}
		strips = append(strips, best)
	}
	slices.Sort(rest)
	return strips, rest
}

func (s *stripifier) neighbours(t int) int {
	n := 0
	tri := s.tris[t]
	for j := 0; j < 3; j++ {
		for _, c := range s.edges[edge{tri[(j+1)%3], tri[j]}] {
			if !s.used[c] {
				n++
			}
		}
	}
	return n
}

func (s *stripifier) pickStart() int {
	best, bestN := -1, 0
	for t := range s.tris {
		if s.used[t] {
			continue
		}
		if n := s.neighbours(t); best < 0 || n < bestN {
			best, bestN = t, n
		}
	}
	return best
}

func (s *stripifier) grow(start [3]int, t int) Strip {
	st := Strip{Indices: []int{start[0], start[1], start[2]}, Triangles: []int{t}}
	for len(st.Indices) < s.maxLen {
		n := len(st.Indices)
		u, v := st.Indices[n-2], st.Indices[n-1]
		if (n-2)%2 == 1 {
			u, v = v, u
		}
		next := -1
		for _, c := range s.edges[edge{u, v}] {
			if !s.used[c] && !slices.Contains(st.Triangles, c) {
				next = c
				break
			}
		}
		if next < 0 {
			break
		}
		st.Indices = append(st.Indices, third(s.tris[next], u, v))
		st.Triangles = append(st.Triangles, next)
	}
	return st
}

func third(t [3]int, u, v int) int {
	for _, x := range t {
		if x != u && x != v {
			return x
		}
	}
	return t[2]
}

// Decode expands a strip buffer into triangles. Winding alternates within a
// strip and resets at every restart; degenerate triangles are dropped
// without disturbing the alternation.
func Decode(buf []uint16) [][3]int {
	var tris [][3]int
	start := 0
	for i := range buf {
		if buf[i]&Restart != 0 {
			start = i
		}
		n := i - start
		if n < 2 {
			continue
		}
		a, b, c := int(buf[i-2]&^Restart), int(buf[i-1]&^Restart), int(buf[i]&^Restart)
		if a == b || b == c || a == c {
			continue
		}
		if n%2 == 1 {
			a, b = b, a
		}
		tris = append(tris, [3]int{a, b, c})
	}
	return tris
}
