package strip

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridTris builds w*h quads over a (w+1)*(h+1) vertex lattice.
func gridTris(w, h int) [][3]int {
	var tris [][3]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := y*(w+1) + x
			b, d := a+1, a+w+1
			c := d + 1
			tris = append(tris, [3]int{a, b, c}, [3]int{a, c, d})
		}
	}
	return tris
}

// canonical rotates each triangle so its smallest index comes first, which
// keeps winding, and sorts the list.
func canonical(tris [][3]int) [][3]int {
	out := make([][3]int, len(tris))
	for i, t := range tris {
		m := 0
		for j := 1; j < 3; j++ {
			if t[j] < t[m] {
				m = j
			}
		}
		out[i] = [3]int{t[m], t[(m+1)%3], t[(m+2)%3]}
	}
	slices.SortFunc(out, func(a, b [3]int) int {
		for j := 0; j < 3; j++ {
			if a[j] != b[j] {
				return a[j] - b[j]
			}
		}
		return 0
	})
	return out
}

func toBuffer(idx []int) []uint16 {
	buf := make([]uint16, len(idx))
	for i, v := range idx {
		buf[i] = uint16(v)
	}
	return buf
}

func restarts(buf []uint16) int {
	n := 0
	for _, v := range buf {
		if v&Restart != 0 {
			n++
		}
	}
	return n
}

func TestDecode(t *testing.T) {
	got := Decode([]uint16{0 | Restart, 1, 2, 3, 4 | Restart, 5, 6})
	assert.Equal(t, [][3]int{{0, 1, 2}, {2, 1, 3}, {4, 5, 6}}, got)
}

func TestDecodeDropsDegenerate(t *testing.T) {
	got := Decode([]uint16{0 | Restart, 1, 2, 2, 3, 4})
	assert.Equal(t, [][3]int{{0, 1, 2}, {3, 2, 4}}, got)
}

func TestStripifyRow(t *testing.T) {
	tris := gridTris(8, 1)
	strips, rest := Stripify(tris, 255)
	require.Len(t, strips, 1)
	assert.Empty(t, rest)
	assert.Len(t, strips[0].Indices, 18)
	assert.Equal(t, canonical(tris), canonical(Decode(toBuffer(strips[0].Indices))))
}

func TestStripifyGrid(t *testing.T) {
	tris := gridTris(4, 3)
	strips, rest := Stripify(tris, 255)
	assert.Empty(t, rest)
	require.Len(t, strips, 3)
	var got [][3]int
	for _, s := range strips {
		assert.Len(t, s.Indices, 10)
		got = append(got, Decode(toBuffer(s.Indices))...)
	}
	assert.Equal(t, canonical(tris), canonical(got))
}

func TestStripifyRandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 100; trial++ {
		nv := 3 + rng.Intn(38)
		tris := make([][3]int, 1+rng.Intn(60))
		for i := range tris {
			p := rng.Perm(nv)
			tris[i] = [3]int{p[0], p[1], p[2]}
		}
		maxLen := []int{5, 255}[rng.Intn(2)]

		strips, rest := Stripify(tris, maxLen)
		var got [][3]int
		for _, s := range strips {
			assert.LessOrEqual(t, len(s.Indices), maxLen)
			assert.Len(t, s.Triangles, len(s.Indices)-2)
			got = append(got, Decode(toBuffer(s.Indices))...)
		}
		for _, r := range rest {
			got = append(got, tris[r])
		}
		require.Equal(t, canonical(tris), canonical(got), "trial %d", trial)
	}
}

func TestStripifyDegenerateGoesToRest(t *testing.T) {
	tris := [][3]int{{0, 1, 1}, {0, 1, 2}}
	strips, rest := Stripify(tris, 255)
	assert.Empty(t, strips)
	assert.Equal(t, []int{0, 1}, rest)
}

func flatten(tris [][3]int) []uint8 {
	out := make([]uint8, 0, 3*len(tris))
	for _, t := range tris {
		out = append(out, uint8(t[0]), uint8(t[1]), uint8(t[2]))
	}
	return out
}

func decodeResult(r Result) [][3]int {
	var tris [][3]int
	for i := 0; i+2 < len(r.Indices); i += 3 {
		tris = append(tris, [3]int{int(r.Indices[i]), int(r.Indices[i+1]), int(r.Indices[i+2])})
	}
	for _, s := range r.Strips {
		tris = append(tris, Decode(s)...)
	}
	return tris
}

func TestEncode(t *testing.T) {
	tris := gridTris(8, 2)
	r := Encode(flatten(tris), 28, DefaultOptions())

	require.Len(t, r.Strips, 1)
	assert.Len(t, r.Strips[0], 36)
	assert.Empty(t, r.Indices)
	// 32 triangles need at least two strips in the one buffer.
	assert.Zero(t, r.Strips[0][0]&Restart)
	assert.GreaterOrEqual(t, restarts(r.Strips[0]), 1)
	assert.Equal(t, canonical(tris), canonical(decodeResult(r)))
}

func TestEncodeSplitsBuffers(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLength = 20
	tris := gridTris(8, 2)
	r := Encode(flatten(tris), 28, opts)

	require.Len(t, r.Strips, 2)
	for _, b := range r.Strips {
		assert.LessOrEqual(t, len(b), 20)
		assert.Zero(t, b[0]&Restart)
	}
	assert.Equal(t, canonical(tris), canonical(decodeResult(r)))
}

func TestEncodeRespectsBudget(t *testing.T) {
	tris := gridTris(8, 2)
	idx := flatten(tris)
	r := Encode(idx, 68, DefaultOptions())
	assert.Empty(t, r.Strips)
	assert.Equal(t, idx, r.Indices)
}

func TestEncodeSkipsShortStrips(t *testing.T) {
	idx := flatten(gridTris(1, 1))
	r := Encode(idx, 4, DefaultOptions())
	assert.Empty(t, r.Strips)
	assert.Equal(t, idx, r.Indices)
}

func TestEncodeRandomBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	opts := DefaultOptions()
	for trial := 0; trial < 50; trial++ {
		nv := 3 + rng.Intn(60)
		tris := make([][3]int, 1+rng.Intn(80))
		for i := range tris {
			p := rng.Perm(nv)
			tris[i] = [3]int{p[0], p[1], p[2]}
		}
		used := nv + nv%2
		r := Encode(flatten(tris), used, opts)

		assert.LessOrEqual(t, len(r.Strips), opts.MaxBuffers)
		assert.LessOrEqual(t, bufferCost(r.Strips), (opts.MaxVertexCount-used)*opts.SlotBytes)
		for _, b := range r.Strips {
			assert.Zero(t, b[0]&Restart, "trial %d", trial)
		}
		assert.Equal(t, canonical(tris), canonical(decodeResult(r)), "trial %d", trial)
	}
}
