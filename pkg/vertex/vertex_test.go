package vertex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
)

var testOpts = Options{PositionScale: 64, Normals: Normal565, TextureWidth: 32, TextureHeight: 32}

func rawVertex() model.Vertex {
	return model.Vertex{
		Position: math.Vec3{X: 1, Y: -2, Z: 0.5},
		Normal:   math.Vec3{Y: 1},
		Color:    [4]uint8{10, 20, 30, 255},
		UV:       [2]float32{0.5, 1},
		Bone:     model.NoBone,
	}
}

func TestBuild(t *testing.T) {
	r, err := Build(rawVertex(), testOpts)
	require.NoError(t, err)

	assert.Equal(t, [3]int16{64, -128, 32}, r.Position)
	assert.Equal(t, uint32(0x0A141EFF), r.Color)
	assert.Equal(t, [2]int16{16 * 32, 32 * 32}, r.UV)
	assert.Equal(t, model.NoBone, r.Bone)
	assert.NotZero(t, r.Hash)
}

func TestBuildUntexturedZeroesUV(t *testing.T) {
	opts := testOpts
	opts.TextureWidth = 0
	r, err := Build(rawVertex(), opts)
	require.NoError(t, err)
	assert.Equal(t, [2]int16{}, r.UV)
}

func TestBuildPositionOverflow(t *testing.T) {
	v := rawVertex()
	v.Position.X = 1000
	_, err := Build(v, testOpts)
	assert.ErrorIs(t, err, ErrPositionRange)
	assert.ErrorIs(t, err, model.ErrInput)
}

func TestTexelSaturates(t *testing.T) {
	assert.Equal(t, int16(32767), texel(100, 64))
	assert.Equal(t, int16(-32768), texel(-100, 64))
}

func TestHashIgnoresBone(t *testing.T) {
	v := rawVertex()
	a, err := Build(v, testOpts)
	require.NoError(t, err)
	v.Bone = 3
	b, err := Build(v, testOpts)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)
	assert.True(t, a.Equal(&b))
}

func TestHashNoCollisions(t *testing.T) {
	seen := make(map[uint64]int, 10000)
	opts := Options{PositionScale: 1, Normals: Normal565, TextureWidth: 64, TextureHeight: 64}
	for i := 0; i < 10000; i++ {
		v := rawVertex()
		v.Color[3] = uint8(i % 4)
		switch i % 4 {
		case 0:
			v.Position.X = float32(i/4 - 1250)
		case 1:
			v.Color[0], v.Color[1] = uint8(i), uint8(i>>8)
		case 2:
			v.UV[0] = float32(i) / 2048
		case 3:
			v.Position.Z = float32(i/4 - 1250)
		}
		r, err := Build(v, opts)
		require.NoError(t, err)
		if prev, ok := seen[r.Hash]; ok {
			t.Fatalf("vertices %d and %d collide", prev, i)
		}
		seen[r.Hash] = i
	}
}

func TestPairRoundTrip(t *testing.T) {
	a, err := Build(rawVertex(), testOpts)
	require.NoError(t, err)
	v := rawVertex()
	v.Position = math.Vec3{X: -3, Y: 4, Z: 5}
	v.Color = [4]uint8{1, 2, 3, 4}
	b, err := Build(v, testOpts)
	require.NoError(t, err)

	buf := AppendPair(nil, &a, &b)
	require.Len(t, buf, PairSize)

	ga, gb, err := DecodePair(buf)
	require.NoError(t, err)
	assert.True(t, a.Equal(&ga))
	assert.True(t, b.Equal(&gb))
	assert.Equal(t, a.Hash, ga.Hash)

	_, _, err = DecodePair(buf[:10])
	assert.Error(t, err)
}

func TestBounds(t *testing.T) {
	rs := []Record{
		{Position: [3]int16{1, -5, 3}},
		{Position: [3]int16{-2, 7, 3}},
	}
	lo, hi := Bounds(rs)
	assert.Equal(t, [3]int16{-2, -5, 3}, lo)
	assert.Equal(t, [3]int16{1, 7, 3}, hi)
}

func TestFixedBox(t *testing.T) {
	b := math.EmptyAABB().Extend(math.Vec3{X: -0.1, Y: 0, Z: 1}).Extend(math.Vec3{X: 0.1, Y: 2, Z: 1})
	lo, hi, err := FixedBox(b, 64)
	require.NoError(t, err)
	assert.Equal(t, [3]int16{-7, 0, 64}, lo)
	assert.Equal(t, [3]int16{7, 128, 64}, hi)

	_, _, err = FixedBox(b, 100000)
	assert.ErrorIs(t, err, ErrPositionRange)
}
