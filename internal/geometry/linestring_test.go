package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var square = []Point{{2, 2}, {-2, 2}, {-2, -2}, {2, -2}}

func TestAppendTimeClosesRing(t *testing.T) {
	input := append([]Point(nil), square...)
	ring := AppendTime(input, 1_556_100_448)

	require.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[4])
	for i, v := range ring {
		assert.Equal(t, 1_556_100_448.0, v.T, "vertex %d", i)
	}
	assert.Equal(t, square, input, "input must not be modified")
}

func TestAppendTimeTwiceRepeatsFirstVertexAgain(t *testing.T) {
	once := AppendTime(square, 10)
	twice := AppendTime(Points(once), 10)

	require.Len(t, twice, len(square)+2)
	assert.Equal(t, once, twice[:len(once)], "interior vertices are unchanged")
	assert.Equal(t, twice[0], twice[len(twice)-1])
}

func TestAppendTimeEmpty(t *testing.T) {
	assert.Nil(t, AppendTime(nil, 1))
	assert.Nil(t, CloseRing(nil))
}

func TestCloseRing(t *testing.T) {
	path := []Vertex{{0, 0, 1}, {5, 0, 2}}
	ring := CloseRing(path)
	assert.Equal(t, []Vertex{{0, 0, 1}, {5, 0, 2}, {0, 0, 1}}, ring)
	assert.Len(t, path, 2)
}

func TestEncodeLineString(t *testing.T) {
	got := EncodeLineString(AppendTime(square, 1_556_100_448))
	assert.Equal(t,
		"LINESTRING(2 2 1556100448,-2 2 1556100448,-2 -2 1556100448,2 -2 1556100448,2 2 1556100448)",
		got)

	got = EncodeLineString([]Vertex{{0.5, -1.25, 1556100448.36}})
	assert.Equal(t, "LINESTRING(0.5 -1.25 1556100448.36)", got)
}

func TestLineStringRoundTrip(t *testing.T) {
	fp := CalculatePoly(Point{167.81972847, 63.3125430004}, 0.73301928819258, 0.73463276991788, 356.673098539)
	ring := AppendTime(fp.Points(), 1547009229.36)

	parsed, err := ParseLineString(EncodeLineString(ring))
	require.NoError(t, err)
	assert.Equal(t, ring, parsed)
}

func TestParseLineStringPostGISForm(t *testing.T) {
	parsed, err := ParseLineString("LINESTRING Z (2 2 5,-2 2 5,2 2 5)")
	require.NoError(t, err)
	assert.Equal(t, []Vertex{{2, 2, 5}, {-2, 2, 5}, {2, 2, 5}}, parsed)
}

func TestParseLineStringErrors(t *testing.T) {
	for _, in := range []string{
		"POLYGON((0 0 0))",
		"LINESTRING 0 0 0",
		"LINESTRING(0 0)",
		"LINESTRING(a b c)",
	} {
		_, err := ParseLineString(in)
		assert.Error(t, err, in)
	}
}

func TestParseSexagesimal(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"11 11 16.735", 11 + 11.0/60 + 16.735/3600},
		{"+63 18 45.15", 63 + 18.0/60 + 45.15/3600},
		{"-00 30 00", -0.5},
		{"12:30:00", 12.5},
		{"167.82", 167.82},
	}
	for _, tc := range cases {
		got, err := ParseSexagesimal(tc.in)
		require.NoError(t, err, tc.in)
		assert.InDelta(t, tc.want, got, 1e-12, tc.in)
	}

	for _, bad := range []string{"", "12 61 00", "aa bb"} {
		_, err := ParseSexagesimal(bad)
		assert.Error(t, err, bad)
	}
}

func TestNormalizeDegrees(t *testing.T) {
	assert.InDelta(t, 350, NormalizeDegrees(-10), eps)
	assert.InDelta(t, 10, NormalizeDegrees(370), eps)
	assert.InDelta(t, 45, HoursToDegrees(3), eps)
}
