package nav

import (
	"errors"
	"math"
	"testing"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autopilot/internal/testutil"
)

func TestParseSentence_GGA(t *testing.T) {
	t.Parallel()

	fix, err := ParseSentence(testutil.GGA(43200, -157.8674, 21.2923))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fix.Time, 1e-9)
	assert.InDelta(t, -157.8674, fix.Lon, 1e-6)
	assert.InDelta(t, 21.2923, fix.Lat, 1e-6)
}

func TestParseSentence_IgnoresTrailingLine(t *testing.T) {
	t.Parallel()

	msg := testutil.GGA(60, 1, 2) + "\n$UNIXD,1700000000.123"
	fix, err := ParseSentence(msg)
	require.NoError(t, err)
	assert.InDelta(t, 60.0/86400, fix.Time, 1e-9)
}

func TestParseSentence_RMC(t *testing.T) {
	t.Parallel()

	body := "GPRMC,120000.00,A,2117.538,N,15752.044,W,10.0,90.0,010124,,,A"
	fix, err := ParseSentence("$" + body + "*" + checksumOf(body))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fix.Time, 1e-9)
	assert.InDelta(t, -(157 + 52.044/60), fix.Lon, 1e-6)
}

func TestParseSentence_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
		want error
	}{
		{"checksum mismatch", testutil.Corrupt(testutil.GGA(10, 1, 1)), ErrChecksum},
		{"missing checksum", "$GPGGA,000010.000,0100.000000,N,00100.000000,E,1,08,0.9,12.0,M,0.0,M,,", ErrChecksum},
		{"no fix", testutil.GGANoFix(10), ErrNoFix},
		{"empty", "   ", ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix, err := ParseSentence(tt.msg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
			assert.False(t, fix.Defined())
		})
	}
}

func TestBuffer_EmptyMedianUndefined(t *testing.T) {
	t.Parallel()

	b := NewBuffer(5)
	fix, ok := b.Median()
	assert.False(t, ok)
	assert.False(t, fix.Defined(), "empty buffer must not report (0,0,0)")
}

func TestBuffer_MedianOfPartialWindow(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10)
	for _, v := range []float64{5, 1, 3} {
		b.Append(Fix{Time: v / 100, Lon: v, Lat: -v})
	}
	fix, ok := b.Median()
	require.True(t, ok)
	assert.Equal(t, 3, b.Populated())
	assert.InDelta(t, 0.03, fix.Time, 1e-12)
	assert.InDelta(t, 3.0, fix.Lon, 1e-12)
	assert.InDelta(t, -3.0, fix.Lat, 1e-12)

	b.Append(Fix{Time: 0.07, Lon: 7, Lat: -7})
	fix, _ = b.Median()
	assert.InDelta(t, 4.0, fix.Lon, 1e-12, "even count averages the middle pair")
}

func TestBuffer_OnlyMostRecentWindowCounts(t *testing.T) {
	t.Parallel()

	b := NewBuffer(3)
	for _, v := range []float64{100, 100, 100, 1, 2, 3} {
		b.Append(Fix{Time: 0.1, Lon: v, Lat: v})
	}
	fix, ok := b.Median()
	require.True(t, ok)
	assert.Equal(t, 3, b.Len())
	assert.InDelta(t, 2.0, fix.Lon, 1e-12)
}

func TestBuffer_MasksWholeRow(t *testing.T) {
	t.Parallel()

	b := NewBuffer(4)
	b.Append(Fix{Time: 0.1, Lon: 1, Lat: 10})
	b.Append(Fix{Time: 0.2, Lon: 2, Lat: 20})
	// A missing latitude excludes this row's time and longitude too.
	b.Append(Fix{Time: 0.9, Lon: 90, Lat: math.NaN()})

	fix, ok := b.Median()
	require.True(t, ok)
	assert.Equal(t, 2, b.Populated())
	assert.InDelta(t, 0.15, fix.Time, 1e-12)
	assert.InDelta(t, 1.5, fix.Lon, 1e-12)
	assert.InDelta(t, 15.0, fix.Lat, 1e-12)
}

func TestBuffer_SingleNoisyPointAbsorbed(t *testing.T) {
	t.Parallel()

	b := NewBuffer(5)
	for i := 0; i < 4; i++ {
		b.Append(Fix{Time: float64(i) / 86400, Lon: -157.90, Lat: 21.30})
	}
	b.Append(Fix{Time: 4.0 / 86400, Lon: -150.0, Lat: 30.0})
	fix, _ := b.Median()
	assert.InDelta(t, -157.90, fix.Lon, 1e-12)
	assert.InDelta(t, 21.30, fix.Lat, 1e-12)
}

func TestSpeed(t *testing.T) {
	t.Parallel()

	oneMinute := 60.0 / 86400
	// 0.01 degree of latitude in one minute.
	mps, ok := Speed(Fix{Time: 0.5, Lon: 0, Lat: 0}, Fix{Time: 0.5 + oneMinute, Lon: 0, Lat: 0.01})
	require.True(t, ok)
	assert.InDelta(t, 0.01*metersPerDegree/60, mps, 1e-9)

	// Longitude shrinks with latitude.
	mps, ok = Speed(Fix{Time: 0.5, Lon: 0, Lat: 60}, Fix{Time: 0.5 + oneMinute, Lon: 0.02, Lat: 60})
	require.True(t, ok)
	assert.InDelta(t, 0.01*metersPerDegree/60, mps, 1e-6)
}

func TestSpeed_AcrossMidnight(t *testing.T) {
	t.Parallel()

	prev := Fix{Time: 1 - 30.0/86400, Lon: 0, Lat: 0}
	cur := Fix{Time: 30.0 / 86400, Lon: 0, Lat: 0.001}
	mps, ok := Speed(prev, cur)
	require.True(t, ok)
	assert.InDelta(t, 0.001*metersPerDegree/60, mps, 1e-9)
}

func TestSpeed_Undefined(t *testing.T) {
	t.Parallel()

	_, ok := Speed(Undefined(), Fix{Time: 0.1, Lon: 1, Lat: 1})
	assert.False(t, ok)

	_, ok = Speed(Fix{Time: 0.1, Lon: 1, Lat: 1}, Fix{Time: 0.1, Lon: 2, Lat: 1})
	assert.False(t, ok, "zero elapsed time gives no speed")
}

func checksumOf(body string) string {
	return nmea.Checksum(body)
}
