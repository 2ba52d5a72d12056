package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

func TestDetectPatternBreakout(t *testing.T) {
	// Eleven range bars between 95 and 105, then a close above the range on
	// double the average volume.
	bars := flatBars(11, 105, 95, 100, 1000)
	bars = append(bars, marketdata.PriceBar{
		Open: 104, High: 107, Low: 103, Close: 106, Volume: 2000,
	})

	p := DetectPattern(bars, 10, 10)
	require.NotNil(t, p)
	assert.Equal(t, PatternBreakout, p.Type)
	assert.True(t, p.Bullish)
	assert.InDelta(t, 105.0, p.Level, 1e-9)
	assert.InDelta(t, 2.0, p.VolumeRatio, 1e-9)
}

func TestDetectPatternBreakdown(t *testing.T) {
	bars := flatBars(11, 105, 95, 100, 1000)
	bars = append(bars, marketdata.PriceBar{
		Open: 96, High: 97, Low: 93, Close: 94, Volume: 2000,
	})

	p := DetectPattern(bars, 10, 10)
	require.NotNil(t, p)
	assert.Equal(t, PatternBreakdown, p.Type)
	assert.False(t, p.Bullish)
	assert.InDelta(t, 95.0, p.Level, 1e-9)
}

func TestDetectPatternRejectsWithoutVolume(t *testing.T) {
	// Same breakout shape, but the breakout bar volume is only 1.2x average.
	bars := flatBars(11, 105, 95, 100, 1000)
	bars = append(bars, marketdata.PriceBar{
		Open: 104, High: 107, Low: 103, Close: 106, Volume: 1200,
	})

	assert.Nil(t, DetectPattern(bars, 10, 10))
}

func TestDetectPatternBullishEngulfing(t *testing.T) {
	// Wide range so the engulfing close stays inside it, with a bearish bar
	// followed by a bullish bar whose body swallows it.
	bars := flatBars(10, 110, 90, 100, 1000)
	bars = append(bars,
		marketdata.PriceBar{Open: 101, High: 102, Low: 98.5, Close: 99, Volume: 1000},
		marketdata.PriceBar{Open: 98, High: 103, Low: 97, Close: 102, Volume: 2500},
	)

	p := DetectPattern(bars, 10, 10)
	require.NotNil(t, p)
	assert.Equal(t, PatternBullishEngulfing, p.Type)
	assert.True(t, p.Bullish)
	// The protective level is the engulfing bar's low.
	assert.InDelta(t, 97.0, p.Level, 1e-9)
}

func TestDetectPatternBearishEngulfing(t *testing.T) {
	bars := flatBars(10, 110, 90, 100, 1000)
	bars = append(bars,
		marketdata.PriceBar{Open: 99, High: 101.5, Low: 98, Close: 101, Volume: 1000},
		marketdata.PriceBar{Open: 102, High: 103, Low: 97.5, Close: 98, Volume: 2500},
	)

	p := DetectPattern(bars, 10, 10)
	require.NotNil(t, p)
	assert.Equal(t, PatternBearishEngulfing, p.Type)
	assert.False(t, p.Bullish)
	assert.InDelta(t, 103.0, p.Level, 1e-9)
}

func TestDetectPatternNonEngulfingBody(t *testing.T) {
	// The latest body does not fully contain the previous body.
	bars := flatBars(10, 110, 90, 100, 1000)
	bars = append(bars,
		marketdata.PriceBar{Open: 101, High: 102, Low: 98.5, Close: 99, Volume: 1000},
		marketdata.PriceBar{Open: 99.5, High: 103, Low: 97, Close: 102, Volume: 2500},
	)

	assert.Nil(t, DetectPattern(bars, 10, 10))
}

func TestDetectPatternTooFewBars(t *testing.T) {
	assert.Nil(t, DetectPattern(nil, 10, 10))
	assert.Nil(t, DetectPattern(flatBars(1, 101, 99, 100, 1000), 10, 10))
}

func TestVolumeConfirmed(t *testing.T) {
	bars := flatBars(10, 101, 99, 100, 1000)
	bars = append(bars, marketdata.PriceBar{High: 101, Low: 99, Close: 100, Volume: 1500})

	ratio, ok := volumeConfirmed(bars, 10)
	assert.True(t, ok)
	assert.InDelta(t, 1.5, ratio, 1e-9)

	bars[len(bars)-1].Volume = 1499
	_, ok = volumeConfirmed(bars, 10)
	assert.False(t, ok)
}

func TestVolumeConfirmedZeroPriorVolume(t *testing.T) {
	bars := flatBars(5, 101, 99, 100, 0)
	bars = append(bars, marketdata.PriceBar{High: 101, Low: 99, Close: 100, Volume: 5000})

	_, ok := volumeConfirmed(bars, 5)
	assert.False(t, ok)
}
