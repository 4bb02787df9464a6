package marketdata

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
	"krx-backtester/pkg/utils"
)

var samsung = models.MustTicker("005930", "삼성전자")

const sampleCSV = `date,open,high,low,close,volume
2024-01-03,78500,78800,77000,77000,21753644
2024-01-02,78200,79800,78200,79600,17142847
20240104,76100,77300,76100,76600,15324439
`

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := utils.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestReadChartSortsRows(t *testing.T) {
	chart, err := ReadChart(strings.NewReader(sampleCSV), samsung, ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, chart.Len())

	first := chart.At(0)
	assert.Equal(t, "2024-01-02", utils.DateKey(first.Timestamp()))
	assert.True(t, first.Close().Equal(models.KRWFromInt(79600)))
	assert.Equal(t, int64(17142847), first.Volume())
	assert.Equal(t, models.KRW, first.Currency())
	assert.Equal(t, "2024-01-04", utils.DateKey(chart.At(2).Timestamp()))
}

func TestReadChartRejectsInconsistentRowUnlessCorrected(t *testing.T) {
	// High below close.
	raw := "date,open,high,low,close,volume\n2024-01-02,100,105,95,110,10\n"

	_, err := ReadChart(strings.NewReader(raw), samsung, ReadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCandle)
	assert.Contains(t, err.Error(), "row 2")

	chart, err := ReadChart(strings.NewReader(raw), samsung, ReadOptions{Correct: true})
	require.NoError(t, err)
	assert.True(t, chart.At(0).High().Equal(models.KRWFromInt(110)))
	assert.True(t, chart.At(0).Low().Equal(models.KRWFromInt(95)))
}

func TestReadChartErrors(t *testing.T) {
	dup := "date,open,high,low,close,volume\n2024-01-02,1,1,1,1,1\n2024-01-02,2,2,2,2,1\n"
	_, err := ReadChart(strings.NewReader(dup), samsung, ReadOptions{})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateTimestamp)

	badDate := "date,open,high,low,close,volume\nyesterday,1,1,1,1,1\n"
	_, err = ReadChart(strings.NewReader(badDate), samsung, ReadOptions{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCandle)

	badPrice := "date,open,high,low,close,volume\n2024-01-02,abc,1,1,1,1\n"
	_, err = ReadChart(strings.NewReader(badPrice), samsung, ReadOptions{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCandle)
}

func TestReadChartAcceptsThousandsSeparators(t *testing.T) {
	raw := "date,open,high,low,close,volume\n2024-01-02,\"1,000\",\"1,200\",900,\"1,100\",5\n"
	chart, err := ReadChart(strings.NewReader(raw), samsung, ReadOptions{})
	require.NoError(t, err)
	assert.True(t, chart.At(0).High().Equal(models.KRWFromInt(1200)))
}

func TestWriteChartRoundTrip(t *testing.T) {
	chart, err := ReadChart(strings.NewReader(sampleCSV), samsung, ReadOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteChart(&buf, chart))
	assert.True(t, strings.HasPrefix(buf.String(), "date,open,high,low,close,volume\n"))

	again, err := ReadChart(&buf, samsung, ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, chart.Len(), again.Len())
	for i := 0; i < chart.Len(); i++ {
		a, b := chart.At(i), again.At(i)
		assert.True(t, a.Timestamp().Equal(b.Timestamp()))
		assert.True(t, a.Open().Equal(b.Open()))
		assert.True(t, a.Close().Equal(b.Close()))
		assert.Equal(t, a.Volume(), b.Volume())
	}
}

func TestCSVProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "005930.csv"), []byte(sampleCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	p := NewCSVProvider(dir, WithCorrection(true))

	codes, err := p.Codes()
	require.NoError(t, err)
	assert.Equal(t, []string{"005930"}, codes)

	chart, err := p.GetOHLCV(context.Background(), samsung, date(t, "2024-01-03"), date(t, "2024-01-04"))
	require.NoError(t, err)
	assert.Equal(t, 2, chart.Len())
	assert.Equal(t, samsung.Name, chart.Ticker().Name)

	_, err = p.GetOHLCV(context.Background(), models.MustTicker("000660", ""), date(t, "2024-01-01"), date(t, "2024-12-31"))
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

func TestMemoryProvider(t *testing.T) {
	chart, err := ReadChart(strings.NewReader(sampleCSV), samsung, ReadOptions{})
	require.NoError(t, err)
	p := NewMemoryProvider(chart)

	got, err := p.GetOHLCV(context.Background(), samsung, date(t, "2024-01-02"), date(t, "2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len(), "end date is inclusive")

	_, err = p.GetOHLCV(context.Background(), models.MustTicker("000660", ""), date(t, "2024-01-02"), date(t, "2024-01-04"))
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GetOHLCV(ctx, samsung, date(t, "2024-01-02"), date(t, "2024-01-04"))
	assert.ErrorIs(t, err, context.Canceled)
}
