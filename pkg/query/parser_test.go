package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog-ai/recall/pkg/timebucket"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestParse_TodayWithExactTime(t *testing.T) {
	spec, err := NewParser().Parse("what did I do today at 3:30 PM", now)
	require.NoError(t, err)

	assert.Equal(t, "01/06/2024", spec.Date)
	assert.Equal(t, ExactTime, spec.Kind)
	assert.Equal(t, "15:30:00", spec.Exact.String())
	assert.Equal(t, "15:30:00-15:45:00", timebucket.Align(spec.Exact).Range())
}

func TestParse_YesterdayWithPeriod(t *testing.T) {
	spec, err := NewParser().Parse("what happened yesterday morning", now)
	require.NoError(t, err)

	assert.Equal(t, "31/05/2024", spec.Date)
	assert.Equal(t, NamedPeriod, spec.Kind)
	assert.Equal(t, "morning", spec.Period.Name)
}

func TestParse_LiteralDate(t *testing.T) {
	spec, err := NewParser().Parse("where was I on 15/03/2024 in the evening?", now)
	require.NoError(t, err)

	assert.Equal(t, "15/03/2024", spec.Date)
	assert.Equal(t, NamedPeriod, spec.Kind)
	assert.Equal(t, "evening", spec.Period.Name)
}

func TestParse_TodayBeatsLiteralDate(t *testing.T) {
	spec, err := NewParser().Parse("today, not 15/03/2024, at 9:00", now)
	require.NoError(t, err)
	assert.Equal(t, "01/06/2024", spec.Date, "\"today\" has priority over a literal date")
}

func TestParse_PeriodBeatsClockTime(t *testing.T) {
	spec, err := NewParser().Parse("today in the afternoon around 9:00", now)
	require.NoError(t, err)
	assert.Equal(t, NamedPeriod, spec.Kind, "a period keyword skips the clock-time scan")
	assert.Equal(t, "afternoon", spec.Period.Name)
}

func TestParse_PeriodDeclarationOrderWins(t *testing.T) {
	// Both period names appear; the scan order decides.
	spec, err := NewParser().Parse("today: compare my morning with my night", now)
	require.NoError(t, err)
	assert.Equal(t, "morning", spec.Period.Name)
}

func TestParse_TwelveHourClock(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"today at 3:30 pm", "15:30:00"},
		{"today at 3:30 AM", "03:30:00"},
		{"today at 12:15 pm", "12:15:00"},
		{"today at 12:15 am", "00:15:00"},
		{"today at 12:05pm", "12:05:00"},
		{"today at 14:45", "14:45:00"},
		{"today at 14:45:30", "14:45:30"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			spec, err := NewParser().Parse(tt.raw, now)
			require.NoError(t, err)
			assert.Equal(t, ExactTime, spec.Kind)
			assert.Equal(t, tt.want, spec.Exact.String())
		})
	}
}

func TestParse_MissingDate(t *testing.T) {
	_, err := NewParser().Parse("what did I do at 3:30 PM", now)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestParse_MissingTime(t *testing.T) {
	_, err := NewParser().Parse("what did I do today", now)
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestParse_OutOfRangeTime(t *testing.T) {
	_, err := NewParser().Parse("today at 25:70", now)
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestParse_BogusLiteralDate(t *testing.T) {
	_, err := NewParser().Parse("what happened on 99/99/2024 at 9:00", now)
	assert.ErrorIs(t, err, ErrInvalidDate)
}
