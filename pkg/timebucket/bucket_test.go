package timebucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		name  string
		in    Clock
		wantR string
	}{
		{"on boundary", Clock{Hour: 15, Minute: 30}, "15:30:00-15:45:00"},
		{"mid bucket", Clock{Hour: 15, Minute: 37, Second: 12}, "15:30:00-15:45:00"},
		{"just before boundary", Clock{Hour: 15, Minute: 44, Second: 59}, "15:30:00-15:45:00"},
		{"midnight", Clock{}, "00:00:00-00:15:00"},
		{"hour rollover", Clock{Hour: 9, Minute: 50}, "09:45:00-10:00:00"},
		{"last bucket of day", Clock{Hour: 23, Minute: 59}, "23:45:00-24:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Align(tt.in)
			assert.Equal(t, tt.wantR, b.Range())
			assert.True(t, b.Contains(tt.in), "aligned bucket must contain its input")
		})
	}
}

func TestAlign_CoversEveryMinute(t *testing.T) {
	for h := 0; h < 24; h++ {
		for m := 0; m < 60; m++ {
			c := Clock{Hour: h, Minute: m}
			b := Align(c)
			if !b.Contains(c) {
				t.Fatalf("Align(%s) = %s does not contain input", c, b.Range())
			}
		}
	}
}

func TestExpand_OneHour(t *testing.T) {
	start, err := ParseClock("07:00")
	require.NoError(t, err)
	end, err := ParseClock("08:00")
	require.NoError(t, err)

	buckets, err := Expand(start, end)
	require.NoError(t, err)

	want := []string{
		"07:00:00-07:15:00",
		"07:15:00-07:30:00",
		"07:30:00-07:45:00",
		"07:45:00-08:00:00",
	}
	require.Len(t, buckets, len(want))
	for i, b := range buckets {
		assert.Equal(t, want[i], b.Range())
	}
}

func TestExpand_FullDay(t *testing.T) {
	buckets, err := Expand(Clock{}, Clock{Hour: 24})
	require.NoError(t, err)
	require.Len(t, buckets, 96)

	// Contiguous and non-overlapping: each bucket starts where the
	// previous one ends.
	for i := 1; i < len(buckets); i++ {
		assert.Equal(t, buckets[i-1].End(), buckets[i].Start())
	}
	assert.Equal(t, "00:00:00", buckets[0].Start())
	assert.Equal(t, "24:00:00", buckets[95].End())
}

func TestExpand_InvalidRanges(t *testing.T) {
	tests := []struct {
		name       string
		start, end Clock
	}{
		{"end equals start", Clock{Hour: 7}, Clock{Hour: 7}},
		{"end before start", Clock{Hour: 8}, Clock{Hour: 7}},
		{"span not multiple of 15", Clock{Hour: 7}, Clock{Hour: 7, Minute: 20}},
		{"start off grid", Clock{Hour: 7, Minute: 5}, Clock{Hour: 7, Minute: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.start, tt.end)
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("15:30:45")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 15, Minute: 30, Second: 45}, c)
	assert.Equal(t, "15:30:45", c.String())

	c, err = ParseClock("9:05")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 9, Minute: 5}, c)

	for _, bad := range []string{"25:00", "12:61", "12:00:99", "24:15", "noon", ""} {
		_, err := ParseClock(bad)
		assert.Error(t, err, "ParseClock(%q)", bad)
	}
}

func TestValidatePeriods(t *testing.T) {
	require.NoError(t, ValidatePeriods())

	for _, p := range Periods {
		buckets, err := p.Buckets()
		require.NoError(t, err)
		assert.Len(t, buckets, 4, "period %s should span exactly one hour", p.Name)
	}
}

func TestPeriodByName(t *testing.T) {
	p, ok := PeriodByName("MORNING")
	require.True(t, ok)
	assert.Equal(t, "morning", p.Name)

	_, ok = PeriodByName("midnight")
	assert.False(t, ok)
}
