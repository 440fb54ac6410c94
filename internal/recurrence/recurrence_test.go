package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clofast/clofast/internal/apperr"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name      string
		dateStr   string
		frequency string
		want      Expression
		wantStr   string
	}{
		{
			name:      "daily",
			dateStr:   "2025-02-28T14:30:00Z",
			frequency: "daily",
			want:      Expression{Minute: 30, Hour: 14, DayOfMonth: Any, Month: Any, Weekday: Any},
			wantStr:   "30 14 * * *",
		},
		{
			name:      "weekly on a friday",
			dateStr:   "2025-02-28T14:30:00Z",
			frequency: "weekly",
			want:      Expression{Minute: 30, Hour: 14, DayOfMonth: Any, Month: Any, Weekday: 4},
			wantStr:   "30 14 * * 4",
		},
		{
			name:      "weekly on a sunday",
			dateStr:   "2025-03-02T08:05:00Z",
			frequency: "weekly",
			want:      Expression{Minute: 5, Hour: 8, DayOfMonth: Any, Month: Any, Weekday: 6},
			wantStr:   "5 8 * * 6",
		},
		{
			name:      "monthly",
			dateStr:   "2025-01-15T09:00:00Z",
			frequency: "monthly",
			want:      Expression{Minute: 0, Hour: 9, DayOfMonth: 15, Month: Any, Weekday: Any},
			wantStr:   "0 9 15 * *",
		},
		{
			name:      "intraday",
			dateStr:   "2025-01-15T09:45:00Z",
			frequency: "intraday",
			want:      Expression{Minute: 45, Hour: Any, DayOfMonth: Any, Month: Any, Weekday: Any},
			wantStr:   "45 * * * *",
		},
		{
			name:      "uses the timestamp's own offset",
			dateStr:   "2025-02-28T23:30:00+05:30",
			frequency: "weekly",
			want:      Expression{Minute: 30, Hour: 23, DayOfMonth: Any, Month: Any, Weekday: 4},
			wantStr:   "30 23 * * 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compile(tt.dateStr, tt.frequency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantStr, got.String())
		})
	}
}

func TestCompile_Deterministic(t *testing.T) {
	for _, f := range []string{"daily", "weekly", "monthly", "intraday"} {
		first, err := Compile("2024-12-31T23:59:00-08:00", f)
		require.NoError(t, err)
		second, err := Compile("2024-12-31T23:59:00-08:00", f)
		require.NoError(t, err)
		assert.Equal(t, first.String(), second.String(), f)
	}
}

func TestCompile_DailyAlwaysWildcardsDateFields(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 400; i++ {
		ts := start.Add(time.Duration(i) * 25 * time.Hour).Add(time.Duration(i%60) * time.Minute)
		expr, err := Compile(ts.Format(time.RFC3339), "daily")
		require.NoError(t, err)
		assert.Equal(t, Any, expr.DayOfMonth)
		assert.Equal(t, Any, expr.Month)
		assert.Equal(t, Any, expr.Weekday)
		assert.Equal(t, ts.Minute(), expr.Minute)
		assert.Equal(t, ts.Hour(), expr.Hour)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name      string
		dateStr   string
		frequency string
		wantErr   error
	}{
		{"unsupported frequency", "2025-02-28T14:30:00Z", "yearly", apperr.ErrInvalidFrequency},
		{"hourly is not a class", "2025-02-28T14:30:00Z", "hourly", apperr.ErrInvalidFrequency},
		{"custom is not compiled", "2025-02-28T14:30:00Z", "custom", apperr.ErrInvalidFrequency},
		{"garbage timestamp", "yesterday", "daily", apperr.ErrInvalidTimestamp},
		{"date only", "2025-02-28", "daily", apperr.ErrInvalidTimestamp},
		{"missing offset", "2025-02-28T14:30:00", "daily", apperr.ErrInvalidTimestamp},
		{"empty timestamp", "", "weekly", apperr.ErrInvalidTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.dateStr, tt.frequency)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResolve_CustomPassesThroughVerbatim(t *testing.T) {
	res, err := Resolve(Config{Frequency: "custom", CronExpression: "*/5 * * * *"})
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", res.Expression)
	assert.Equal(t, FrequencyCustom, res.Frequency)
	assert.Empty(t, res.Timezone)
}

func TestResolve_CustomRequiresExpression(t *testing.T) {
	_, err := Resolve(Config{Frequency: "custom", CronExpression: "  "})
	require.ErrorIs(t, err, apperr.ErrInvalidTrigger)
}

func TestResolve_CompiledRequiresDate(t *testing.T) {
	_, err := Resolve(Config{Frequency: "daily"})
	require.ErrorIs(t, err, apperr.ErrInvalidTimestamp)
}

func TestResolve_UnknownFrequency(t *testing.T) {
	_, err := Resolve(Config{Frequency: "yearly", DateStr: "2025-02-28T14:30:00Z"})
	require.ErrorIs(t, err, apperr.ErrInvalidFrequency)
}

func TestResolve_TimezoneFromOffset(t *testing.T) {
	res, err := Resolve(Config{Frequency: "daily", DateStr: "2025-02-28T14:30:00+05:30"})
	require.NoError(t, err)
	assert.Equal(t, "30 14 * * *", res.Expression)
	assert.Equal(t, "+05:30", res.Timezone)

	res, err = Resolve(Config{Frequency: "daily", DateStr: "2025-02-28T14:30:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "UTC", res.Timezone)
}

func TestResolve_ExplicitTimezoneConvertsReference(t *testing.T) {
	res, err := Resolve(Config{
		Frequency: "daily",
		DateStr:   "2025-02-28T14:30:00Z",
		Timezone:  "Asia/Kolkata",
	})
	require.NoError(t, err)
	assert.Equal(t, "0 20 * * *", res.Expression)
	assert.Equal(t, "Asia/Kolkata", res.Timezone)

	_, err = Resolve(Config{Frequency: "daily", DateStr: "2025-02-28T14:30:00Z", Timezone: "Nowhere/Special"})
	require.ErrorIs(t, err, apperr.ErrInvalidTrigger)
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("-08:00")
	require.NoError(t, err)
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -8*3600, offset)

	for _, bad := range []string{"+5", "+05:75", "+15:00", "Not/AZone"} {
		_, err := LoadLocation(bad)
		assert.Error(t, err, bad)
	}
}

func TestOffsetName_RoundTrips(t *testing.T) {
	for _, name := range []string{"+05:30", "-03:00", "+14:00"} {
		loc, err := LoadLocation(name)
		require.NoError(t, err)
		assert.Equal(t, name, OffsetName(time.Date(2025, 6, 1, 12, 0, 0, 0, loc)))
	}
	assert.Equal(t, "UTC", OffsetName(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func TestMondayIndex(t *testing.T) {
	assert.Equal(t, 0, MondayIndex(time.Monday))
	assert.Equal(t, 4, MondayIndex(time.Friday))
	assert.Equal(t, 6, MondayIndex(time.Sunday))
}
