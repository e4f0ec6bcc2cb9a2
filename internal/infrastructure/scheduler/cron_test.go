package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", EveryMinute, false},
		{"every 15 minutes", Every15Minutes, false},
		{"hourly", EveryHour, false},
		{"daily at midnight", EveryDayMidnight, false},
		{"range", "0-30 * * * *", false},
		{"list", "0,15,45 9 * * *", false},
		{"too few fields", "* * * *", true},
		{"minute out of range", "61 * * * *", true},
		{"garbage", "lunch time * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCronExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCronExpression_Next(t *testing.T) {
	base := time.Date(2026, 3, 15, 10, 7, 30, 0, time.UTC) // a Sunday

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"every 15 minutes", Every15Minutes, time.Date(2026, 3, 15, 10, 15, 0, 0, time.UTC)},
		{"top of the hour", EveryHour, time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC)},
		{"daily at 3am", "0 3 * * *", time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC)},
		{"sunday midnight", EverySunday, time.Date(2026, 3, 22, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(base))
		})
	}
}

func TestCronExpression_ImplementsSchedule(t *testing.T) {
	var _ Schedule = MustParseCronExpression(Every5Minutes)
	assert.Equal(t, Every5Minutes, MustParseCronExpression(Every5Minutes).String())
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(15 * time.Minute)
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(15*time.Minute), s.Next(base))
	assert.Equal(t, "@every 15m0s", s.String())
}
