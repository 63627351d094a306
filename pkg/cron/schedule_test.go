package cron_test

import (
	"testing"
	"time"

	"github.com/absmach/fedcycle/pkg/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		desc string
		expr string
		err  error
	}{
		{desc: "every descriptor", expr: "@every 5s"},
		{desc: "hourly descriptor", expr: "@hourly"},
		{desc: "five fields", expr: "*/5 * * * *"},
		{desc: "empty expression", expr: "", err: cron.ErrInvalidSchedule},
		{desc: "garbage", expr: "not a schedule", err: cron.ErrInvalidSchedule},
		{desc: "six fields", expr: "0 */5 * * * *", err: cron.ErrInvalidSchedule},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			s, err := cron.Parse(tc.expr)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expr, s.String())
		})
	}
}

func TestScheduleNext(t *testing.T) {
	from := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		desc string
		expr string
		from time.Time
		want time.Time
	}{
		{
			desc: "interval",
			expr: "@every 5s",
			from: from,
			want: from.Add(5 * time.Second),
		},
		{
			desc: "next quarter hour",
			expr: "*/15 * * * *",
			from: from,
			want: from.Add(15 * time.Minute),
		},
		{
			desc: "evaluated in UTC",
			expr: "0 11 * * *",
			from: from.In(time.FixedZone("UTC+3", 3*60*60)),
			want: from.Add(time.Hour),
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			s, err := cron.Parse(tc.expr)
			require.NoError(t, err)
			got := s.Next(tc.from)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestScheduleUntil(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	s, err := cron.Parse("@every 30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, s.Until(now))

	var zero cron.Schedule
	assert.True(t, zero.Next(now).IsZero())
	assert.Equal(t, time.Duration(0), zero.Until(now))
}
