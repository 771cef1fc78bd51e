package timeutil_test

import (
	"testing"
	"time"

	"sakaibot/internal/infra/timeutil"
)

func TestNextMidnight(t *testing.T) {
	t.Parallel()

	pacific := time.FixedZone("UTC-08:00", -8*3600)

	cases := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "middleOfDayUTC",
			now:  time.Date(2025, 3, 10, 13, 45, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "justBeforeMidnightUTC",
			now:  time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "fixedOffsetZone",
			// 2025-03-10 01:00 UTC = 2025-03-09 17:00 в UTC-8; полночь UTC-8 наступит в 08:00 UTC.
			now:  time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC),
			loc:  pacific,
			want: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "nilLocationFallsBackToUTC",
			now:  time.Date(2025, 6, 1, 5, 0, 0, 0, time.UTC),
			loc:  nil,
			want: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := timeutil.NextMidnight(tc.now, tc.loc)
			if !got.Equal(tc.want) {
				t.Fatalf("NextMidnight() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseLocationOffsets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		wantOff int
		wantErr bool
	}{
		{in: "UTC", wantOff: 0},
		{in: "+03:00", wantOff: 3 * 3600},
		{in: "-0700", wantOff: -7 * 3600},
		{in: "GMT-04:30", wantOff: -(4*3600 + 30*60)},
		{in: "nonsense/zone", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			loc, err := timeutil.ParseLocation(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseLocation(%q) expected error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLocation(%q) unexpected error: %v", tc.in, err)
			}
			_, off := time.Now().In(loc).Zone()
			if off != tc.wantOff {
				t.Fatalf("ParseLocation(%q) offset = %d, want %d", tc.in, off, tc.wantOff)
			}
		})
	}
}
