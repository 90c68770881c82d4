package temporal

import (
	"errors"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func resolveAll(t *testing.T, r Resolver, now time.Time, labels []string) []time.Time {
	t.Helper()
	st := r.NewState(now)
	out := make([]time.Time, 0, len(labels))
	for _, l := range labels {
		ts, next, err := r.Resolve(l, st)
		if err != nil {
			t.Fatalf("resolve %q: %v", l, err)
		}
		st = next
		out = append(out, ts)
	}
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func TestParseLabel(t *testing.T) {
	cases := []struct {
		in     string
		hour24 int
		minute int
		mer    Meridiem
	}{
		{"10:51 AM", 10, 51, AM},
		{"12:00 am", 0, 0, AM},
		{"12:30 PM", 12, 30, PM},
		{"1:05pm", 13, 5, PM},
		{"23:15", 23, 15, MeridiemNone},
		{"7:00", 7, 0, MeridiemNone},
		{"10:51\u202fPM", 22, 51, PM},
		{"9:05\u00a0am", 9, 5, AM},
	}
	for _, tc := range cases {
		c, err := ParseLabel(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if c.Hour24() != tc.hour24 || c.Minute != tc.minute || c.Meridiem != tc.mer {
			t.Fatalf("parse %q = %+v (hour24 %d)", tc.in, c, c.Hour24())
		}
	}
}

func TestParseLabelRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "10:5", "13:00 PM", "0:30 AM", "24:00", "10:60", "noon", "10:51 XM"} {
		_, err := ParseLabel(in)
		if !errors.Is(err, ErrParse) {
			t.Fatalf("parse %q: expected ErrParse, got %v", in, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) || pe.Label != in {
			t.Fatalf("parse %q: expected *ParseError carrying the label, got %v", in, err)
		}
	}
}

func TestFindLabel(t *testing.T) {
	if got, ok := FindLabel("Ana\nphoto\n10:51 AM"); !ok || got != "10:51 AM" {
		t.Fatalf("got %q %v", got, ok)
	}
	if got, ok := FindLabel("edited 9:03"); !ok || got != "9:03" {
		t.Fatalf("got %q %v", got, ok)
	}
	if got, ok := FindLabel("Ana\n10:51\u202fPM"); !ok || got != "10:51 PM" {
		t.Fatalf("narrow no-break space: got %q %v", got, ok)
	}
	if got, ok := FindLabel("photo 12:04\u00a0AM ✓✓"); !ok || got != "12:04 AM" {
		t.Fatalf("no-break space: got %q %v", got, ok)
	}
	if _, ok := FindLabel("no time here"); ok {
		t.Fatalf("expected no label")
	}
}

func TestRolloverAcrossMidnight(t *testing.T) {
	r := New(time.UTC, DefaultSkewTolerance)
	d := day(2024, time.March, 10)
	got := resolveAll(t, r, d.Add(23*time.Hour+59*time.Minute+30*time.Second), []string{"11:58 PM", "11:59 PM", "12:01 AM"})
	want := []time.Time{d, d, d.AddDate(0, 0, -1)}
	for i := range want {
		if !sameDate(got[i], want[i]) {
			t.Fatalf("event %d dated %s, want %s", i, got[i].Format(time.DateOnly), want[i].Format(time.DateOnly))
		}
	}
	if got[2].Hour() != 0 || got[2].Minute() != 1 {
		t.Fatalf("unexpected clock for last event: %s", got[2])
	}
}

func TestMorningLabelInAfternoonPassIsYesterday(t *testing.T) {
	r := New(time.UTC, DefaultSkewTolerance)
	d := day(2024, time.March, 10)
	got := resolveAll(t, r, d.Add(15*time.Hour), []string{"10:05 AM"})
	want := time.Date(2024, time.March, 9, 10, 5, 0, 0, time.UTC)
	if !got[0].Equal(want) {
		t.Fatalf("got %s, want %s", got[0], want)
	}
}

func TestMorningLabelInMorningPassIsToday(t *testing.T) {
	r := New(time.UTC, DefaultSkewTolerance)
	d := day(2024, time.March, 10)
	got := resolveAll(t, r, d.Add(11*time.Hour), []string{"10:05 AM"})
	if !sameDate(got[0], d) {
		t.Fatalf("got %s", got[0])
	}
}

func TestStrictRolloverWithoutTolerance(t *testing.T) {
	r := New(time.UTC, 0)
	d := day(2024, time.March, 10)
	got := resolveAll(t, r, d.Add(20*time.Hour), []string{"18:00", "18:00", "18:01", "09:00", "22:00"})
	wantDays := []time.Time{d, d, d.AddDate(0, 0, -1), d.AddDate(0, 0, -1), d.AddDate(0, 0, -2)}
	for i := range wantDays {
		if !sameDate(got[i], wantDays[i]) {
			t.Fatalf("event %d dated %s, want %s", i, got[i].Format(time.DateOnly), wantDays[i].Format(time.DateOnly))
		}
	}
}

func TestToleranceAbsorbsSmallInversions(t *testing.T) {
	r := New(time.UTC, 5*time.Minute)
	d := day(2024, time.March, 10)
	got := resolveAll(t, r, d.Add(20*time.Hour), []string{"18:00", "18:04", "18:10"})
	if !sameDate(got[1], d) {
		t.Fatalf("4 minute inversion should stay on %s, got %s", d.Format(time.DateOnly), got[1])
	}
	if !sameDate(got[2], d.AddDate(0, 0, -1)) {
		t.Fatalf("6 minute jump should roll back, got %s", got[2])
	}
}

func TestUnknownMeridiemPassesThrough(t *testing.T) {
	r := New(time.UTC, DefaultSkewTolerance)
	d := day(2024, time.March, 10)
	got := resolveAll(t, r, d.Add(15*time.Hour), []string{"9:30", "8:15"})
	if got[0].Hour() != 9 || !sameDate(got[0], d) {
		t.Fatalf("got %s", got[0])
	}
	if got[1].Hour() != 8 || !sameDate(got[1], d) {
		t.Fatalf("got %s", got[1])
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := New(time.UTC, DefaultSkewTolerance)
	now := time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)
	labels := []string{"7:55 AM", "7:30 AM", "11:40 PM", "11:45 PM", "6:00 PM", "9:00 AM"}
	first := resolveAll(t, r, now, labels)
	second := resolveAll(t, r, now, labels)
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Fatalf("run mismatch at %d: %s vs %s", i, first[i], second[i])
		}
	}
	if !sameDate(first[2], day(2023, time.December, 31)) {
		t.Fatalf("expected year rollback, got %s", first[2])
	}
}

func TestResolveErrorKeepsState(t *testing.T) {
	r := New(time.UTC, DefaultSkewTolerance)
	st := r.NewState(time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC))
	_, st, err := r.Resolve("10:00 AM", st)
	if err != nil {
		t.Fatal(err)
	}
	_, after, err := r.Resolve("99:99", st)
	if err == nil {
		t.Fatalf("expected error")
	}
	if after != st {
		t.Fatalf("state changed on error: %+v vs %+v", after, st)
	}
}

func TestResolveUsesLocation(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	r := New(loc, DefaultSkewTolerance)
	now := time.Date(2024, time.March, 10, 10, 0, 0, 0, loc)
	got := resolveAll(t, r, now, []string{"0:30"})
	want := time.Date(2024, time.March, 9, 23, 30, 0, 0, time.UTC)
	if !got[0].Equal(want) || got[0].Location() != time.UTC {
		t.Fatalf("got %s, want %s", got[0], want)
	}
}

func TestUnicodeSpacedPMLabelResolvesToEvening(t *testing.T) {
	r := New(time.UTC, DefaultSkewTolerance)
	now := time.Date(2024, time.March, 10, 23, 0, 0, 0, time.UTC)
	label, ok := FindLabel("Ana\n10:51\u202fPM")
	if !ok {
		t.Fatalf("label not found")
	}
	got := resolveAll(t, r, now, []string{label})
	want := time.Date(2024, time.March, 10, 22, 51, 0, 0, time.UTC)
	if !got[0].Equal(want) {
		t.Fatalf("got %s, want %s", got[0], want)
	}
}

func TestFirstLabelAfterPassStartIsYesterday(t *testing.T) {
	r := New(time.UTC, DefaultSkewTolerance)
	now := time.Date(2024, time.March, 10, 0, 30, 0, 0, time.UTC)
	got := resolveAll(t, r, now, []string{"11:55 PM", "11:40 PM"})
	want := []time.Time{
		time.Date(2024, time.March, 9, 23, 55, 0, 0, time.UTC),
		time.Date(2024, time.March, 9, 23, 40, 0, 0, time.UTC),
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("event %d dated %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFirstLabelWithinSkewOfPassStartStaysToday(t *testing.T) {
	r := New(time.UTC, DefaultSkewTolerance)
	now := time.Date(2024, time.March, 10, 21, 59, 30, 0, time.UTC)
	got := resolveAll(t, r, now, []string{"10:00 PM"})
	if !sameDate(got[0], day(2024, time.March, 10)) {
		t.Fatalf("small clock skew moved the date: %s", got[0])
	}
}
