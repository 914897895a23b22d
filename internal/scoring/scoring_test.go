package scoring

import (
	"testing"
	"time"
)

var lim = Limits{
	IdealTime: 10 * time.Minute,
	TimeLimit: 30 * time.Minute,
}

func TestScoreZeroCases(t *testing.T) {
	cases := []struct {
		name string
		in   Input
	}{
		{
			name: "compile failure",
			in:   Input{Compiled: false, TestsPassed: 5, TotalTests: 5, Elapsed: time.Minute},
		},
		{
			name: "no tests passed fast",
			in:   Input{Compiled: true, TestsPassed: 0, TotalTests: 5, Elapsed: time.Second},
		},
		{
			name: "no tests passed slow",
			in:   Input{Compiled: true, TestsPassed: 0, TotalTests: 5, Elapsed: time.Hour},
		},
		{
			name: "empty test set",
			in:   Input{Compiled: true, TestsPassed: 0, TotalTests: 0},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.in, lim); got != (Breakdown{}) {
				t.Fatalf("want zero breakdown, got %+v", got)
			}
		})
	}
}

func TestScorePerfect(t *testing.T) {
	in := Input{
		Compiled:    true,
		TestsPassed: 5,
		TotalTests:  5,
		Elapsed:     4 * time.Minute, // 40% of ideal time
	}
	got := Score(in, lim)
	want := Breakdown{Correctness: 60, TimeEfficiency: 20, Optimization: 20, Total: 100}
	if got != want {
		t.Fatalf("Score = %+v, want %+v", got, want)
	}
}

func TestScoreTimeEfficiency(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{name: "at ideal time", elapsed: lim.IdealTime, want: 20},
		{name: "under ideal time", elapsed: lim.IdealTime / 2, want: 20},
		{name: "halfway to limit", elapsed: 20 * time.Minute, want: 10},
		{name: "at limit", elapsed: lim.TimeLimit, want: 0},
		{name: "over limit", elapsed: lim.TimeLimit + time.Second, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := Input{Compiled: true, TestsPassed: 5, TotalTests: 5, Elapsed: tc.elapsed}
			if got := Score(in, lim).TimeEfficiency; got != tc.want {
				t.Fatalf("TimeEfficiency = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScorePartialCorrectness(t *testing.T) {
	in := Input{Compiled: true, TestsPassed: 3, TotalTests: 5, Elapsed: lim.IdealTime}
	got := Score(in, lim)
	if got.Correctness != 36 {
		t.Fatalf("Correctness = %v, want 36", got.Correctness)
	}
	// Fallback optimization is proportional to correctness.
	if got.Optimization != 12 {
		t.Fatalf("Optimization = %v, want 12", got.Optimization)
	}
	if got.Total != 36+20+12 {
		t.Fatalf("Total = %v, want %v", got.Total, 36+20+12)
	}
}

func TestScoreOptimizationTelemetry(t *testing.T) {
	in := Input{
		Compiled:    true,
		TestsPassed: 5,
		TotalTests:  5,
		Elapsed:     lim.IdealTime,
		ExecTime:    200 * time.Millisecond,
		RefTime:     100 * time.Millisecond,
	}
	if got := Score(in, lim).Optimization; got != 10 {
		t.Fatalf("Optimization = %v, want 10", got)
	}
	// Faster than the reference caps at the maximum.
	in.ExecTime = 50 * time.Millisecond
	if got := Score(in, lim).Optimization; got != 20 {
		t.Fatalf("Optimization = %v, want 20", got)
	}
}

func TestScoreDeterministicAndBounded(t *testing.T) {
	in := Input{Compiled: true, TestsPassed: 4, TotalTests: 7, Elapsed: 17 * time.Minute}
	first := Score(in, lim)
	for range 100 {
		if got := Score(in, lim); got != first {
			t.Fatalf("non-deterministic result: %+v vs %+v", got, first)
		}
	}
	if first.Total < 0 || first.Total > MaxTotal {
		t.Fatalf("total %v out of bounds", first.Total)
	}
}
