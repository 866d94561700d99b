package sweep_test

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/pumpprobe/sweep"
)

func ExampleBuildGrid() {
	g, _ := sweep.BuildGrid(sweep.Axis{Start: 0, Stop: 10, Step: 5}, &sweep.SubSequence{Start: 0, Step: 1, Stop: 3})
	fmt.Println(g)
	// Output: [0 1 2 3 5 10]
}

func TestBuildGrid(t *testing.T) {
	cases := []struct {
		name  string
		axis  sweep.Axis
		extra *sweep.SubSequence
		want  []float64
	}{
		{"forward", sweep.Axis{Start: 0, Stop: 10, Step: 2}, nil, []float64{0, 2, 4, 6, 8, 10}},
		{"reverse", sweep.Axis{Start: 10, Stop: 0, Step: 2}, nil, []float64{10, 8, 6, 4, 2, 0}},
		{"negative step forward", sweep.Axis{Start: 0, Stop: 10, Step: -2}, nil, []float64{0, 2, 4, 6, 8, 10}},
		{"degenerate", sweep.Axis{Start: 3, Stop: 3, Step: 0}, nil, []float64{3}},
		{"degenerate with step", sweep.Axis{Start: 3, Stop: 3, Step: 1}, nil, []float64{3}},
		{"quarter steps", sweep.Axis{Start: 0, Stop: 1, Step: 0.25}, nil, []float64{0, 0.25, 0.5, 0.75, 1}},
		{"merged", sweep.Axis{Start: 0, Stop: 10, Step: 5}, &sweep.SubSequence{Start: 0, Step: 1, Stop: 3}, []float64{0, 1, 2, 3, 5, 10}},
		{"merged reverse is ascending", sweep.Axis{Start: 10, Stop: 0, Step: 5}, &sweep.SubSequence{Start: 4, Step: 1, Stop: 6}, []float64{0, 4, 5, 6, 10}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := sweep.BuildGrid(c.axis, c.extra)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("grid mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildGridMergedHasNoDuplicatesAndIsSorted(t *testing.T) {
	got, err := sweep.BuildGrid(sweep.Axis{Start: 0, Stop: 20, Step: 2}, &sweep.SubSequence{Start: 4, Step: 0.5, Stop: 8})
	if err != nil {
		t.Fatal(err)
	}
	if !sort.Float64sAreSorted(got) {
		t.Errorf("merged grid is not ascending: %v", got)
	}
	seen := map[float64]bool{}
	for _, v := range got {
		if seen[v] {
			t.Errorf("value %v appears more than once in %v", v, got)
		}
		seen[v] = true
	}
}

func TestBuildGridRejectsZeroStep(t *testing.T) {
	_, err := sweep.BuildGrid(sweep.Axis{Start: 0, Stop: 1, Step: 0}, nil)
	var ce *sweep.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a ConfigurationError, got %v", err)
	}
	if ce.Field != "step" {
		t.Errorf("expected the error to name step, got %q", ce.Field)
	}
}

func TestParseSubSequence(t *testing.T) {
	cases := []struct {
		in   string
		want sweep.SubSequence
	}{
		{"0, 1, 3", sweep.SubSequence{Start: 0, Step: 1, Stop: 3}},
		{"0.5 0.1 1.5", sweep.SubSequence{Start: 0.5, Step: 0.1, Stop: 1.5}},
		{" -2;0.5;2 ", sweep.SubSequence{Start: -2, Step: 0.5, Stop: 2}},
	}
	for _, c := range cases {
		got, err := sweep.ParseSubSequence(c.in)
		if err != nil {
			t.Errorf("ParseSubSequence(%q): %v", c.in, err)
			continue
		}
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("ParseSubSequence(%q) mismatch (-want +got):\n%s", c.in, diff)
		}
	}
}

func TestParseSubSequenceRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "1,2", "1,2,3,4", "1,x,3", "1,NaN,3"} {
		_, err := sweep.ParseSubSequence(in)
		var ce *sweep.ConfigurationError
		if !errors.As(err, &ce) {
			t.Errorf("ParseSubSequence(%q): expected ConfigurationError, got %v", in, err)
		}
	}
}

func TestBuildGridStringEmptyMeansNoExtra(t *testing.T) {
	got, err := sweep.BuildGridString(sweep.Axis{Start: 10, Stop: 0, Step: 5}, "  ")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{10, 5, 0}, got); diff != "" {
		t.Errorf("grid mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildGridRejectsOversizedAxes(t *testing.T) {
	cases := []struct {
		name  string
		axis  sweep.Axis
		extra *sweep.SubSequence
	}{
		{"too many points", sweep.Axis{Start: 0, Stop: 1e13, Step: 1e-6}, nil},
		{"point count overflows", sweep.Axis{Start: 0, Stop: 1e308, Step: 1e-308}, nil},
		{"span overflows", sweep.Axis{Start: -1e308, Stop: 1e308, Step: 1}, nil},
		{"oversized sub-sequence", sweep.Axis{Start: 0, Stop: 1, Step: 1}, &sweep.SubSequence{Start: 0, Step: 1e-9, Stop: 1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := sweep.BuildGrid(c.axis, c.extra)
			var ce *sweep.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected a ConfigurationError, got %v with %d values", err, len(got))
			}
			if got != nil {
				t.Errorf("expected no grid, got %d values", len(got))
			}
		})
	}
}

func TestBuildGridAtMaxPoints(t *testing.T) {
	got, err := sweep.BuildGrid(sweep.Axis{Start: 0, Stop: sweep.MaxPoints - 1, Step: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != sweep.MaxPoints {
		t.Errorf("expected %d values, got %d", sweep.MaxPoints, len(got))
	}
}
