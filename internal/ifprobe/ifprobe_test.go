package ifprobe

import (
	"reflect"
	"testing"
)

func TestRenderFreqsDropsUnknownFrequencies(t *testing.T) {
	got := renderFreqs([]int{2412, 99999, 2437})
	want := []string{"1", "6"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("renderFreqs = %v, want %v", got, want)
	}
}

func TestRenderFreqsEmpty(t *testing.T) {
	got := renderFreqs(nil)
	if len(got) != 0 {
		t.Fatalf("renderFreqs(nil) = %v, want empty", got)
	}
}
