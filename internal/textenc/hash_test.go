package textenc

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHashDeterministic(t *testing.T) {
	enc := NewHash(8)
	a, err := enc.Encode(context.Background(), []string{"cat", "dog", "cat"})
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Shape(); got[0] != 3 || got[1] != 8 {
		t.Fatalf("shape = %v, want (3, 8)", got)
	}
	data := a.Data().([]float32)
	if diff := cmp.Diff(data[0:8], data[16:24]); diff != "" {
		t.Errorf("same text gave different vectors:\n%s", diff)
	}
	if cmp.Equal(data[0:8], data[8:16]) {
		t.Error("different texts gave equal vectors")
	}
	for _, v := range data {
		if v < -1 || v >= 1 {
			t.Fatalf("value %v out of range", v)
		}
	}
}

func TestPrompts(t *testing.T) {
	if got := ClassPrompt("zebra"); got != "a photo of a zebra" {
		t.Errorf("ClassPrompt = %q", got)
	}
	tests := []struct {
		names []string
		want  string
	}{
		{[]string{"cat"}, "a photo of a cat"},
		{[]string{"cat", "dog"}, "a photo of a cat or dog"},
		{[]string{"cat", "dog", "owl"}, "a photo of a cat, dog or owl"},
	}
	for _, tt := range tests {
		if got := TaskPrompt(tt.names); got != tt.want {
			t.Errorf("TaskPrompt(%v) = %q, want %q", tt.names, got, tt.want)
		}
	}
}
