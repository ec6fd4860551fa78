package parameters

import (
	"reflect"
	"testing"
)

func TestOptionDict(t *testing.T) {
	args := []string{"NAME", "tmpl.txt", "FORWARD_INIT:True", "INIT_FILES:init%d", "BROKEN:", "A:B:C", "plain"}
	got := OptionDict(args, 2)

	want := map[string]string{
		"FORWARD_INIT": "True",
		"INIT_FILES":   "init%d",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("OptionDict() = %v, want %v", got, want)
	}
}

func TestOptionDictOffsetBeyondArgs(t *testing.T) {
	if got := OptionDict([]string{"A"}, 5); len(got) != 0 {
		t.Errorf("expected empty options, got %v", got)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"TRUE", true},
		{"true", true},
		{"True", true},
		{"FALSE", false},
		{"false", false},
		{"yes", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ParseBool(tt.in); got != tt.want {
			t.Errorf("ParseBool(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseRangeString(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "3", want: []int{3}},
		{in: "0-3,5", want: []int{0, 1, 2, 3, 5}},
		{in: " 1 - 2 , 7-8 ", want: []int{1, 2, 7, 8}},
		{in: "4-2", wantErr: true},
		{in: "a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRangeString(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRangeString(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseRangeString(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
