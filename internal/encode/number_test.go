package encode

import "testing"

func TestFixed2(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"12", "12.00", true},
		{"12.345", "12.35", true},
		{"12.344", "12.34", true},
		{"2.675", "2.68", true},
		{"9.995", "10.00", true},
		{"-1.005", "-1.01", true},
		{"-0.001", "0.00", true},
		{"+3.1", "3.10", true},
		{".5", "0.50", true},
		{"7.", "7.00", true},
		{"007.5", "7.50", true},
		{"", "", false},
		{".", "", false},
		{"-", "", false},
		{"1e5", "", false},
		{"1,5", "", false},
		{"1.2.3", "", false},
		{"TR123", "", false},
	}
	for _, tt := range tests {
		got, ok := Fixed2(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Fixed2(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
