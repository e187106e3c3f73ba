package feed

import "testing"

func TestFilter(t *testing.T) {
	f := NewFilter([]string{"10.0.0.5", "", "masscan"})
	if f.Len() != 2 {
		t.Errorf("Len() = %d; want 2", f.Len())
	}
	tests := []struct {
		line string
		want bool
	}{
		{`[{"src_ip":"10.0.0.5"}]`, false},
		{`[{"ua":"masscan/1.3"}]`, false},
		{`[{"src_ip":"10.0.0.6"}]`, true},
		{``, true},
	}
	for _, tt := range tests {
		if got := f.Allow([]byte(tt.line)); got != tt.want {
			t.Errorf("Allow(%s) = %v; want %v", tt.line, got, tt.want)
		}
	}
}

func TestFilterEmptyAllowsAll(t *testing.T) {
	for _, f := range []*Filter{nil, NewFilter(nil), NewFilter([]string{""})} {
		if !f.Allow([]byte(`[{"src_ip":"10.0.0.5"}]`)) {
			t.Errorf("filter %+v suppressed a line", f)
		}
	}
}
