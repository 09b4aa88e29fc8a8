package util

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1MB", 1 << 20, true},
		{"512kib", 512 << 10, true},
		{" 2 GB ", 2 << 30, true},
		{"2048", 2048, true},
		{"64b", 64, true},
		{"", 0, false},
		{"MB", 0, false},
		{"10TB", 0, false},
		{"-1KB", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseSize(%q) = %d, %v", tt.in, got, err)
		}
	}
	if got := SizeOr("junk", 7); got != 7 {
		t.Errorf("SizeOr fallback = %d", got)
	}
}

func TestRedactDSN(t *testing.T) {
	tests := []struct{ in, want string }{
		{"fanout.db", "fanout.db"},
		{"file:runs?mode=memory&cache=shared", "file:runs?mode=memory&cache=shared"},
		{"fanout:s3cret@tcp(db:3306)/fanout?parseTime=true", "fanout:***@tcp(db:3306)/fanout?parseTime=true"},
		{"postgres://fanout:s3cret@db:5432/fanout", "postgres://fanout:xxxxx@db:5432/fanout"},
		{"redis://db:6379/0", "redis://db:6379/0"},
	}
	for _, tt := range tests {
		if got := RedactDSN(tt.in); got != tt.want {
			t.Errorf("RedactDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
