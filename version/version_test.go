package version

import "testing"

func restore() func() {
	v, c, b := Version, GitCommit, BuildTime
	return func() { Version, GitCommit, BuildTime = v, c, b }
}

func TestGetUsesLinkerValues(t *testing.T) {
	defer restore()()
	Version = "1.4.0"
	GitCommit = "abcdef0123456"
	BuildTime = "2026-01-15T10:30:00Z"

	info := Get()
	if info.Version != "1.4.0" || info.BuildTime != "2026-01-15T10:30:00Z" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.GitCommit != "abcdef0" {
		t.Errorf("expected commit shortened to 7 chars, got %q", info.GitCommit)
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		info Info
		want string
	}{
		{Info{Version: "dev"}, "dev"},
		{Info{Version: "1.0.0", GitCommit: "abc1234"}, "1.0.0-abc1234"},
		{Info{Version: "1.0.0", GitCommit: "abc1234", Dirty: true}, "1.0.0-abc1234-dirty"},
	}
	for _, tt := range tests {
		if got := tt.info.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
