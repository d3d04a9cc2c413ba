package chatlogd

import (
	"path/filepath"
	"testing"
)

func TestPathMapChannelDayFile(t *testing.T) {
	p := PathMap{Root: "/data"}
	got := p.ChannelDayFile("71092938", 2021, 1, 9)
	want := filepath.Join("/data", "71092938", "2021", "1", "9.txt")
	if got != want {
		t.Errorf("ChannelDayFile = %q, want %q", got, want)
	}
}

func TestPathMapUserMonthIndex(t *testing.T) {
	p := PathMap{Root: "/data"}
	got := p.UserMonthIndex("71092938", 2021, 1, "42")
	want := filepath.Join("/data", "71092938", "2021", "1", "users", "42.indexes")
	if got != want {
		t.Errorf("UserMonthIndex = %q, want %q", got, want)
	}
}

func TestPathMapChannelDayArchive(t *testing.T) {
	p := PathMap{Root: "/data"}
	got := p.ChannelDayArchive("71092938", 2021, 1, 9)
	want := p.ChannelDayFile("71092938", 2021, 1, 9) + ".gz"
	if got != want {
		t.Errorf("ChannelDayArchive = %q, want %q", got, want)
	}
}
