package worker

import (
	"testing"
	"time"
)

func TestBuildDestinationPath(t *testing.T) {
	dispatched := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	got := BuildDestinationPath("My Proj", "Fall:Launch", "abcd1234", "results/p/s/photo.png", dispatched)
	want := "/My Proj/Fall_Launch/2026-03-14_15-09-26_session-ABCD_result.png"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildDestinationPathIsDeterministic(t *testing.T) {
	dispatched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := BuildDestinationPath("Proj", "Exp", "sess-1", "a/b.jpg", dispatched)
	// A redelivered task carries the same dispatch timestamp and must land
	// on the identical path.
	second := BuildDestinationPath("Proj", "Exp", "sess-1", "a/b.jpg", dispatched)
	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
}

func TestBuildDestinationPathDefaultExtension(t *testing.T) {
	dispatched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := BuildDestinationPath("P", "E", "s", "results/noext", dispatched)
	if want := "/P/E/2026-01-02_03-04-05_session-S_result.jpg"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildDestinationPathNonUTCTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	dispatched := time.Date(2026, 1, 2, 6, 0, 0, 0, loc)
	got := BuildDestinationPath("P", "E", "s", "f.jpg", dispatched)
	if want := "/P/E/2026-01-02_03-00-00_session-S_result.jpg"; got != want {
		t.Errorf("timestamp not normalized to UTC: %q", got)
	}
}

func TestBuildDestinationPathShortSessionID(t *testing.T) {
	dispatched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := BuildDestinationPath("P", "E", "ab", "f.jpg", dispatched)
	if want := "/P/E/2026-01-02_03-04-05_session-AB_result.jpg"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitizeFolderName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Summer Gala", "Summer Gala"},
		{`Fall:Launch`, "Fall_Launch"},
		{`a/b\c:d*e?f"g<h>i|j`, "a_b_c_d_e_f_g_h_i_j"},
		{"", "Untitled"},
		{"   ", "Untitled"},
		{`///`, "___"},
	}
	for _, tc := range cases {
		if got := sanitizeFolderName(tc.in); got != tc.want {
			t.Errorf("sanitizeFolderName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
