package textutil

import "testing"

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Bohemian Rhapsody", "bohemian_rhapsody"},
		{"Beyoncé — Halo", "beyonce___halo"},
		{"AC/DC: Back In Black", "ac_dc__back_in_black"},
		{"  ", "unknown"},
		{"---", "unknown"},
		{"Tiësto", "tiesto"},
	}
	for _, tc := range cases {
		if got := Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("My Song (Live)"); got != "my_song__live" {
		t.Errorf("unexpected token: %q", got)
	}
	if got := SanitizeToken(""); got != "unknown" {
		t.Errorf("expected unknown for empty input, got %q", got)
	}
}
