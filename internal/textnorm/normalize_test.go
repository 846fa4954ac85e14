package textnorm

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Honza", "Honza"},
		{"Jiří", "Jiri"},
		{"café", "cafe"},
		{"naïve", "naive"},
		{"Žluťoučký kůň", "Zlutoucky kun"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := RemoveDiacritics(tt.input)
			if result != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Plage de Saint-Malo", "plage de saint malo"},
		{"  São   Paulo ", "sao paulo"},
		{"IMG_2041.jpg", "img 2041.jpg"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := Normalize(tt.input)
			if result != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestMatchesAny(t *testing.T) {
	if !MatchesAny("sao paulo", "", "São Paulo") {
		t.Error("expected diacritic-insensitive match")
	}
	if MatchesAny("beach", "mountain", "lake") {
		t.Error("unexpected match")
	}
	if MatchesAny("", "anything") {
		t.Error("empty query must not match")
	}
}
