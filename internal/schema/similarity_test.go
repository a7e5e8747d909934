package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	cases := []struct {
		name    string
		a, b    string
		wantMin float64
		wantMax float64
	}{
		{"static alias both directions", "usd_price", "price_usd", 1.0, 1.0},
		{"static alias reverse", "price_usd", "usd_price", 1.0, 1.0},
		{"identical", "symbol", "symbol", 1.0, 1.0},
		{"substring", "ticker_symbol", "symbol", 0.9, 0.9},
		{"case and separator insensitive exact", "Price_USD", "priceusd", 1.0, 1.0},
		{"close typo", "pric_usd", "price_usd", 0.7, 0.99},
		{"unrelated", "foobar", "symbol", 0.0, 0.4},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := similarity(c.a, c.b)
			assert.GreaterOrEqual(t, got, c.wantMin)
			assert.LessOrEqual(t, got, c.wantMax)
		})
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"symbol", "symbol", 0},
	}

	for _, c := range cases {
		got := levenshtein(c.a, c.b)
		assert.Equal(t, c.want, got, "levenshtein(%q, %q)", c.a, c.b)
	}
}
