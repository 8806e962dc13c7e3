package catalog

import (
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"shopping-assistant/internal/models"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOrigin = &url.URL{Scheme: "https", Host: "www.amazon.com"}

func loadFixture(t *testing.T) string {
	t.Helper()
	raw, err := os.ReadFile("testdata/search_results.html")
	require.NoError(t, err)
	return string(raw)
}

func TestExtractSearchResults(t *testing.T) {
	products, err := ExtractSearchResults(strings.NewReader(loadFixture(t)), testOrigin, 10)
	require.NoError(t, err)
	require.Len(t, products, 4)

	first := products[0]
	assert.Equal(t, "Amazon Basics 5 Cup Drip Coffee Maker", first.Name)
	assert.Equal(t, "https://www.amazon.com/Amazon-Basics-Coffee-Maker/dp/B0001?ref=sr_1_1", first.URL)
	assert.Equal(t, "$22.", first.Price)
	assert.Equal(t, "https://m.media-amazon.com/images/I/71h3jZGKjfL.jpg", first.ImageURL)
	assert.Equal(t, "4.2 out of 5", first.Rating)

	second := products[1]
	assert.Equal(t, "Hot & Iced Coffee Maker", second.Name)
	assert.Equal(t, "https://www.example-shop.com/item/B0002", second.URL)
	assert.Equal(t, "$1,053.", second.Price)
	assert.Equal(t, "4 out of 5", second.Rating)
}

func TestExtractSearchResultsDegradesFieldsToSentinels(t *testing.T) {
	products, err := ExtractSearchResults(strings.NewReader(loadFixture(t)), testOrigin, 10)
	require.NoError(t, err)

	third := products[2]
	assert.Equal(t, "CHULUX Slim Single Serve", third.Name)
	assert.Equal(t, models.URLNotFound, third.URL)
	assert.Equal(t, models.PriceNotAvailable, third.Price)
	assert.Equal(t, models.ImageNotFound, third.ImageURL)
	assert.Equal(t, models.RatingNotAvailable, third.Rating)

	fourth := products[3]
	assert.Equal(t, "https://www.amazon.com/dp/B0004", fourth.URL)
	assert.Equal(t, models.PriceNotAvailable, fourth.Price)
}

func TestExtractSearchResultsHonorsMax(t *testing.T) {
	products, err := ExtractSearchResults(strings.NewReader(loadFixture(t)), testOrigin, 2)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestExtractSearchResultsNoContainers(t *testing.T) {
	products, err := ExtractSearchResults(strings.NewReader("<html><body><p>Robot check</p></body></html>"), testOrigin, 5)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestCleanPrice(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"22.", "$22."},
		{"$1,299.99", "$1,299.99"},
		{"  49 ", "$49"},
		{"", models.PriceNotAvailable},
		{"See options", models.PriceNotAvailable},
		{".", models.PriceNotAvailable},
		{"Price: .,", models.PriceNotAvailable},
		{"US$ 12.50 (list)", "$12.50"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanPrice(tt.in))
		})
	}
}

var priceShape = regexp.MustCompile(`^\$[.,]*\d[\d.,]*$`)

func TestCleanPriceShapeProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("price is $<number> or the sentinel", prop.ForAll(
		func(raw string) bool {
			got := CleanPrice(raw)
			return got == models.PriceNotAvailable || priceShape.MatchString(got)
		},
		gen.AnyString(),
	))

	properties.Property("digits survive cleaning", prop.ForAll(
		func(whole uint16, noise string) bool {
			got := CleanPrice(noise + "$" + strings.Repeat(" ", 2) + strconv.Itoa(int(whole)))
			return strings.HasSuffix(got, strconv.Itoa(int(whole)))
		},
		gen.UInt16(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestParseRating(t *testing.T) {
	got, ok := ParseRating("4.5 out of 5 stars")
	assert.True(t, ok)
	assert.Equal(t, "4.5 out of 5", got)

	_, ok = ParseRating("no rating")
	assert.False(t, ok)
}

func TestClampResults(t *testing.T) {
	assert.Equal(t, DefaultResults, ClampResults(0))
	assert.Equal(t, 1, ClampResults(-3))
	assert.Equal(t, 10, ClampResults(42))
	assert.Equal(t, 3, ClampResults(3))
}
