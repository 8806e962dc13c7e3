package catalog

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	resultSelector  = `[data-component-type="s-search-result"]`
	nameSelector    = "a h2 span"
	altNameSelector = "h2 span"
	priceSelector   = ".a-price-whole"
	imageSelector   = "img.s-image"
	ratingSelector  = ".a-icon-alt"
)

var (
	priceStrip    = regexp.MustCompile(`[^\d.,]`)
	priceDigit    = regexp.MustCompile(`\d`)
	ratingPattern = regexp.MustCompile(`(\d+\.?\d*)`)
)

// CleanPrice normalizes scraped price text to "$<number>" or the
// not-available sentinel.
func CleanPrice(priceText string) string {
	cleaned := strings.TrimSpace(priceStrip.ReplaceAllString(priceText, ""))
	if !priceDigit.MatchString(cleaned) {
		return models.PriceNotAvailable
	}
	return "$" + cleaned
}

// ParseRating extracts the first decimal from descriptive alt text such as
// "4.5 out of 5 stars".
func ParseRating(altText string) (string, bool) {
	m := ratingPattern.FindStringSubmatch(altText)
	if m == nil {
		return "", false
	}
	return m[1] + " out of 5", true
}

// ExtractSearchResults parses a search results page. Each result container is
// processed independently and every field degrades to its sentinel on failure.
func ExtractSearchResults(r io.Reader, origin *url.URL, maxResults int) ([]models.Product, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	products := make([]models.Product, 0, maxResults)
	doc.Find(resultSelector).EachWithBreak(func(i int, container *goquery.Selection) bool {
		if i >= maxResults {
			return false
		}
		products = append(products, extractProduct(container, origin))
		return true
	})

	return products, nil
}

func extractProduct(container *goquery.Selection, origin *url.URL) models.Product {
	product := models.NewProduct()

	field(container, "name", func(s *goquery.Selection) {
		name := s.Find(nameSelector).First()
		if name.Length() == 0 {
			name = s.Find(altNameSelector).First()
		}
		if text := strings.TrimSpace(name.Text()); text != "" {
			product.Name = text
		}
	})

	field(container, "url", func(s *goquery.Selection) {
		href, ok := s.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		product.URL = resolveURL(origin, strings.TrimSpace(href))
	})

	field(container, "price", func(s *goquery.Selection) {
		price := s.Find(priceSelector).First()
		if price.Length() > 0 {
			product.Price = CleanPrice(price.Text())
		}
	})

	field(container, "image", func(s *goquery.Selection) {
		if src, ok := s.Find(imageSelector).First().Attr("src"); ok && src != "" {
			product.ImageURL = src
		}
	})

	field(container, "rating", func(s *goquery.Selection) {
		alt := s.Find(ratingSelector).First()
		if alt.Length() == 0 {
			return
		}
		if rating, ok := ParseRating(alt.Text()); ok {
			product.Rating = rating
		}
	})

	return product
}

// field runs one extraction step, keeping a failure local to that field
func field(container *goquery.Selection, name string, extract func(*goquery.Selection)) {
	defer func() {
		if r := recover(); r != nil {
			util.GetLogger().Debug("Product field extraction failed",
				zap.String("field", name),
				zap.Any("panic", r))
		}
	}()
	extract(container)
}

func resolveURL(origin *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return models.URLNotFound
	}
	if ref.IsAbs() || origin == nil {
		return ref.String()
	}
	return origin.ResolveReference(ref).String()
}
