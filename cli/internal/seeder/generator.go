package seeder

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/trackstack/common/models"
)

// Synthetic interaction types.
const (
	TypePageView  = "page_view"
	TypeClick     = "click"
	TypeSearch    = "search"
	TypeAddToCart = "add_to_cart"
	TypePurchase  = "purchase"
)

// DefaultEventTypes is used when no types are configured.
var DefaultEventTypes = []string{TypePageView, TypeClick, TypeSearch, TypeAddToCart, TypePurchase}

// Sample is one synthetic interaction. URL, Title and Depth are only set for
// page views.
type Sample struct {
	EventType string
	URL       string
	Title     string
	Depth     float64
	Payload   map[string]interface{}
}

// Generator produces reproducible fake interactions from a seed.
type Generator struct {
	faker *gofakeit.Faker
	types []string
	site  string
}

// NewGenerator returns a generator for the given types. A zero seed picks a
// random one.
func NewGenerator(seed int64, types []string) (*Generator, error) {
	if len(types) == 0 {
		types = DefaultEventTypes
	}
	for _, t := range types {
		if !isKnownType(t) {
			return nil, fmt.Errorf("unknown event type %q (want one of %s)", t, strings.Join(DefaultEventTypes, ", "))
		}
	}

	faker := gofakeit.New(seed)
	return &Generator{
		faker: faker,
		types: types,
		site:  "https://" + faker.DomainName(),
	}, nil
}

func isKnownType(t string) bool {
	for _, known := range DefaultEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Next returns the next interaction.
func (g *Generator) Next() Sample {
	eventType := g.faker.RandomString(g.types)

	switch eventType {
	case TypePageView:
		path := strings.ToLower(g.faker.Noun())
		return Sample{
			EventType: eventType,
			URL:       g.site + "/" + path,
			Title:     strings.TrimSuffix(g.faker.Sentence(3), "."),
			Depth:     float64(g.faker.IntRange(5, 100)),
		}
	case TypeClick:
		return Sample{EventType: eventType, Payload: map[string]interface{}{
			"element": g.faker.RandomString([]string{"button", "link", "image", "menu"}),
			"label":   g.faker.Adjective() + " " + g.faker.Noun(),
			"x":       g.faker.IntRange(0, 1920),
			"y":       g.faker.IntRange(0, 1080),
		}}
	case TypeSearch:
		return Sample{EventType: eventType, Payload: map[string]interface{}{
			"query":   g.faker.Adjective() + " " + g.faker.Noun(),
			"results": g.faker.IntRange(0, 250),
		}}
	case TypeAddToCart:
		return Sample{EventType: eventType, Payload: map[string]interface{}{
			"product_id": g.faker.UUID(),
			"price":      g.faker.Price(1, 500),
			"quantity":   g.faker.IntRange(1, 5),
		}}
	default:
		return Sample{EventType: TypePurchase, Payload: map[string]interface{}{
			"order_id": g.faker.UUID(),
			"total":    g.faker.Price(5, 2000),
			"currency": g.faker.CurrencyShort(),
		}}
	}
}

// Device returns a fake browser snapshot for one synthetic user.
func (g *Generator) Device() *models.Device {
	online := true
	return &models.Device{
		UserAgent: g.faker.UserAgent(),
		Platform:  g.faker.RandomString([]string{"MacIntel", "Win32", "Linux x86_64", "iPhone"}),
		Language:  g.faker.RandomString([]string{"en-US", "en-GB", "de-DE", "fr-FR", "es-ES"}),
		Viewport: &models.Viewport{
			Width:      g.faker.RandomInt([]int{375, 768, 1280, 1440, 1920}),
			Height:     g.faker.RandomInt([]int{667, 1024, 800, 900, 1080}),
			PixelRatio: float64(g.faker.IntRange(1, 3)),
		},
		Connection: &models.Connection{
			EffectiveType: g.faker.RandomString([]string{"4g", "3g", "wifi"}),
			Downlink:      g.faker.Float64Range(0.5, 50),
			RTT:           g.faker.IntRange(20, 400),
		},
		Online: &online,
	}
}
