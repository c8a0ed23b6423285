// Package catalog loads the static per-tenant product and shipping catalog.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Product is a sellable item matched against what the customer asks for.
type Product struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Price    *float64 `yaml:"price"`
}

// Tenant is the catalog entry of one shop.
type Tenant struct {
	Name     string             `yaml:"name"`
	Currency string             `yaml:"currency"`
	Products []Product          `yaml:"products"`
	Shipping map[string]float64 `yaml:"shipping"`
}

// Catalog holds every tenant keyed by tenant id.
type Catalog struct {
	Currency string            `yaml:"currency"`
	Tenants  map[string]Tenant `yaml:"tenants"`
}

// Empty returns a catalog with no tenants.
func Empty(currency string) *Catalog {
	return &Catalog{Currency: currency, Tenants: map[string]Tenant{}}
}

// Load reads a YAML catalog file. An empty path yields an empty catalog.
func Load(path, currency string) (*Catalog, error) {
	if path == "" {
		return Empty(currency), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data, currency)
}

// Parse decodes a YAML catalog. currency is used when the file sets none.
func Parse(data []byte, currency string) (*Catalog, error) {
	c := Empty(currency)
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if c.Currency == "" {
		c.Currency = currency
	}
	if c.Tenants == nil {
		c.Tenants = map[string]Tenant{}
	}
	return c, nil
}

// Tenant returns the entry for tenantID. Unknown tenants get an entry named
// after the id with no products.
func (c *Catalog) Tenant(tenantID string) Tenant {
	t, ok := c.Tenants[tenantID]
	if !ok {
		t = Tenant{Name: tenantID}
	}
	if t.Name == "" {
		t.Name = tenantID
	}
	if t.Currency == "" {
		t.Currency = c.Currency
	}
	return t
}

// FindProduct returns the first product whose name or keyword appears in text.
func (t Tenant) FindProduct(text string) *Product {
	folded := Fold(text)
	if folded == "" {
		return nil
	}
	for i := range t.Products {
		p := &t.Products[i]
		for _, kw := range append([]string{p.Name}, p.Keywords...) {
			if k := Fold(kw); k != "" && strings.Contains(folded, k) {
				return p
			}
		}
	}
	return nil
}

// ShippingCost returns the shipping cost to city, or nil when unknown.
func (t Tenant) ShippingCost(city string) *float64 {
	key := Fold(city)
	if key == "" {
		return nil
	}
	for name, cost := range t.Shipping {
		if Fold(name) == key {
			cost := cost
			return &cost
		}
	}
	return nil
}

var foldReplacer = strings.NewReplacer(
	"أ", "ا", "إ", "ا", "آ", "ا",
	"ة", "ه", "ى", "ي",
	"ً", "", "ٌ", "", "ٍ", "", "َ", "",
	"ُ", "", "ِ", "", "ّ", "", "ْ", "",
	"ـ", "",
)

// Fold lowercases text and collapses Arabic letter variants and diacritics so
// that spelling differences compare equal.
func Fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(foldReplacer.Replace(s)), " ")
}
