package domain

import (
	"strings"
	"time"
)

// Product aggregates sellable variants. Products without variants carry stock themselves.
type Product struct {
	ID          string
	Name        string
	SKU         string
	Price       int64
	Cost        int64
	WeightGrams int64
	Stock       int64
	Sold        int64
	Variants    []Variant
	UpdatedAt   time.Time
}

// Variant is a purchasable option combination of a product.
type Variant struct {
	ID          string
	SKU         string
	Name        string
	Options     []string
	Price       int64
	Cost        int64
	WeightGrams int64
	Stock       int64
	Sold        int64
}

// ComposedName joins the product name, the variant name and its option values, which is the
// form marketplace and legacy items reference variants by.
func (p Product) ComposedName(v Variant) string {
	parts := make([]string, 0, 2+len(v.Options))
	if name := strings.TrimSpace(p.Name); name != "" {
		parts = append(parts, name)
	}
	if name := strings.TrimSpace(v.Name); name != "" {
		parts = append(parts, name)
	}
	for _, opt := range v.Options {
		if opt = strings.TrimSpace(opt); opt != "" {
			parts = append(parts, opt)
		}
	}
	return strings.Join(parts, " ")
}

// FindVariant returns the index of the variant with the given id.
func (p Product) FindVariant(id string) int {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return i
		}
	}
	return -1
}
