package models

import (
	"errors"
	"fmt"
)

var ErrUnknownProduct = errors.New("unknown product")

// Product is one of the advisory product lines a lead can be interested in
// and a client can hold.
type Product string

const (
	ProductMutualFund      Product = "mutualFund"
	ProductSIP             Product = "sip"
	ProductLumpsum         Product = "lumpsum"
	ProductHealthInsurance Product = "healthInsurance"
	ProductLifeInsurance   Product = "lifeInsurance"
	ProductTaxation        Product = "taxation"
	ProductNPS             Product = "nps"
)

// AllProducts lists products in canonical order.
var AllProducts = []Product{
	ProductMutualFund,
	ProductSIP,
	ProductLumpsum,
	ProductHealthInsurance,
	ProductLifeInsurance,
	ProductTaxation,
	ProductNPS,
}

func ParseProduct(s string) (Product, error) {
	p := Product(s)
	for _, known := range AllProducts {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProduct, s)
}

// ParseProducts validates and de-duplicates a product list, keeping the
// first occurrence order.
func ParseProducts(in []string) ([]Product, error) {
	out := make([]Product, 0, len(in))
	seen := make(map[Product]bool, len(in))
	for _, s := range in {
		p, err := ParseProduct(s)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// ProductHoldings records which products a client holds. Stored as embedded
// columns so every product has its own flag.
type ProductHoldings struct {
	MutualFund      bool `json:"mutualFund" gorm:"column:mutual_fund;default:false"`
	SIP             bool `json:"sip" gorm:"column:sip;default:false"`
	Lumpsum         bool `json:"lumpsum" gorm:"column:lumpsum;default:false"`
	HealthInsurance bool `json:"healthInsurance" gorm:"column:health_insurance;default:false"`
	LifeInsurance   bool `json:"lifeInsurance" gorm:"column:life_insurance;default:false"`
	Taxation        bool `json:"taxation" gorm:"column:taxation;default:false"`
	NPS             bool `json:"nps" gorm:"column:nps;default:false"`
}

func (h *ProductHoldings) flag(p Product) (*bool, error) {
	switch p {
	case ProductMutualFund:
		return &h.MutualFund, nil
	case ProductSIP:
		return &h.SIP, nil
	case ProductLumpsum:
		return &h.Lumpsum, nil
	case ProductHealthInsurance:
		return &h.HealthInsurance, nil
	case ProductLifeInsurance:
		return &h.LifeInsurance, nil
	case ProductTaxation:
		return &h.Taxation, nil
	case ProductNPS:
		return &h.NPS, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, p)
}

func (h ProductHoldings) Has(p Product) bool {
	f, err := h.flag(p)
	if err != nil {
		return false
	}
	return *f
}

func (h *ProductHoldings) Set(p Product, held bool) error {
	f, err := h.flag(p)
	if err != nil {
		return err
	}
	*f = held
	return nil
}

// Products returns the held products in canonical order.
func (h ProductHoldings) Products() []Product {
	var out []Product
	for _, p := range AllProducts {
		if h.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// HoldingsFromInterest marks every product of interest as held and leaves the
// rest false.
func HoldingsFromInterest(interest []Product) ProductHoldings {
	var h ProductHoldings
	for _, p := range interest {
		_ = h.Set(p, true) // unknown products are dropped
	}
	return h
}

// ApplyHoldings applies a product-key → flag map, rejecting unknown keys.
func (h *ProductHoldings) ApplyHoldings(m map[string]bool) error {
	for k, v := range m {
		p, err := ParseProduct(k)
		if err != nil {
			return err
		}
		if err := h.Set(p, v); err != nil {
			return err
		}
	}
	return nil
}
