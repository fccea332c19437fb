package browser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/upstream"
)

// rawCard mirrors the shape emitted by supplierCardExtractionScript.
type rawCard struct {
	Name          string `json:"name"`
	Specification string `json:"specification"`
	Manufacturer  string `json:"manufacturer"`
	Price         string `json:"price"`
	SupplierID    string `json:"supplier_id"`
	SupplierName  string `json:"supplier_name"`
}

// parseSupplierCards turns the raw JSON array produced in-page into Offer
// values, skipping cards missing a name or a price (they carry no usable
// signal) rather than failing the whole harvest.
func parseSupplierCards(raw, keyword string) ([]upstream.Offer, error) {
	var cards []rawCard
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, fmt.Errorf("parse supplier cards for keyword %q: %w", keyword, err)
	}

	offers := make([]upstream.Offer, 0, len(cards))
	for _, c := range cards {
		name := strings.TrimSpace(c.Name)
		price := strings.TrimSpace(c.Price)
		if name == "" || price == "" {
			continue
		}
		offers = append(offers, upstream.Offer{
			Name:          name,
			Specification: strings.TrimSpace(c.Specification),
			Manufacturer:  strings.TrimSpace(c.Manufacturer),
			Price:         price,
			SupplierID:    strings.TrimSpace(c.SupplierID),
			SupplierName:  strings.TrimSpace(c.SupplierName),
		})
	}
	return offers, nil
}
