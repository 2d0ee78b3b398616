package memstore

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ariefcatur/go-sales-orders/internal/orders"
)

//go:embed demo_seed.json
var demoSeed []byte

// SeedData is the catalog a memory store starts with.
type SeedData struct {
	Clients  []orders.Client  `json:"clients"`
	Products []orders.Product `json:"products"`
}

// Seed loads clients and products from JSON.
func (s *Store) Seed(r io.Reader) error {
	var d SeedData
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for _, p := range d.Products {
		if p.ID == "" || p.Stock < 0 || p.Price.IsNegative() {
			return fmt.Errorf("seed product %q: id required, stock and price must not be negative", p.ID)
		}
	}
	for _, c := range d.Clients {
		if c.ID == "" {
			return fmt.Errorf("seed client %q: id required", c.Name)
		}
		s.AddClient(c)
	}
	for _, p := range d.Products {
		s.AddProduct(p)
	}
	return nil
}

// SeedFile loads path, or the bundled demo catalog when path is empty.
func (s *Store) SeedFile(path string) error {
	if path == "" {
		return s.Seed(bytes.NewReader(demoSeed))
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Seed(f)
}
