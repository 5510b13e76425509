package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// ReadFile loads a JSON array of products. Elements that are not objects are
// logged and skipped; the count of skipped elements is returned.
func ReadFile(path string) ([]Product, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses a JSON array of products, see ReadFile.
func Decode(data []byte) ([]Product, int, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, 0, fmt.Errorf("products file must contain a JSON array: %w", err)
	}

	products := make([]Product, 0, len(raws))
	skipped := 0
	for i, raw := range raws {
		var p Product
		if err := json.Unmarshal(raw, &p); err != nil {
			log.WithError(err).Warnf("Skipping unreadable product [index=%d]", i)
			skipped++
			continue
		}
		products = append(products, p)
	}
	return products, skipped, nil
}

// WriteFile writes products as an indented JSON array, creating the parent
// directory if needed.
func WriteFile(path string, products []Product) error {
	if products == nil {
		products = []Product{}
	}
	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding products: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
