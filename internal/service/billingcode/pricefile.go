package billingcode

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// PriceRangeRow is one row of a price-range parquet file.
type PriceRangeRow struct {
	Code     string  `parquet:"code"`
	MinPrice float64 `parquet:"min_price"`
	MaxPrice float64 `parquet:"max_price"`
}

const priceReadBatch = 1024

// LoadPriceRanges reads typical price ranges from a parquet file. A code that
// appears more than once keeps its last row.
func LoadPriceRanges(path string) (map[string]PriceRange, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[PriceRangeRow](f)
	defer reader.Close()

	out := make(map[string]PriceRange, reader.NumRows())
	buf := make([]PriceRangeRow, priceReadBatch)
	for {
		n, readErr := reader.Read(buf)
		for _, row := range buf[:n] {
			out[normalizeCode(row.Code)] = PriceRange{Min: row.MinPrice, Max: row.MaxPrice}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet: %w", readErr)
		}
	}
	return out, nil
}

// WritePriceRanges exports the reference's ranges to a parquet file.
func WritePriceRanges(path string, ref *Reference) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create parquet file: %w", err)
	}
	defer f.Close()

	writer := parquet.NewGenericWriter[PriceRangeRow](f, parquet.Compression(&parquet.Snappy))

	rows := make([]PriceRangeRow, 0, len(ref.codes))
	for _, code := range ref.Codes() {
		info := ref.codes[code]
		rows = append(rows, PriceRangeRow{Code: code, MinPrice: info.PriceRange.Min, MaxPrice: info.PriceRange.Max})
	}

	if _, err := writer.Write(rows); err != nil {
		return 0, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}
	return len(rows), nil
}
