package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSV structures tabular data into a textual description: the first row is
// treated as a header and each following row becomes one "header: value"
// line, which embeds far better than raw comma-separated text.
type CSV struct{}

func (CSV) Extract(_ context.Context, data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // tolerate ragged rows

	header, err := reader.Read()
	if err == io.EOF {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read CSV header: %w", err)
	}

	var b strings.Builder
	b.WriteString("Table with columns: ")
	b.WriteString(strings.Join(header, ", "))
	b.WriteString(".\n")

	rowNum := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read CSV row %d: %w", rowNum+1, err)
		}
		rowNum++

		b.WriteString(fmt.Sprintf("Row %d: ", rowNum))
		parts := make([]string, 0, len(row))
		for i, val := range row {
			col := fmt.Sprintf("column %d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				col = header[i]
			}
			parts = append(parts, col+" is "+val)
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(".\n")
	}

	return b.String(), nil
}
