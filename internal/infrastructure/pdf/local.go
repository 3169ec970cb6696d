package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"EduPipeline/internal/ports"
)

// LocalConverter extracts PDF text in-process when no Tika server is configured.
type LocalConverter struct{}

var _ ports.PDFConverter = LocalConverter{}

// ConvertPDF splits the extracted text on form feeds, one entry per page.
func (LocalConverter) ConvertPDF(_ context.Context, data []byte) ([]string, error) {
	text, _, err := docconv.ConvertPDF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("docconv pdf: %w", err)
	}
	pages := strings.Split(text, "\f")
	out := pages[:0]
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
