package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractWithCat handles OpenDocument text and RTF, which cat detects by content.
func extractWithCat(content []byte) ([]string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	return []string{text}, nil
}
