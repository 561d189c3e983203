package cache

import (
	"crypto/sha256"
	"fmt"
	"strconv"

	"ArticleGen/internal/backend"
)

// GenerateCacheKey fingerprints everything that determines a generated article:
// model, temperature and the prompt messages
func GenerateCacheKey(model string, temperature float64, messages []backend.ChatMessage) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(temperature, 'g', -1, 64)))
	for _, msg := range messages {
		h.Write([]byte{0})
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
