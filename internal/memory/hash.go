package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NormalizeContent canonicalizes content before hashing: CRLF to LF,
// trailing whitespace stripped per line, outer whitespace trimmed.
// Storage keeps the original content; only the hash uses the normal form.
func NormalizeContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// HashContent returns the hex SHA-256 of the normalized content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// RecordID derives the stable record identifier from scope and content
// hash. The ID is a v5-style UUID over the scope+hash pair so that
// re-ingesting identical content in the same scope is idempotent and the
// ID remains a valid point ID for the vector store.
func RecordID(scopeID, contentHash string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(scopeID+"/"+contentHash)).String()
}
