// Package ids computes the deterministic content-addressed identifiers
// used for documents, chunks, and blobs. Identical inputs from identical
// sources yield identical IDs across runs and machines.
package ids

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

// Algo selects the content hash. The default is a 128-bit BLAKE2b
// digest; xxh64 is a faster 64-bit alternative.
type Algo string

const (
	AlgoBlake2b Algo = "blake2b"
	AlgoXXH64   Algo = "xxh64"
)

// DefaultAlgo reads FMF_HASH_ALGO, falling back to blake2b for unknown
// values so IDs never silently change shape on a typo.
func DefaultAlgo() Algo {
	switch strings.ToLower(os.Getenv("FMF_HASH_ALGO")) {
	case string(AlgoXXH64):
		return AlgoXXH64
	default:
		return AlgoBlake2b
	}
}

// NormalizeText canonicalises textual content for hashing:
// strips a UTF-8 BOM, normalises Unicode to NFC, and converts
// Windows/Mac newlines to \n. Returns UTF-8 bytes.
func NormalizeText(text string) []byte {
	text = strings.TrimPrefix(text, "\ufeff")
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return []byte(text)
}

// HashBytes hashes namespace then payload. The namespace keeps equal
// payloads from colliding across entity kinds.
func HashBytes(namespace string, payload []byte, algo Algo) string {
	if algo == AlgoXXH64 {
		h := xxhash.New()
		if namespace != "" {
			_, _ = h.WriteString(namespace)
		}
		_, _ = h.Write(payload)
		return fmt.Sprintf("%016x", h.Sum64())
	}
	h, _ := blake2b.New(16, nil)
	if namespace != "" {
		_, _ = h.Write([]byte(namespace))
	}
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentIDInput carries the namespace components of a document ID.
type DocumentIDInput struct {
	SourceURI     string
	Payload       []byte
	ModifiedAt    *time.Time
	ContentType   string
	ContentLength int
	HasLength     bool
}

// DocumentID derives "doc_<digest>" from the source URI, the normalised
// modification time, content type, length, and the payload bytes.
func DocumentID(in DocumentIDInput) string {
	namespace := in.SourceURI
	if in.ModifiedAt != nil {
		namespace += "|" + in.ModifiedAt.UTC().Format(time.RFC3339)
	}
	if in.ContentType != "" {
		namespace += "|mime=" + in.ContentType
	}
	if in.HasLength {
		namespace += fmt.Sprintf("|len=%d", in.ContentLength)
	}
	return "doc_" + HashBytes(namespace, in.Payload, DefaultAlgo())
}

// ChunkID derives "{docID}_ch_<digest[:12]>". Stable under re-chunking
// with the same splitter settings.
func ChunkID(docID string, index int, payload string) string {
	namespace := fmt.Sprintf("%s|%d|len=%d", docID, index, len(payload))
	digest := HashBytes(namespace, []byte(payload), DefaultAlgo())
	return docID + "_ch_" + truncate(digest, 12)
}

// BlobID derives "blob_<digest[:12]>" scoped to the owning document and
// media type.
func BlobID(docID, mediaType string, payload []byte) string {
	namespace := fmt.Sprintf("%s|%s|len=%d", docID, mediaType, len(payload))
	digest := HashBytes(namespace, payload, DefaultAlgo())
	return "blob_" + truncate(digest, 12)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// UTCNow formats the current instant as RFC3339 UTC with a Z suffix,
// the timestamp shape recorded in provenance and manifests.
func UTCNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
