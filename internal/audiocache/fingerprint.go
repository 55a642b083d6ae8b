package audiocache

import (
	"crypto/md5"
	_ "crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Fingerprint derives the cache key for a source URL: the hex SHA-256 of the
// URL bytes. Two URLs that resolve to the same video are distinct keys.
func Fingerprint(url string) string {
	return digest.SHA256.FromString(url).Encoded()
}

func isFingerprint(value string) bool {
	return digest.NewDigestFromEncoded(digest.SHA256, value).Validate() == nil
}

// isLegacyFingerprint matches the lowercase hex md5 keys written by earlier
// versions of the bot.
func isLegacyFingerprint(value string) bool {
	if len(value) != md5.Size*2 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil && strings.ToLower(value) == value
}
