package cache

import (
	"fmt"
	"strings"
)

const (
	entryPrefix    = "ocrflow:cache:entry:"
	fillLockPrefix = "ocrflow:cache:fill:"
)

var entryPattern = entryPrefix + "*"

func EntryKey(fingerprint string) string {
	return entryPrefix + fingerprint
}

// FillLockKey is kept outside entryPattern so scans never see locks.
func FillLockKey(fingerprint string) string {
	return fillLockPrefix + fingerprint
}

func fingerprintFromKey(key string) string {
	return strings.TrimPrefix(key, entryPrefix)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ocrflow:ratelimit:%s", client)
}
