package rediskey

import "fmt"

// Sequence and job keys (global convention across services)
const (
	SequencePrefix     = "seq"
	ExpiryNoticePrefix = "license:expiry"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSequenceKey returns "seq:{kind}"
func BuildSequenceKey(kind string) string {
	return NamespaceKey(SequencePrefix, kind)
}

// BuildExpiryNoticeKey returns "license:expiry:{licenseKey}", used as the asynq task id.
func BuildExpiryNoticeKey(licenseKey string) string {
	return NamespaceKey(ExpiryNoticePrefix, licenseKey)
}
