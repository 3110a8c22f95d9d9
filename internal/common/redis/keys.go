package redis

const (
	metadataKeyPrefix = "meta:"
)

// MetadataKey returns the Redis hash key holding artifact metadata for a cache key
func MetadataKey(cacheKey string) string {
	return metadataKeyPrefix + cacheKey
}

// MetadataPattern matches every metadata hash, for SCAN
func MetadataPattern() string {
	return metadataKeyPrefix + "*"
}
