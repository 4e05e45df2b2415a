package filestore

// Provider identifies the object storage backend.
type Provider string

const (
	ProviderS3    Provider = "s3"
	ProviderMinIO Provider = "minio"
)

// Config holds all settings needed to reach an object storage backend.
type Config struct {
	// Provider is the storage backend (e.g. ProviderS3).
	Provider Provider

	// Endpoint overrides the provider's default endpoint.
	// S3: full URL, e.g. "http://localhost:9000". Leave empty for AWS.
	// MinIO: host:port, e.g. "s3.amazonaws.com" or "localhost:9000".
	Endpoint string

	// AccessKey is the access key ID. Empty with Anonymous false means the
	// SDK's ambient credential chain (environment, shared files, IAM).
	AccessKey string

	// SecretKey is the secret access key.
	SecretKey string

	// Anonymous sends unsigned requests. Public buckets such as
	// hcp-openaccess accept them, but ListBuckets never succeeds.
	Anonymous bool

	// UseSSL controls whether TLS is used (MinIO only; S3 takes the scheme
	// from Endpoint).
	UseSSL bool

	// Region is used by region-aware backends.
	Region string

	// PathStyle forces path-style addressing, required by most
	// S3-compatible servers behind a custom Endpoint.
	PathStyle bool
}

// DefaultConfig returns the settings for AWS S3 in us-east-1, where the
// public HCP bucket lives, with credentials from the ambient chain.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderS3,
		Region:   "us-east-1",
		UseSSL:   true,
	}
}
