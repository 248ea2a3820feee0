package paird

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/paird/internal/storage"
	azurestore "pkt.systems/paird/internal/storage/azure"
	"pkt.systems/paird/internal/storage/disk"
	"pkt.systems/paird/internal/storage/memory"
	"pkt.systems/paird/internal/storage/s3"
	"pkt.systems/paird/internal/storage/sqlite"
)

// openAdapter constructs the storage adapter named by dsn. The session
// token scopes backends that multiplex several sessions in one place
// (the sqlite document store).
func openAdapter(cfg Config, dsn, session string) (storage.Adapter, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	switch u.Scheme {
	case "memory", "mem", "":
		return memory.New(), nil
	case "disk":
		root, err := diskRoot(u)
		if err != nil {
			return nil, err
		}
		return disk.New(disk.Config{Root: root})
	case "sqlite":
		path, err := diskRoot(u)
		if err != nil {
			return nil, err
		}
		return sqlite.New(sqlite.Config{Path: path, Session: session})
	case "s3":
		s3cfg, err := buildGenericS3Config(cfg, u)
		if err != nil {
			return nil, err
		}
		return s3.New(s3cfg)
	case "aws":
		awscfg, err := buildAWSConfig(cfg, u)
		if err != nil {
			return nil, err
		}
		return s3.New(awscfg)
	case "azure":
		azureCfg, err := buildAzureConfig(cfg, u)
		if err != nil {
			return nil, err
		}
		return azurestore.New(azureCfg)
	default:
		return nil, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
}

// diskRoot extracts a filesystem path from disk:// and sqlite:// URLs.
func diskRoot(u *url.URL) (string, error) {
	pathPart := strings.TrimSpace(u.Path)
	host := strings.TrimSpace(u.Host)
	if host != "" {
		if pathPart == "" || pathPart == "/" {
			pathPart = "/" + host
		} else {
			pathPart = "/" + host + "/" + strings.TrimPrefix(pathPart, "/")
		}
	}
	if u.Opaque != "" {
		pathPart = u.Opaque
	}
	if pathPart == "" || pathPart == "/" {
		return "", fmt.Errorf("%s store path required (e.g. %s:///var/lib/paird-data)", u.Scheme, u.Scheme)
	}
	return filepath.Clean(pathPart), nil
}

// buildGenericS3Config parses s3:// URLs that target generic
// S3-compatible services (MinIO, etc.).
func buildGenericS3Config(cfg Config, u *url.URL) (s3.Config, error) {
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing host (expected s3://host[:port]/bucket[/prefix])")
	}
	bucket, prefix, err := bucketAndPrefix(u, "s3://host[:port]/bucket[/prefix]")
	if err != nil {
		return s3.Config{}, err
	}
	query := u.Query()
	secure := true
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil && ok {
			secure = false
		}
	}
	if v := query.Get("scheme"); strings.EqualFold(v, "http") {
		secure = false
	}
	forcePath := false
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			forcePath = ok
		}
	}
	creds, err := resolveGenericS3Credentials(cfg)
	if err != nil {
		return s3.Config{}, err
	}
	return s3.Config{
		Endpoint:       endpoint,
		Region:         query.Get("region"),
		Bucket:         bucket,
		Prefix:         prefix,
		Insecure:       !secure,
		ForcePathStyle: forcePath,
		CustomCreds:    creds,
	}, nil
}

// buildAWSConfig parses aws:// URLs that target AWS S3 with regional
// configuration; credentials come from the ambient AWS chain.
func buildAWSConfig(cfg Config, u *url.URL) (s3.Config, error) {
	bucket := strings.TrimSpace(u.Host)
	if bucket == "" {
		return s3.Config{}, fmt.Errorf("aws store missing bucket (expected aws://bucket[/prefix])")
	}
	prefix := strings.Trim(strings.TrimPrefix(u.Path, "/"), "/")
	region := strings.TrimSpace(cfg.AWSRegion)
	query := u.Query()
	if v := strings.TrimSpace(query.Get("region")); v != "" {
		region = v
	}
	if region == "" {
		return s3.Config{}, fmt.Errorf("aws store requires region (set --aws-region or PAIRD_AWS_REGION)")
	}
	endpoint := query.Get("endpoint")
	if endpoint == "" {
		endpoint = fmt.Sprintf("s3.%s.amazonaws.com", region)
	}
	return s3.Config{
		Endpoint: endpoint,
		Region:   region,
		Bucket:   bucket,
		Prefix:   prefix,
	}, nil
}

func bucketAndPrefix(u *url.URL, format string) (string, string, error) {
	path := strings.Trim(strings.TrimPrefix(u.Path, "/"), "/")
	if path == "" {
		return "", "", fmt.Errorf("%s store missing bucket (expected %s)", u.Scheme, format)
	}
	parts := strings.SplitN(path, "/", 2)
	bucket := strings.TrimSpace(parts[0])
	if bucket == "" {
		return "", "", fmt.Errorf("%s store missing bucket name", u.Scheme)
	}
	prefix := ""
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

func resolveGenericS3Credentials(cfg Config) (*minioCredentials.Credentials, error) {
	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := cfg.S3SecretAccessKey
	sessionToken := cfg.S3SessionToken
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		accessKey = strings.TrimSpace(os.Getenv("PAIRD_S3_ACCESS_KEY_ID"))
		secretKey = os.Getenv("PAIRD_S3_SECRET_ACCESS_KEY")
		sessionToken = os.Getenv("PAIRD_S3_SESSION_TOKEN")
	}
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		// Fall back to the ambient AWS/MinIO credential chain.
		return nil, nil
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("s3 credentials incomplete (need access key and secret key)")
	}
	return minioCredentials.NewStaticV4(accessKey, secretKey, sessionToken), nil
}

// buildAzureConfig derives the Azure backend configuration.
func buildAzureConfig(cfg Config, u *url.URL) (azurestore.Config, error) {
	account := strings.TrimSpace(u.Host)
	if cfg.AzureAccount != "" {
		account = cfg.AzureAccount
	}
	if account == "" {
		account = firstEnv("AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_ACCOUNT_NAME", "AZURE_ACCOUNT_NAME")
	}
	container, prefix, err := bucketAndPrefix(u, "azure://account/container[/prefix]")
	if err != nil {
		return azurestore.Config{}, err
	}
	query := u.Query()
	endpoint := strings.TrimSpace(cfg.AzureEndpoint)
	if v := strings.TrimSpace(query.Get("endpoint")); v != "" {
		endpoint = v
	}
	accountKey := strings.TrimSpace(cfg.AzureAccountKey)
	if accountKey == "" {
		accountKey = firstEnv("PAIRD_AZURE_ACCOUNT_KEY", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_ACCOUNT_KEY", "AZURE_STORAGE_KEY")
	}
	sas := strings.TrimSpace(cfg.AzureSASToken)
	if v := strings.TrimSpace(query.Get("sas")); v != "" {
		sas = v
	}
	if sas == "" {
		sas = firstEnv("PAIRD_AZURE_SAS_TOKEN", "AZURE_STORAGE_SAS_TOKEN", "AZURE_SAS_TOKEN")
	}
	if account == "" {
		return azurestore.Config{}, fmt.Errorf("azure: account name required (set azure://account/... or AZURE_STORAGE_ACCOUNT)")
	}
	return azurestore.Config{
		Account:    account,
		AccountKey: accountKey,
		Endpoint:   endpoint,
		SASToken:   sas,
		Container:  container,
		Prefix:     prefix,
	}, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if name == "" {
			continue
		}
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return ""
}
