package app

import (
	"strings"

	"github.com/charlesng35/opsdash/internal/database"
	"github.com/charlesng35/opsdash/internal/ingest"
)

// Config record backends accepted by storage.backend.
const (
	StorageFile      = "file"
	StorageDatabase  = "database"
	StorageDatastore = "datastore"
)

// DatabaseConnConfig converts the database section into database.Config.
func (c DatabaseConfig) DatabaseConnConfig() database.Config {
	return database.Config{
		Driver:   strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:     c.Path,
		DSN:      c.DSN,
		Host:     c.Host,
		Port:     c.Port,
		Name:     c.Name,
		User:     c.User,
		Password: c.Password,
		Options:  c.Options,
	}
}

// Enabled reports whether a bucket is configured; otherwise images stay on local disk.
func (c ObjectStorageConfig) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// S3Config converts the object storage section into ingest.S3Config.
func (c ObjectStorageConfig) S3Config() ingest.S3Config {
	return ingest.S3Config{
		Bucket:       strings.TrimSpace(c.Bucket),
		Region:       c.Region,
		Endpoint:     strings.TrimRight(c.Endpoint, "/"),
		AccessKey:    c.AccessKey,
		SecretKey:    c.SecretKey,
		Folder:       strings.Trim(c.Folder, "/"),
		PublicURL:    strings.TrimRight(c.PublicURL, "/"),
		UsePathStyle: c.UsePathStyle,
	}
}
