// Package objectstore is the remote object store behind artifact sync.
//
// FileStore treats a local directory as a bucket and returns file:// URLs,
// which suits single-host deployments and tests. S3Store talks to any
// S3-compatible service through minio-go and returns s3:// URLs, or public
// URLs when a base is configured.
package objectstore
