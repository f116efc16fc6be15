package s3

import (
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestBucketLookup(t *testing.T) {
	if got := bucketLookup(true); got != minio.BucketLookupPath {
		t.Fatalf("path style must force path lookup, got %v", got)
	}
	if got := bucketLookup(false); got != minio.BucketLookupAuto {
		t.Fatalf("virtual-host style should auto-detect, got %v", got)
	}
}
