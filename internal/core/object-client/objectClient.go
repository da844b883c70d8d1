package objectclient

import (
	"fmt"
	"path"
	"strings"
)

// Locator builds the canonical storage keys and public URLs for document
// artifacts. Keys are deterministic, so anything that knows a document ID
// and page number can reconstruct the URL without a lookup.
type Locator struct {
	bucket     string
	region     string
	publicBase string
}

func NewLocator(bucket, region, publicBase string) *Locator {
	return &Locator{
		bucket:     bucket,
		region:     region,
		publicBase: strings.TrimRight(strings.TrimSpace(publicBase), "/"),
	}
}

// DocumentKey is where the raw uploaded file lives.
func (l *Locator) DocumentKey(documentID, fileName string) string {
	return fmt.Sprintf("documents/%s/%s", documentID, path.Base(fileName))
}

// PageImageKey is where the rendered raster of one source page lives.
func (l *Locator) PageImageKey(documentID string, page int) string {
	return fmt.Sprintf("documents/%s/pages/page-%d.png", documentID, page)
}

// PublicURL resolves a key against the asset base when one is configured,
// falling back to the bucket's virtual-hosted S3 URL.
func (l *Locator) PublicURL(key string) string {
	if l.publicBase != "" {
		return l.publicBase + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", l.bucket, l.region, key)
}

func (l *Locator) PageImageURL(documentID string, page int) string {
	return l.PublicURL(l.PageImageKey(documentID, page))
}

func (l *Locator) Bucket() string { return l.bucket }
