// Package assetconnector implements connector.AssetConnector against S3
// using a configured bucket/prefix.
package assetconnector

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/caseyos/internal/connector"
)

// S3 is a connector.AssetConnector backed by a single S3 bucket/prefix.
// Only keys whose asset kind is on the caller's allowlist are returned (an
// empty allowlist admits every kind); the connector itself enforces the
// allowlist, not the caller.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3-backed AssetConnector scoped to bucket/prefix.
func New(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Search lists objects under the connector's prefix whose key contains
// query (case-insensitive; object tags are not consulted), restricted to the caller-supplied allowlist of asset
// kinds (e.g. "case_study", "one_pager", "deck").
func (s *S3) Search(ctx context.Context, query string, allowlist []string) ([]connector.AssetRef, error) {
	allowed := make(map[string]bool, len(allowlist))
	for _, a := range allowlist {
		allowed[strings.ToLower(a)] = true
	}

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	if err != nil {
		return nil, &connector.ConnectorError{Kind: connector.KindTransient, Provider: "s3_assets", Op: "search", Err: err}
	}

	var refs []connector.AssetRef
	needle := strings.ToLower(query)
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		kind := assetKind(key)
		if len(allowed) > 0 && !allowed[kind] {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(key), needle) {
			continue
		}
		refs = append(refs, connector.AssetRef{
			ID:   key,
			Name: baseName(key),
			URL:  fmt.Sprintf("s3://%s/%s", s.bucket, key),
			Kind: kind,
		})
	}
	return refs, nil
}

// assetKind derives a coarse kind from the key's immediate parent
// directory, e.g. "assets/case_study/acme.pdf" -> "case_study".
func assetKind(key string) string {
	trimmed := strings.TrimPrefix(key, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "unknown"
	}
	return strings.ToLower(parts[len(parts)-2])
}

func baseName(key string) string {
	parts := strings.Split(key, "/")
	return parts[len(parts)-1]
}
