// Package cloudflare provides a client for Cloudflare R2, which speaks the S3 API.
package cloudflare

import (
	"context"
	"errors"
	"fmt"

	"bitwise74/course-video-api/aws"
)

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicBaseURL   string // r2.dev or custom domain, R2 buckets aren't served from the API host

	UploadConcurrency int
}

// Endpoint returns the S3 API endpoint of an account
func Endpoint(accountID string) string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
}

// NewR2 creates artifact storage backed by an R2 bucket
func NewR2(ctx context.Context, c R2Config) (*aws.Storage, error) {
	if c.AccountID == "" {
		return nil, errors.New("account id can't be empty")
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return nil, errors.New("r2 credentials can't be empty")
	}
	if c.PublicBaseURL == "" {
		return nil, errors.New("public base url can't be empty")
	}

	return aws.NewS3(ctx, aws.Config{
		Bucket:          c.Bucket,
		Region:          "auto",
		Endpoint:        Endpoint(c.AccountID),
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		UsePathStyle:    true,
		PublicBaseURL:   c.PublicBaseURL,

		UploadConcurrency: c.UploadConcurrency,
	})
}
