package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const cacheControl = "public, max-age=31536000, immutable"

// PutBytes uploads an in-memory buffer to key
func (s *Storage) PutBytes(ctx context.Context, key string, data []byte) error {
	_, err := s.C.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        s.Bucket,
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentTypeFor(key, data)),
		CacheControl:  aws.String(cacheControl),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s, %w", key, err)
	}

	return nil
}

// PutFile uploads a local file to key. Big files go through the multipart uploader.
func (s *Storage) PutFile(ctx context.Context, key, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open %s, %w", p, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s, %w", p, err)
	}

	input := &s3.PutObjectInput{
		Bucket:        s.Bucket,
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(ContentType(key)),
		CacheControl:  aws.String(cacheControl),
	}

	if st.Size() > s.cfg.MultipartThreshold {
		u := manager.NewUploader(s.C, func(u *manager.Uploader) {
			u.Concurrency = 5
			u.PartSize = 6 << 20
		})

		_, err = u.Upload(ctx, input)
	} else {
		_, err = s.C.PutObject(ctx, input)
	}
	if err != nil {
		return fmt.Errorf("failed to upload %s, %w", key, err)
	}

	return nil
}

// PutDir uploads every file under dir, keeping relative paths below prefix.
// Uploads run in parallel and the call returns once all of them settled.
// A single failed file fails the whole call.
func (s *Storage) PutDir(ctx context.Context, dir, prefix string) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)

	var uploaded atomic.Int64

	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		key := path.Join(prefix, filepath.ToSlash(rel))

		g.Go(func() error {
			if err := s.PutFile(gctx, key, p); err != nil {
				return err
			}

			uploaded.Add(1)
			return nil
		})

		return nil
	})

	err := g.Wait()
	if walkErr != nil {
		return int(uploaded.Load()), fmt.Errorf("failed to walk %s, %w", dir, walkErr)
	}
	if err != nil {
		return int(uploaded.Load()), err
	}

	zap.L().Debug("Uploaded directory", zap.String("dir", dir), zap.String("prefix", prefix), zap.Int64("files", uploaded.Load()))
	return int(uploaded.Load()), nil
}

// URL returns the public delivery URL of key
func (s *Storage) URL(key string) string {
	key = strings.TrimLeft(key, "/")

	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	}

	if s.cfg.Endpoint != "" {
		u, err := url.Parse(strings.TrimRight(s.cfg.Endpoint, "/"))
		if err == nil && u.Host != "" {
			if s.cfg.UsePathStyle {
				u.Path = path.Join(u.Path, s.cfg.Bucket, key)
			} else {
				u.Host = s.cfg.Bucket + "." + u.Host
				u.Path = path.Join(u.Path, key)
			}

			return u.String()
		}
	}

	if s.cfg.UsePathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.cfg.Region, s.cfg.Bucket, key)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

// Delete removes a single object
func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.C.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.Bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s, %w", key, err)
	}

	return nil
}

// DeletePrefix removes every object whose key starts with prefix. The listing
// is paged and each page is removed with one batch request (S3 returns at most
// 1000 keys per page, which is also the batch delete limit).
// Deleting an empty prefix succeeds with 0.
func (s *Storage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if strings.Trim(prefix, "/") == "" {
		return 0, errors.New("refusing to delete the bucket root")
	}

	p := s3.NewListObjectsV2Paginator(s.C, &s3.ListObjectsV2Input{
		Bucket: s.Bucket,
		Prefix: aws.String(prefix),
	})

	deleted := 0

	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list %s, %w", prefix, err)
		}

		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, len(page.Contents))
		for i, o := range page.Contents {
			objects[i] = types.ObjectIdentifier{Key: o.Key}
		}

		out, err := s.C.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: s.Bucket,
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete objects under %s, %w", prefix, err)
		}

		deleted += len(objects) - len(out.Errors)

		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return deleted, fmt.Errorf("failed to delete %d objects under %s, first: %s (%s)",
				len(out.Errors), prefix, aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}

	zap.L().Debug("Deleted prefix", zap.String("prefix", prefix), zap.Int("objects", deleted))
	return deleted, nil
}

// List returns every key under prefix
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.C, &s3.ListObjectsV2Input{
		Bucket: s.Bucket,
		Prefix: aws.String(prefix),
	})

	keys := []string{}

	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s, %w", prefix, err)
		}

		for _, o := range page.Contents {
			keys = append(keys, aws.ToString(o.Key))
		}
	}

	return keys, nil
}
