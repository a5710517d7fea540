// Package s3test provides an in-memory stand-in for the S3 API used in tests
package s3test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var errNoSuchUpload = errors.New("no such upload")

type upload struct {
	key         string
	contentType string
	parts       map[int32][]byte
}

type Object struct {
	Data        []byte
	ContentType string
}

// Fake keeps objects in a map. PageSize bounds every listing page so that
// pagination is exercised with a handful of keys.
type Fake struct {
	mu         sync.Mutex
	objects    map[string]Object
	uploads    map[string]*upload
	nextUpload int

	PageSize int
	// FailPut makes PutObject and UploadPart fail for the keys it returns an error for
	FailPut func(key string) error

	ListCalls        int
	DeleteBatchCalls int
	MultipartUploads int
}

func New() *Fake {
	return &Fake{
		objects:  map[string]Object{},
		uploads:  map[string]*upload{},
		PageSize: 1000,
	}
}

// Seed stores objects directly
func (f *Fake) Seed(keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, k := range keys {
		f.objects[k] = Object{Data: []byte(k)}
	}
}

func (f *Fake) Get(key string) (Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.objects[key]
	return o, ok
}

// Keys returns the sorted keys under prefix
func (f *Fake) Keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.keys(prefix)
}

func (f *Fake) keys(prefix string) []string {
	out := []string{}
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}

	sort.Strings(out)
	return out
}

func (f *Fake) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)

	if f.FailPut != nil {
		if err := f.FailPut(key); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.objects[key] = Object{Data: data, ContentType: aws.ToString(in.ContentType)}
	f.mu.Unlock()

	return &s3.PutObjectOutput{}, nil
}

func (f *Fake) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListCalls++

	size := f.PageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < size {
		size = int(*in.MaxKeys)
	}

	after := aws.ToString(in.ContinuationToken)

	page := []types.Object{}
	truncated := false
	for _, k := range f.keys(aws.ToString(in.Prefix)) {
		if after != "" && k <= after {
			continue
		}
		if len(page) == size {
			truncated = true
			break
		}

		page = append(page, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k].Data))),
		})
	}

	out := &s3.ListObjectsV2Output{
		Contents:    page,
		KeyCount:    aws.Int32(int32(len(page))),
		IsTruncated: aws.Bool(truncated),
	}
	if truncated {
		out.NextContinuationToken = page[len(page)-1].Key
	}

	return out, nil
}

func (f *Fake) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.DeleteBatchCalls++

	out := &s3.DeleteObjectsOutput{}
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
		out.Deleted = append(out.Deleted, types.DeletedObject{Key: o.Key})
	}

	return out, nil
}

func (f *Fake) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *Fake) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *Fake) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextUpload++
	id := strconv.Itoa(f.nextUpload)
	f.uploads[id] = &upload{
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		parts:       map[int32][]byte{},
	}

	return &s3.CreateMultipartUploadOutput{Key: in.Key, UploadId: aws.String(id)}, nil
}

func (f *Fake) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	key := aws.ToString(in.Key)

	if f.FailPut != nil {
		if err := f.FailPut(key); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok || u.key != key {
		return nil, errNoSuchUpload
	}

	n := aws.ToInt32(in.PartNumber)
	u.parts[n] = data

	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("\"%d\"", n))}, nil
}

// CompleteMultipartUpload joins the listed parts in order into one object
func (f *Fake) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(in.UploadId)
	u, ok := f.uploads[id]
	if !ok || in.MultipartUpload == nil {
		return nil, errNoSuchUpload
	}

	var data []byte
	for _, p := range in.MultipartUpload.Parts {
		part, ok := u.parts[aws.ToInt32(p.PartNumber)]
		if !ok {
			return nil, fmt.Errorf("part %d was never uploaded", aws.ToInt32(p.PartNumber))
		}
		data = append(data, part...)
	}

	delete(f.uploads, id)
	f.objects[u.key] = Object{Data: data, ContentType: u.contentType}
	f.MultipartUploads++

	return &s3.CompleteMultipartUploadOutput{Key: aws.String(u.key)}, nil
}

func (f *Fake) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

// PendingUploads counts multipart uploads that were neither completed nor aborted
func (f *Fake) PendingUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.uploads)
}
