package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/spectrumhq/spectrum/pkg/errors"
)

// S3Store serves s3://bucket/key paths. Footer reads use ranged GETs so only
// the bytes a parquet reader actually touches leave the bucket.
type S3Store struct {
	client *s3.Client
}

// NewS3Store builds an S3 backend. Recognized credential keys:
// aws_access_key_id, aws_secret_access_key, aws_session_token, region,
// endpoint_url. Absent keys fall back to the ambient AWS credential chain.
func NewS3Store(ctx context.Context, creds map[string]string) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if region := creds["region"]; region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key := creds["aws_access_key_id"]; key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, creds["aws_secret_access_key"], creds["aws_session_token"])))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := creds["endpoint_url"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client}, nil
}

// splitPath parses s3://bucket/key into its parts.
func splitPath(path string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(path, "s3://")
	if trimmed == path {
		return "", "", errors.New(errors.ErrorTypeInvalidConfig, "not an s3 path: "+path)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	if bucket == "" {
		return "", "", errors.New(errors.ErrorTypeInvalidConfig, "missing bucket in s3 path: "+path)
	}
	return bucket, key, nil
}

// List returns every object under prefix, recursively.
func (s *S3Store) List(ctx context.Context, prefix string) ([]FileRef, error) {
	bucket, key, err := splitPath(prefix)
	if err != nil {
		return nil, err
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}

	var refs []FileRef
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list s3 objects")
		}
		for _, obj := range page.Contents {
			refs = append(refs, FileRef{
				Path: fmt.Sprintf("s3://%s/%s", bucket, aws.ToString(obj.Key)),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// ListDirs returns the common prefixes one level below prefix.
func (s *S3Store) ListDirs(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := splitPath(prefix)
	if err != nil {
		return nil, err
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}

	var dirs []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(key),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list s3 prefixes")
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), key), "/")
			if name != "" {
				dirs = append(dirs, name)
			}
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Open returns a ranged-GET reader for one object.
func (s *S3Store) Open(ctx context.Context, path string) (Reader, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeObjectNotFound, "failed to stat s3 object").WithPath(path)
	}

	return &s3Reader{
		ctx:    ctx,
		client: s.client,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

// ReadAll fetches one object fully.
func (s *S3Store) ReadAll(ctx context.Context, path string) ([]byte, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeObjectNotFound, "failed to get s3 object").WithPath(path)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// s3Reader implements Reader with HTTP range requests.
type s3Reader struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string
	size   int64
	offset int64
}

func (r *s3Reader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= r.size {
		end = r.size - 1
	}

	out, err := r.client.GetObject(r.ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, fmt.Errorf("ranged get of s3://%s/%s failed: %w", r.bucket, r.key, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:end-off+1])
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err == nil && int64(n) < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

func (r *s3Reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		r.offset = offset
	case io.SeekCurrent:
		r.offset += offset
	case io.SeekEnd:
		r.offset = r.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if r.offset < 0 {
		return 0, fmt.Errorf("negative seek offset")
	}
	return r.offset, nil
}

func (r *s3Reader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.offset)
	r.offset += int64(n)
	return n, err
}

func (r *s3Reader) Close() error { return nil }

func (r *s3Reader) Size() int64 { return r.size }
