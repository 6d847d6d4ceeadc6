package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"teamline/config"
	"teamline/internal/api"
)

// Uploader hands out attachment upload tickets.
type Uploader interface {
	Ticket(ctx context.Context, fileName, contentType string, size int64) (api.UploadTicket, error)
}

// MemoryUploader stores uploads in the server's own memory; the ticket
// points back at the server's raw upload endpoint. Default when no S3
// bucket is configured. The base URL is resolved lazily because under
// httptest it is only known after the listener is up.
type MemoryUploader struct {
	baseURL func() string
	store   *Store
}

func NewMemoryUploader(baseURL func() string, store *Store) *MemoryUploader {
	return &MemoryUploader{baseURL: baseURL, store: store}
}

func (u *MemoryUploader) Ticket(_ context.Context, fileName, contentType string, _ int64) (api.UploadTicket, error) {
	key := uuid.New().String() + "/" + url.PathEscape(fileName)
	raw := u.baseURL() + "/uploads/raw/" + key
	return api.UploadTicket{
		Key:       key,
		URL:       raw,
		Headers:   map[string]string{"Content-Type": contentType},
		PublicURL: raw,
	}, nil
}

// S3Uploader presigns PUTs against an S3 (or compatible) bucket.
type S3Uploader struct {
	cfg     config.S3Config
	presign *s3.PresignClient
}

func NewS3Uploader(ctx context.Context, cfg config.S3Config) (*S3Uploader, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{cfg: cfg, presign: s3.NewPresignClient(client)}, nil
}

func (u *S3Uploader) Ticket(ctx context.Context, fileName, contentType string, size int64) (api.UploadTicket, error) {
	key := fmt.Sprintf("attachments/%s/%s", uuid.New().String(), fileName)
	req, err := u.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return api.UploadTicket{}, err
	}

	headers := map[string]string{"Content-Type": contentType}
	for k, vs := range req.SignedHeader {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}
	public := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
	if u.cfg.Endpoint != "" {
		public = fmt.Sprintf("%s/%s/%s", u.cfg.Endpoint, u.cfg.Bucket, key)
	}
	return api.UploadTicket{
		Key:       key,
		URL:       req.URL,
		Headers:   headers,
		PublicURL: public,
	}, nil
}
