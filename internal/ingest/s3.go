package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3 compatible bucket.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// Folder is the key prefix all gallery images are stored under.
	Folder string
	// PublicURL is the origin objects are served from. Defaults to the endpoint or the AWS virtual host.
	PublicURL    string
	UsePathStyle bool
}

// S3Ingester uploads images to object storage. Upload failures surface to the caller;
// there is no local fallback.
type S3Ingester struct {
	client    *s3.Client
	bucket    string
	folder    string
	publicURL string
	now       func() time.Time
}

// NewS3Ingester builds a client from cfg. Static keys are used when given, otherwise the
// default AWS credential chain applies.
func NewS3Ingester(ctx context.Context, cfg S3Config) (*S3Ingester, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("ingest: s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("ingest: load aws config: %w", err)
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	publicURL := strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	if publicURL == "" {
		switch {
		case endpoint != "" && cfg.UsePathStyle:
			publicURL = endpoint + "/" + cfg.Bucket
		case endpoint != "":
			if u, err := url.Parse(endpoint); err == nil {
				publicURL = fmt.Sprintf("%s://%s.%s", u.Scheme, cfg.Bucket, u.Host)
			}
		default:
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
		}
	}

	return &S3Ingester{
		client:    client,
		bucket:    cfg.Bucket,
		folder:    strings.Trim(cfg.Folder, "/"),
		publicURL: publicURL,
		now:       time.Now,
	}, nil
}

func (s *S3Ingester) Name() string { return "s3" }

func (s *S3Ingester) key(name string) string {
	if s.folder == "" {
		return name
	}
	return s.folder + "/" + name
}

// Ingest uploads the image in one blocking call and returns its public URL.
func (s *S3Ingester) Ingest(ctx context.Context, upload Upload) (Stored, error) {
	if upload.Body == nil {
		return Stored{}, errors.New("empty upload body")
	}

	// Payload signing over plain HTTP endpoints needs a seekable body.
	body, ok := upload.Body.(io.ReadSeeker)
	if !ok {
		raw, err := io.ReadAll(upload.Body)
		if err != nil {
			return Stored{}, err
		}
		body = bytes.NewReader(raw)
	}

	name := objectName(upload.Name, s.now())
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   body,
	}
	if upload.ContentType != "" {
		input.ContentType = aws.String(upload.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Stored{}, fmt.Errorf("s3 put object: %w", err)
	}

	return Stored{Reference: s.publicURL + "/" + s.key(name), Name: name}, nil
}

func (s *S3Ingester) Remove(ctx context.Context, name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("ingest: invalid object name %q", name)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object: %w", err)
	}
	return nil
}
