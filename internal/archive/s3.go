// Package archive keeps a best-effort copy of submission receipts in object
// storage. A missed archive write never fails the submission it documents.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"mtd-vat-service/internal/config"
	"mtd-vat-service/internal/models"
)

// Receipts writes completed submission receipts to S3.
type Receipts struct {
	client *s3.Client
	bucket string
	log    *zap.Logger
}

// NewReceipts builds the archiver, or returns (nil, nil) when no bucket is
// configured.
func NewReceipts(ctx context.Context, cfg config.Config, log *zap.Logger) (*Receipts, error) {
	if cfg.ReceiptBucket == "" {
		return nil, nil
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Receipts{client: client, bucket: cfg.ReceiptBucket, log: log}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ReceiptRegion),
	}
	if cfg.ReceiptEndpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ReceiptEndpoint,
					HostnameImmutable: cfg.ReceiptPathStyle,
					SigningRegion:     cfg.ReceiptRegion,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ReceiptPathStyle
	}), nil
}

// Archive writes the receipt under receipts/<userKey>/<requestId>.json.
// Failures are logged and swallowed.
func (r *Receipts) Archive(ctx context.Context, rc models.RequestContext, receipt []byte) {
	key := fmt.Sprintf("receipts/%s/%s.json", rc.UserKey, rc.RequestID)
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(receipt),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		r.log.Error("archive receipt failed", append(rc.Fields(), zap.String("key", key), zap.Error(err))...)
		return
	}
	r.log.Info("receipt archived", append(rc.Fields(), zap.String("key", key))...)
}
