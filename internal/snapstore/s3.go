package snapstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/entityledger/core/internal/entity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var s3Tracer = otel.Tracer("github.com/entityledger/core/snapstore")

// tagKey is the S3 object tag key carrying the publication state.
const tagKey = "publication_state"

// S3 is the production Gateway, backed by an AWS S3 (or S3-compatible)
// bucket. Tags are stored as S3 object tagging rather than metadata
// headers, since tags can be updated in place without rewriting the
// object body — required for the pending->published transition in
// Phase D of the write pipeline.
type S3 struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucket     string
	putTimeout time.Duration
	getTimeout time.Duration
}

// NewS3 builds a snapstore.Gateway from a configured S3 client.
func NewS3(client *s3.Client, bucket string, putTimeout, getTimeout time.Duration) *S3 {
	return &S3{
		client:     client,
		uploader:   manager.NewUploader(client),
		bucket:     bucket,
		putTimeout: putTimeout,
		getTimeout: getTimeout,
	}
}

var _ Gateway = (*S3)(nil)

func (s *S3) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (s *S3) Put(ctx context.Context, uri string, body []byte, tag Tag) error {
	ctx, span := s3Tracer.Start(ctx, "snapstore.Put", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("snapstore.uri", uri), attribute.String("snapstore.tag", string(tag))))
	defer func() { span.End() }()

	// Refuse to clobber a published object; the caller must SetTag
	// through the pending state, never re-Put over a finalized snapshot.
	if existingTag, err := s.GetTag(ctx, uri); err == nil && existingTag == TagPublished {
		recordErr(span, ErrAlreadyPublished)
		return ErrAlreadyPublished
	}

	ctx, cancel := s.withTimeout(ctx, s.putTimeout)
	defer cancel()

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(uri),
		Body:    bytes.NewReader(body),
		Tagging: aws.String(url.Values{tagKey: {string(tag)}}.Encode()),
	})
	if err != nil {
		err = fmt.Errorf("snapstore: put %s: %w", uri, err)
		recordErr(span, err)
		return err
	}
	return nil
}

func (s *S3) Get(ctx context.Context, uri string) ([]byte, error) {
	ctx, span := s3Tracer.Start(ctx, "snapstore.Get", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("snapstore.uri", uri)))
	defer span.End()

	ctx, cancel := s.withTimeout(ctx, s.getTimeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(uri),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			recordErr(span, ErrNotFound)
			return nil, ErrNotFound
		}
		err = fmt.Errorf("snapstore: get %s: %w", uri, err)
		recordErr(span, err)
		return nil, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		err = fmt.Errorf("snapstore: read body %s: %w", uri, err)
		recordErr(span, err)
		return nil, err
	}
	return body, nil
}

func (s *S3) SetTag(ctx context.Context, uri string, tag Tag) error {
	ctx, span := s3Tracer.Start(ctx, "snapstore.SetTag", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("snapstore.uri", uri), attribute.String("snapstore.tag", string(tag))))
	defer span.End()

	if tag == TagPending {
		current, err := s.GetTag(ctx, uri)
		if err == nil && current == TagPublished {
			recordErr(span, ErrAlreadyPublished)
			return ErrAlreadyPublished
		}
	}

	_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(uri),
		Tagging: &types.Tagging{
			TagSet: []types.Tag{{Key: aws.String(tagKey), Value: aws.String(string(tag))}},
		},
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			recordErr(span, ErrNotFound)
			return ErrNotFound
		}
		err = fmt.Errorf("snapstore: set tag %s: %w", uri, err)
		recordErr(span, err)
		return err
	}
	return nil
}

func (s *S3) GetTag(ctx context.Context, uri string) (Tag, error) {
	out, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(uri),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("snapstore: get tag %s: %w", uri, err)
	}
	for _, t := range out.TagSet {
		if aws.ToString(t.Key) == tagKey {
			return Tag(aws.ToString(t.Value)), nil
		}
	}
	return TagPending, nil
}

func (s *S3) ListPendingOlderThan(ctx context.Context, prefix string, cutoff time.Time, limit int) ([]PendingObject, error) {
	var out []PendingObject
	var token *string

	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("snapstore: list pending: %w", err)
		}
		for _, item := range page.Contents {
			if item.LastModified == nil || !item.LastModified.Before(cutoff) {
				continue
			}
			key := aws.ToString(item.Key)
			tag, err := s.GetTag(ctx, key)
			if err != nil || tag != TagPending {
				continue
			}
			_, rev, _ := entity.ParseSnapshotURI(key)
			out = append(out, PendingObject{URI: key, Revision: rev, CreatedAt: *item.LastModified})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

func recordErr(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
