package blocksink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config names the object-storage bucket an S3Sink writes a WAL session
// into, plus optional S3-compatible endpoint overrides (MinIO and similar).
type S3Config struct {
	Bucket          string
	Key             string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool

	// ReplicationFactor and BlockSizeBytes carry the resolved
	// replication.DefaultProvider values through to the object store as
	// object metadata: S3 itself replicates durably regardless, but
	// recording the placement intent the WAL session was opened under lets
	// an operator correlate objects with the policy in force when they were
	// written. Zero means "not recorded".
	ReplicationFactor int
	BlockSizeBytes    int64
}

// S3Sink is a Sink backed by an S3-compatible object store. S3 has no append
// primitive, so appended bytes accumulate in memory until FlushToPeers
// pushes the whole object with PutObject; SyncToDisk follows with a
// HeadObject round trip so the sink only reports durability once the
// object is confirmed visible to readers.
type S3Sink struct {
	cfg S3Config

	mu      sync.Mutex
	client  *s3.Client
	buf     bytes.Buffer
	pushed  bool // true once the current buffer contents have been PutObject'd
	offset  int  // bytes already durably confirmed via HeadObject
}

// NewS3Sink builds an S3Sink and resolves its client from the standard AWS
// config chain, overridden by any explicit credentials/endpoint in cfg.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blocksink: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Sink{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// Append buffers p in memory. S3 has no append API; the bytes are not sent
// until FlushToPeers.
func (s *S3Sink) Append(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.buf.Write(p)
	if n > 0 {
		s.pushed = false
	}
	return n, err
}

// FlushToPeers pushes the full accumulated object to the bucket with
// PutObject, replacing whatever was there before. This is "push to peers"
// in the sense that the object store's own replication takes over once
// PutObject returns.
func (s *S3Sink) FlushToPeers() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushed {
		return nil
	}

	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(s.cfg.Key),
		Body:     bytes.NewReader(s.buf.Bytes()),
		Metadata: s.placementMetadata(),
	})
	if err != nil {
		return fmt.Errorf("blocksink: put object: %w", err)
	}
	s.pushed = true
	return nil
}

// placementMetadata returns the object metadata recording the replication
// factor and block size the sink was opened with, or nil if neither was
// set (the common case for backends that never consulted
// replication.DefaultProvider).
func (s *S3Sink) placementMetadata() map[string]string {
	if s.cfg.ReplicationFactor == 0 && s.cfg.BlockSizeBytes == 0 {
		return nil
	}
	meta := make(map[string]string, 2)
	if s.cfg.ReplicationFactor != 0 {
		meta["corestore-replication"] = fmt.Sprintf("%d", s.cfg.ReplicationFactor)
	}
	if s.cfg.BlockSizeBytes != 0 {
		meta["corestore-block-size"] = fmt.Sprintf("%d", s.cfg.BlockSizeBytes)
	}
	return meta
}

// SyncToDisk confirms durability by issuing FlushToPeers (if not already
// done) followed by a HeadObject call; only once the object's reported
// ContentLength matches the bytes written does this return success.
func (s *S3Sink) SyncToDisk() error {
	if err := s.FlushToPeers(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		return fmt.Errorf("blocksink: head object: %w", err)
	}
	if head.ContentLength == nil || int(*head.ContentLength) != s.buf.Len() {
		return fmt.Errorf("blocksink: object size mismatch after put: want %d", s.buf.Len())
	}
	s.offset = s.buf.Len()
	return nil
}

// Close is a no-op: the S3 client holds no local resources that need
// releasing.
func (s *S3Sink) Close() error {
	return nil
}

// ReadAt reads back bytes from the last-flushed object, satisfying
// Readable for replay.
func (s *S3Sink) ReadAt(p []byte, off int64) (int, error) {
	resp, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)),
	})
	if err != nil {
		return 0, fmt.Errorf("blocksink: get object: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}
