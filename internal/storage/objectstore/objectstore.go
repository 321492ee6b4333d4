// Package objectstore archives A/B test transcripts in an S3-compatible
// bucket (AWS S3, MinIO, R2 and friends).
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/promptlab/refinery/internal/config"
	"github.com/promptlab/refinery/internal/types"
)

// ErrNotFound is returned by GetTranscript for unknown test IDs.
var ErrNotFound = errors.New("transcript not found")

// Store writes one JSON transcript per A/B test.
type Store struct {
	client   *minio.Client
	bucket   string
	prefix   string
	region   string
	initOnce sync.Once
	initErr  error
}

// New builds a client from cfg. No request is made until the first write.
func New(cfg config.ArtifactConfig) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("artifact endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("artifact access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("artifact bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &Store{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(cfg.Prefix),
		region: region,
	}, nil
}

// Transcript is the archived form of an A/B test: every input with both
// variants' outputs side by side.
type Transcript struct {
	TestID    string           `json:"test_id"`
	PromptA   string           `json:"prompt_a"`
	PromptB   string           `json:"prompt_b"`
	Winner    types.Winner     `json:"winner"`
	PValue    float64          `json:"p_value"`
	Cases     []TranscriptCase `json:"cases"`
	CreatedAt time.Time        `json:"created_at"`
}

// TranscriptCase pairs the two outputs for one test case.
type TranscriptCase struct {
	ID      string   `json:"id"`
	Input   string   `json:"input"`
	OutputA string   `json:"output_a"`
	OutputB string   `json:"output_b"`
	ScoreA  *float64 `json:"score_a,omitempty"`
	ScoreB  *float64 `json:"score_b,omitempty"`
	ErrorA  string   `json:"error_a,omitempty"`
	ErrorB  string   `json:"error_b,omitempty"`
}

// BuildTranscript flattens result into a Transcript.
func BuildTranscript(result *types.ABTestResult) Transcript {
	t := Transcript{
		TestID:    result.TestID,
		PromptA:   result.PromptA.Content,
		PromptB:   result.PromptB.Content,
		Winner:    result.Winner,
		PValue:    result.Analysis.PValue,
		Cases:     make([]TranscriptCase, len(result.TestCases)),
		CreatedAt: result.CreatedAt,
	}
	for i, tc := range result.TestCases {
		c := TranscriptCase{ID: tc.ID, Input: tc.InputText}
		if i < len(result.ResultsA) {
			c.OutputA, c.ScoreA, c.ErrorA = unpack(result.ResultsA[i])
		}
		if i < len(result.ResultsB) {
			c.OutputB, c.ScoreB, c.ErrorB = unpack(result.ResultsB[i])
		}
		t.Cases[i] = c
	}
	return t
}

func unpack(r types.TestResult) (string, *float64, string) {
	var errMsg string
	if r.Failed() {
		errMsg = fmt.Sprint(r.CustomMetrics["error"])
	}
	return r.Output, r.QualityScore, errMsg
}

// Key returns the object key for testID.
func (s *Store) Key(testID string) string {
	return s.prefix + testID + ".json"
}

// PutTranscript uploads the transcript for result and returns its s3:// URI.
func (s *Store) PutTranscript(ctx context.Context, result *types.ABTestResult) (string, error) {
	if result == nil || result.TestID == "" {
		return "", fmt.Errorf("test ID is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}

	body, err := json.MarshalIndent(BuildTranscript(result), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}

	key := s.Key(result.TestID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// GetTranscript downloads and decodes the transcript for testID.
func (s *Store) GetTranscript(ctx context.Context, testID string) (*Transcript, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.Key(testID), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &t, nil
}

// PresignedURL returns a time-limited download link for testID.
func (s *Store) PresignedURL(ctx context.Context, testID string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, s.Key(testID), expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
