/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package durability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config names the connection parameters for an S3-compatible endpoint,
// adapted from the teacher's S3Factory (persistence-s3.go).
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // for S3-compatible stores such as MinIO
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// S3Target is the S3-backed replica target. Since S3 has no append
// operation, each write buffers the full per-segment object and
// re-PutObjects it whole ("S3 does not support append; we buffer and
// replace objects on sync" — teacher persistence-s3.go).
type S3Target struct {
	cfg         S3Config
	segmentSize int64

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

func NewS3Target(cfg S3Config, segmentSize int64) *S3Target {
	return &S3Target{cfg: cfg, segmentSize: segmentSize}
}

func (s *S3Target) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if s.cfg.Region != "" {
		opts = append(opts, config.WithRegion(s.cfg.Region))
	}
	if s.cfg.AccessKeyID != "" && s.cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("S3Target: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if s.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(s.cfg.Endpoint) })
	}
	if s.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	s.client = s3.NewFromConfig(awsCfg, s3Opts...)
	s.opened = true
	return nil
}

func (s *S3Target) prefix(trunkID int) string {
	pfx := strings.TrimSuffix(s.cfg.Prefix, "/")
	if pfx == "" {
		return fmt.Sprintf("trunk-%d", trunkID)
	}
	return fmt.Sprintf("%s/trunk-%d", pfx, trunkID)
}

func (s *S3Target) segmentKey(trunkID, segmentID int) string {
	return fmt.Sprintf("%s/segment-%08d", s.prefix(trunkID), segmentID)
}

func (s *S3Target) importedKey(trunkID int) string {
	return fmt.Sprintf("%s/imported", s.prefix(trunkID))
}

// fetchOrZero returns the current segment record (record header + segment
// body), or a fresh zeroed one if the object does not exist yet.
func (s *S3Target) fetchOrZero(key string) ([]byte, error) {
	resp, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		buf := make([]byte, recordHeaderSize+s.segmentSize)
		return buf, nil
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < recordHeaderSize+s.segmentSize {
		grown := make([]byte, recordHeaderSize+s.segmentSize)
		copy(grown, data)
		data = grown
	}
	return data, nil
}

func (s *S3Target) putRecord(key string, record []byte) error {
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(record),
	})
	return err
}

// WriteSegmentImage implements ReplicaTarget.
func (s *S3Target) WriteSegmentImage(trunkID, segmentID int, appendHead int64, lo, hi int64, data []byte) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	key := s.segmentKey(trunkID, segmentID)
	record, err := s.fetchOrZero(key)
	if err != nil {
		return err
	}
	copy(record[0:recordHeaderSize], encodeRecordHeader(appendHead))
	copy(record[recordHeaderSize+lo:recordHeaderSize+hi], data)
	return s.putRecord(key, record)
}

// WriteTombstone implements ReplicaTarget.
func (s *S3Target) WriteTombstone(trunkID, segmentID int, loc int64, header []byte) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	key := s.segmentKey(trunkID, segmentID)
	record, err := s.fetchOrZero(key)
	if err != nil {
		return err
	}
	copy(record[recordHeaderSize+loc:], header)
	return s.putRecord(key, record)
}

// OpenReplicaFile implements ReplicaTarget: lists every segment-NNNNNNNN
// object under the trunk's prefix, in order.
func (s *S3Target) OpenReplicaFile(trunkID int) (ReplicaFile, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	pfx := s.prefix(trunkID) + "/segment-"
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(pfx),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
	}
	sort.Strings(keys)
	return &s3ReplicaFile{s: s, keys: keys, segmentSize: s.segmentSize}, nil
}

// MarkImported implements ReplicaTarget.
func (s *S3Target) MarkImported(trunkID int) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.importedKey(trunkID)),
		Body:   bytes.NewReader(nil),
	})
	return err
}

// IsImported implements ReplicaTarget.
func (s *S3Target) IsImported(trunkID int) bool {
	if err := s.ensureOpen(); err != nil {
		return false
	}
	_, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.importedKey(trunkID)),
	})
	return err == nil
}

type s3ReplicaFile struct {
	s           *S3Target
	keys        []string
	segmentSize int64
	idx         int
}

func (r *s3ReplicaFile) SegmentSize() int64 { return r.segmentSize }

func (r *s3ReplicaFile) Next() (int, int64, []byte, error) {
	if r.idx >= len(r.keys) {
		return 0, 0, nil, io.EOF
	}
	key := r.keys[r.idx]
	segmentID := segmentIndexFromKey(key)
	r.idx++

	resp, err := r.s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(r.s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, 0, nil, err
	}
	defer resp.Body.Close()
	record, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, nil, err
	}
	appendHead, err := decodeRecordHeader(record)
	if err != nil {
		return 0, 0, nil, err
	}
	return segmentID, appendHead, record[recordHeaderSize:], nil
}

func (r *s3ReplicaFile) Close() error { return nil }

func segmentIndexFromKey(key string) int {
	i := strings.LastIndex(key, "segment-")
	if i < 0 {
		return 0
	}
	n, _ := strconv.Atoi(key[i+len("segment-"):])
	return n
}
