package mocks3

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createS3Client configures an AWS SDK client against the in-memory server,
// cross-validating the wire format against a real S3 consumer.
func createS3Client(t *testing.T, endpoint string) *awss3.S3 {
	t.Helper()

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String("us-east-1"),
		Endpoint:         aws.String(endpoint),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials("AKIATEST", "sekrit", ""),
	})
	require.NoError(t, err, "Failed to create AWS session")

	return awss3.New(sess)
}

func TestSDKRoundTrip(t *testing.T) {
	server := New("testbucket")
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	client := createS3Client(t, ts.URL)
	body := []byte("integration test content")

	t.Run("PutObject", func(t *testing.T) {
		result, err := client.PutObject(&awss3.PutObjectInput{
			Bucket:      aws.String("testbucket"),
			Key:         aws.String("test.txt"),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("text/plain"),
			Metadata:    map[string]*string{"Owner": aws.String("alex")},
		})
		require.NoError(t, err, "PutObject should not error")

		sum := md5.Sum(body)
		assert.Equal(t, `"`+hex.EncodeToString(sum[:])+`"`, *result.ETag, "ETag should be the MD5 of the body")
	})

	t.Run("HeadObject", func(t *testing.T) {
		result, err := client.HeadObject(&awss3.HeadObjectInput{
			Bucket: aws.String("testbucket"),
			Key:    aws.String("test.txt"),
		})
		require.NoError(t, err, "HeadObject should not error")

		assert.Equal(t, int64(len(body)), *result.ContentLength)
		assert.Equal(t, "text/plain", *result.ContentType)
		require.Contains(t, result.Metadata, "Owner")
		assert.Equal(t, "alex", *result.Metadata["Owner"], "User metadata should round-trip")
	})

	t.Run("GetObject", func(t *testing.T) {
		result, err := client.GetObject(&awss3.GetObjectInput{
			Bucket: aws.String("testbucket"),
			Key:    aws.String("test.txt"),
		})
		require.NoError(t, err, "GetObject should not error")
		defer result.Body.Close()

		got, err := io.ReadAll(result.Body)
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("GetObjectMissing", func(t *testing.T) {
		_, err := client.GetObject(&awss3.GetObjectInput{
			Bucket: aws.String("testbucket"),
			Key:    aws.String("never-stored"),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NoSuchKey")
	})

	t.Run("DeleteObject", func(t *testing.T) {
		_, err := client.DeleteObject(&awss3.DeleteObjectInput{
			Bucket: aws.String("testbucket"),
			Key:    aws.String("test.txt"),
		})
		require.NoError(t, err, "DeleteObject should not error")

		assert.Nil(t, server.Object("test.txt"))
	})
}

func TestSDKListObjects(t *testing.T) {
	server := New("testbucket")
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	server.Put("logs/jan.txt", []byte("1"), nil)
	server.Put("logs/feb.txt", []byte("22"), nil)
	server.Put("data/dump.bin", []byte("333"), nil)

	client := createS3Client(t, ts.URL)

	t.Run("All", func(t *testing.T) {
		result, err := client.ListObjects(&awss3.ListObjectsInput{
			Bucket: aws.String("testbucket"),
		})
		require.NoError(t, err)

		var keys []string
		for _, item := range result.Contents {
			keys = append(keys, *item.Key)
		}
		sort.Strings(keys)
		assert.Equal(t, []string{"data/dump.bin", "logs/feb.txt", "logs/jan.txt"}, keys)
	})

	t.Run("Prefix", func(t *testing.T) {
		result, err := client.ListObjects(&awss3.ListObjectsInput{
			Bucket: aws.String("testbucket"),
			Prefix: aws.String("logs/"),
		})
		require.NoError(t, err)
		assert.Len(t, result.Contents, 2)
	})

	t.Run("Paginated", func(t *testing.T) {
		var keys []string
		err := client.ListObjectsPages(&awss3.ListObjectsInput{
			Bucket:  aws.String("testbucket"),
			MaxKeys: aws.Int64(1),
		}, func(page *awss3.ListObjectsOutput, last bool) bool {
			for _, item := range page.Contents {
				keys = append(keys, *item.Key)
			}
			return true
		})
		require.NoError(t, err)
		assert.Len(t, keys, 3, "Marker pagination should visit every key exactly once")
	})
}

func TestSDKMultipartUpload(t *testing.T) {
	server := New("testbucket")
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	client := createS3Client(t, ts.URL)

	initiate, err := client.CreateMultipartUpload(&awss3.CreateMultipartUploadInput{
		Bucket: aws.String("testbucket"),
		Key:    aws.String("assembled.bin"),
	})
	require.NoError(t, err, "CreateMultipartUpload should not error")
	require.NotEmpty(t, *initiate.UploadId)

	parts := [][]byte{[]byte("part one "), []byte("part two "), []byte("part three")}
	var completed []*awss3.CompletedPart

	for i, part := range parts {
		resp, err := client.UploadPart(&awss3.UploadPartInput{
			Bucket:     aws.String("testbucket"),
			Key:        aws.String("assembled.bin"),
			UploadId:   initiate.UploadId,
			PartNumber: aws.Int64(int64(i + 1)),
			Body:       bytes.NewReader(part),
		})
		require.NoError(t, err, "UploadPart should not error")

		completed = append(completed, &awss3.CompletedPart{
			PartNumber: aws.Int64(int64(i + 1)),
			ETag:       resp.ETag,
		})
	}

	result, err := client.CompleteMultipartUpload(&awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String("testbucket"),
		Key:             aws.String("assembled.bin"),
		UploadId:        initiate.UploadId,
		MultipartUpload: &awss3.CompletedMultipartUpload{Parts: completed},
	})
	require.NoError(t, err, "CompleteMultipartUpload should not error")
	assert.NotEmpty(t, *result.ETag)

	assert.Equal(t, []byte("part one part two part three"), server.Object("assembled.bin"))
}

func TestFaultInjection(t *testing.T) {
	server := New("testbucket")
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	server.Put("key", []byte("x"), nil)
	server.FailNext(500, 2)

	client := createS3Client(t, ts.URL)

	// The SDK retries 500s itself, so after the injected failures are
	// consumed the request succeeds.
	_, err := client.GetObject(&awss3.GetObjectInput{
		Bucket: aws.String("testbucket"),
		Key:    aws.String("key"),
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(server.Requests()), 3)
}
