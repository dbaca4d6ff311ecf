package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockObjectAPI struct {
	mock.Mock
}

func (m *mockObjectAPI) PutObject(
	ctx context.Context,
	params *s3.PutObjectInput,
	_ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	return &s3.PutObjectOutput{}, args.Error(0)
}

func (m *mockObjectAPI) HeadBucket(
	ctx context.Context,
	params *s3.HeadBucketInput,
	_ ...func(*s3.Options),
) (*s3.HeadBucketOutput, error) {
	args := m.Called(ctx, params)
	return &s3.HeadBucketOutput{}, args.Error(0)
}

func TestS3Store_Save(t *testing.T) {
	t.Run("should put the payload under the key", func(t *testing.T) {
		// Arrange
		api := new(mockObjectAPI)
		var captured *s3.PutObjectInput
		api.On("PutObject", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { captured = args.Get(1).(*s3.PutObjectInput) }).
			Return(nil)
		store := newS3Store(api, "payloads")

		// Act
		err := store.Save(context.Background(), "/batch-requests/job/batch-1.jsonl", []byte("{}\n"), "application/jsonl")

		// Assert
		require.NoError(t, err)
		require.NotNil(t, captured)
		assert.Equal(t, "payloads", aws.ToString(captured.Bucket))
		assert.Equal(t, "batch-requests/job/batch-1.jsonl", aws.ToString(captured.Key))
		assert.Equal(t, "application/jsonl", aws.ToString(captured.ContentType))
		body, readErr := io.ReadAll(captured.Body)
		require.NoError(t, readErr)
		assert.Equal(t, "{}\n", string(body))
	})

	t.Run("should wrap upload errors", func(t *testing.T) {
		api := new(mockObjectAPI)
		api.On("PutObject", mock.Anything, mock.Anything).Return(errors.New("access denied"))
		store := newS3Store(api, "payloads")

		err := store.Save(context.Background(), "k", nil, "application/jsonl")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "s3://payloads/k")
		assert.Contains(t, err.Error(), "access denied")
	})
}

func TestS3Store_Probe(t *testing.T) {
	api := new(mockObjectAPI)
	api.On("HeadBucket", mock.Anything, mock.MatchedBy(func(in *s3.HeadBucketInput) bool {
		return aws.ToString(in.Bucket) == "payloads"
	})).Return(errors.New("not found")).Once()
	store := newS3Store(api, "payloads")

	err := store.Probe(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket payloads is not accessible")
	api.AssertExpectations(t)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), Config{Bucket: " "})

	require.Error(t, err)
}
