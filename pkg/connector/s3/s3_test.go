package s3

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-framework/fmf/pkg/connector"
)

type fakeAPI struct {
	objects map[string]string
	sse     types.ServerSideEncryption
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	// Two pages to exercise pagination.
	half := len(keys) / 2
	var contents []types.Object
	var page []string
	truncated := false
	if params.ContinuationToken == nil && half > 0 {
		page = keys[:half]
		truncated = true
	} else {
		page = keys
		if params.ContinuationToken != nil {
			page = keys[half:]
		}
	}
	for _, key := range page {
		contents = append(contents, types.Object{Key: aws.String(key)})
	}
	out := &awss3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(truncated)}
	if truncated {
		out.NextContinuationToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, params *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, params *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	now := time.Now()
	return &awss3.HeadObjectOutput{
		ContentLength:        aws.Int64(int64(len(body))),
		ETag:                 aws.String(`"etag"`),
		LastModified:         &now,
		ServerSideEncryption: f.sse,
	}, nil
}

func newFake() *fakeAPI {
	return &fakeAPI{objects: map[string]string{
		"data/a.md":      "# a",
		"data/b.txt":     "b",
		"data/sub/c.md":  "# c",
		"outside/d.md":   "# d",
		"data/sub/e.csv": "x,y",
	}}
}

func newConnector(t *testing.T, api API, kms bool) *Connector {
	t.Helper()
	c, err := New(t.Context(), Config{Name: "store", Bucket: "bkt", Prefix: "data", KMSRequired: kms, Client: api})
	require.NoError(t, err)
	return c
}

func TestListGlobAndPagination(t *testing.T) {
	t.Parallel()

	c := newConnector(t, newFake(), false)
	refs, err := c.List(t.Context(), []string{"**/*.md"})
	require.NoError(t, err)

	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	assert.ElementsMatch(t, []string{"a.md", "sub/c.md"}, ids)
	for _, ref := range refs {
		assert.True(t, strings.HasPrefix(ref.URI, "s3://bkt/data/"))
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	c := newConnector(t, newFake(), false)
	r, err := c.Open(t.Context(), connector.ResourceRef{ID: "a.md"})
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "# a", string(data))
}

func TestInfoKMSRequired(t *testing.T) {
	t.Parallel()

	plain := newFake()
	c := newConnector(t, plain, true)
	_, err := c.Info(t.Context(), connector.ResourceRef{ID: "a.md"})
	require.Error(t, err)

	encrypted := newFake()
	encrypted.sse = types.ServerSideEncryptionAwsKms
	c = newConnector(t, encrypted, true)
	info, err := c.Info(t.Context(), connector.ResourceRef{ID: "a.md"})
	require.NoError(t, err)
	require.NotNil(t, info.Size)
	assert.Equal(t, int64(3), *info.Size)
	assert.Equal(t, "s3://bkt/data/a.md", info.SourceURI)
}

func TestNewRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := New(t.Context(), Config{Name: "store"})
	require.Error(t, err)
}
