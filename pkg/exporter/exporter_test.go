package exporter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

func TestFileSinkExport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := NewFileSink(config.Sink{Name: "out", Type: "file", Path: dir})
	require.NoError(t, err)

	uri, err := sink.Export(t.Context(), "results.jsonl", []byte("{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(dir, "results.jsonl")), uri)

	data, err := os.ReadFile(filepath.Join(dir, "results.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))

	// No temp residue after the rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileSinkFailIfExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results.jsonl"), []byte("old"), 0o644))

	sink, err := NewFileSink(config.Sink{Name: "out", Path: dir, Mode: "fail_if_exists"})
	require.NoError(t, err)

	_, err = sink.Export(t.Context(), "results.jsonl", []byte("new"))
	require.Error(t, err)
	assert.True(t, errdefs.IsExport(err))

	// The existing file is untouched.
	data, err := os.ReadFile(filepath.Join(dir, "results.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestFileSinkUnsupportedMode(t *testing.T) {
	t.Parallel()

	_, err := NewFileSink(config.Sink{Name: "out", Path: "somewhere", Mode: "append"})
	require.Error(t, err)
	assert.True(t, errdefs.IsExport(err))
}

func TestFileSinkRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewFileSink(config.Sink{Name: "out"})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfig(err))
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkExport(t *testing.T) {
	t.Parallel()

	api := &fakeS3{}
	sink, err := NewS3Sink(t.Context(), S3Config{Name: "lake", Bucket: "results", Prefix: "runs", Client: api})
	require.NoError(t, err)

	uri, err := sink.Export(t.Context(), "out.parquet", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "s3://results/runs/out.parquet", uri)

	require.Len(t, api.inputs, 1)
	assert.Equal(t, "results", aws.ToString(api.inputs[0].Bucket))
	assert.Equal(t, "runs/out.parquet", aws.ToString(api.inputs[0].Key))
	assert.NotEmpty(t, api.inputs[0].Metadata["fmf-write-token"])
}

func TestS3SinkPutFailure(t *testing.T) {
	t.Parallel()

	api := &fakeS3{err: errdefs.Export("denied")}
	sink, err := NewS3Sink(t.Context(), S3Config{Name: "lake", Bucket: "results", Client: api})
	require.NoError(t, err)

	_, err = sink.Export(t.Context(), "out.jsonl", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsExport(err))
}

func TestS3SinkUnsupportedMode(t *testing.T) {
	t.Parallel()

	_, err := NewS3Sink(t.Context(), S3Config{Name: "lake", Bucket: "results", Mode: "append", Client: &fakeS3{}})
	require.Error(t, err)
	assert.True(t, errdefs.IsExport(err))
}

func TestBuildUnknownSinkType(t *testing.T) {
	t.Parallel()

	_, err := Build(t.Context(), config.Sink{Name: "x", Type: "ftp"})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfig(err))
}

func TestExportResolvesSinkByName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	engine := &config.Config{Export: &config.Export{Sinks: []config.Sink{
		{Name: "out", Type: "file", Path: dir},
	}}}

	uri, err := Export(t.Context(), engine, "out", "step.jsonl", []byte("{}\n"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "step.jsonl"))
	assert.Contains(t, uri, "step.jsonl")

	_, err = Export(t.Context(), engine, "missing", "step.jsonl", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsConfig(err))
}
