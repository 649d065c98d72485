package catalog

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/fulltext"
)

const catalogYAML = `
tables:
  - name: jobs
    primary_key: id
    columns:
      - {name: id, type: int4}
      - {name: name, type: text}
      - {name: full_text, type: tsvector}
`

const catalogJSON = `{"tables":[{"name":"jobs","primary_key":"id","columns":[{"name":"id","type":"int4"},{"name":"full_text","type":"tsvector"}]}]}`

func TestParse(t *testing.T) {
	for format, doc := range map[string]string{"yaml": catalogYAML, "json": catalogJSON} {
		t.Run(format, func(t *testing.T) {
			cat, err := Parse([]byte(doc), format)
			require.NoError(t, err)
			jobs, ok := cat.Table("jobs")
			require.True(t, ok)
			_, ok = jobs.Field("fullText")
			assert.True(t, ok)
		})
	}

	_, err := Parse([]byte("{"), "json")
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	cat, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, cat.Tables, 1)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, fulltext.IsKind(err, fulltext.KindInternal))
}

type fakeObjectStore struct {
	objects map[string][]byte
	calls   int
}

func (f *fakeObjectStore) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not found"}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func TestLoadS3(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{"catalogs/jobs.json": []byte(catalogJSON)}}

	cat, err := LoadS3(context.Background(), store, "catalogs", "jobs.json")
	require.NoError(t, err)
	_, ok := cat.Table("jobs")
	assert.True(t, ok)
	assert.GreaterOrEqual(t, store.calls, 1)
}

func TestLoadS3_NotFound(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{}}

	_, err := LoadS3(context.Background(), store, "catalogs", "missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, "json", formatOf("a/b.JSON"))
	assert.Equal(t, "yaml", formatOf("a/b.yml"))
	assert.Equal(t, "yaml", formatOf("catalog"))
}
