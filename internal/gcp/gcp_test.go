package gcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("PDFOCR_TEST_KEY", "value")
	assert.Equal(t, "value", GetEnv("PDFOCR_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnv("PDFOCR_TEST_MISSING", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("PDFOCR_TEST_INT", "5")
	assert.Equal(t, 5, GetEnvInt("PDFOCR_TEST_INT", 3))

	t.Setenv("PDFOCR_TEST_INT_BAD", "five")
	assert.Equal(t, 3, GetEnvInt("PDFOCR_TEST_INT_BAD", 3))
	assert.Equal(t, 3, GetEnvInt("PDFOCR_TEST_INT_MISSING", 3))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("PDFOCR_TEST_DUR", "45s")
	assert.Equal(t, 45*time.Second, GetEnvDuration("PDFOCR_TEST_DUR", time.Minute))

	t.Setenv("PDFOCR_TEST_DUR_BAD", "soon")
	assert.Equal(t, time.Minute, GetEnvDuration("PDFOCR_TEST_DUR_BAD", time.Minute))
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantObject string
		wantGCS    bool
		wantErr    bool
	}{
		{name: "local path", uri: "out/result.txt", wantGCS: false},
		{name: "bucket and object", uri: "gs://my-bucket/results/out.txt", wantBucket: "my-bucket", wantObject: "results/out.txt", wantGCS: true},
		{name: "bucket only", uri: "gs://my-bucket", wantGCS: true, wantErr: true},
		{name: "empty object", uri: "gs://my-bucket/", wantGCS: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, object, isGCS, err := ParseGCSURI(tt.uri)
			assert.Equal(t, tt.wantGCS, isGCS)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantObject, object)
		})
	}
}
