package indexer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegrep/pkg/types"
)

func TestFingerprint(t *testing.T) {
	data := []byte("package main\n")

	x1 := Fingerprint(FingerprintXXH3, data)
	x2 := Fingerprint(FingerprintXXH3, data)
	assert.Equal(t, x1, x2)
	assert.True(t, strings.HasPrefix(x1, "xxh3:"))
	assert.Len(t, x1, len("xxh3:")+16)

	s := Fingerprint(FingerprintSHA256, data)
	assert.True(t, strings.HasPrefix(s, "sha256:"))
	assert.Len(t, s, len("sha256:")+64)

	assert.NotEqual(t, x1, Fingerprint(FingerprintXXH3, []byte("package other\n")))
	assert.NotEqual(t, x1, s)
	assert.NotEmpty(t, Fingerprint(FingerprintXXH3, nil))
}

func TestFingerprintFile(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "a.txt", "hello")

	fp, data, err := FingerprintFile(FingerprintSHA256, path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, Fingerprint(FingerprintSHA256, []byte("hello")), fp)

	_, _, err = FingerprintFile(FingerprintXXH3, dir+"/missing.txt")
	assert.ErrorIs(t, err, types.ErrFileAccess)
}

func TestParseFingerprintAlgo(t *testing.T) {
	tests := []struct {
		input   string
		want    FingerprintAlgo
		wantErr bool
	}{
		{"", FingerprintXXH3, false},
		{"xxh3", FingerprintXXH3, false},
		{" SHA256 ", FingerprintSHA256, false},
		{"mtime", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFingerprintAlgo(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseParseFailurePolicy(t *testing.T) {
	got, err := ParseParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyRetry, got)

	got, err = ParseParseFailurePolicy("Advance")
	require.NoError(t, err)
	assert.Equal(t, PolicyAdvance, got)

	_, err = ParseParseFailurePolicy("ignore")
	assert.Error(t, err)
}

func TestIndexLock(t *testing.T) {
	var lock IndexLock

	assert.False(t, lock.Held())
	assert.True(t, lock.TryAcquire())
	assert.True(t, lock.Held())
	assert.False(t, lock.TryAcquire())

	lock.Release()
	assert.False(t, lock.Held())
	assert.True(t, lock.TryAcquire())
}
