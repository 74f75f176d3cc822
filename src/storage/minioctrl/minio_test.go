package minioctrl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docrag/src/storage/minioctrl"
)

func TestParseURL(t *testing.T) {
	testCases := []struct {
		in     string
		bucket string
		object string
		ok     bool
	}{
		{in: "s3://docs/reports/q1.pdf", bucket: "docs", object: "reports/q1.pdf", ok: true},
		{in: "docs/a.txt", bucket: "docs", object: "a.txt", ok: true},
		{in: "s3://docs", ok: false},
		{in: "s3:///a.txt", ok: false},
		{in: "s3://docs/", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			bucket, object, ok := minioctrl.ParseURL(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.bucket, bucket)
			assert.Equal(t, tc.object, object)
		})
	}

	assert.Equal(t, "s3://docs/a.txt", minioctrl.URL("docs", "a.txt"))
}
