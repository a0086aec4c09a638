package closecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		code Code
		want Class
	}{
		{"authentication failed is fatal", AuthenticationFailed, ClassFatal},
		{"sharding required is its own fatal variant", ShardingRequired, ClassShardingRequired},
		{"session timed out is restartable", SessionTimedOut, ClassRestartable},
		{"invalid seq is restartable", InvalidSeq, ClassRestartable},
		{"unknown close code is resumable", Code(9999), ClassResumable},
		{"normal unknown_error is resumable", UnknownError, ClassResumable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.code))
		})
	}
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "authentication failed", AuthenticationFailed.String())
	assert.Equal(t, "close code 9999", Code(9999).String())
}
