// SPDX-License-Identifier: MIT

package contentid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"bare id", "dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"bare id with underscore and dash", "a_b-C_d-E_f", "a_b-C_d-E_f", true},
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"watch url with extra params", "https://www.youtube.com/watch?list=PL123&v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ", true},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"short link with timestamp", "https://youtu.be/dQw4w9WgXcQ?t=10", "dQw4w9WgXcQ", true},
		{"shorts url", "https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"too short", "dQw4w9WgXc", "", false},
		{"too long bare", "dQw4w9WgXcQQ", "", false},
		{"illegal characters", "dQw4w9WgXc!", "", false},
		{"empty", "", "", false},
		{"unrelated url", "https://example.com/video/123", "", false},
		{"watch url with short v", "https://www.youtube.com/watch?v=short", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if !tt.ok {
				require.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("dQw4w9WgXcQ"))
	assert.False(t, Valid("https://youtu.be/dQw4w9WgXcQ"))
	assert.False(t, Valid(""))
}
