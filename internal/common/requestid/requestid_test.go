package requestid

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var prefixedRe = regexp.MustCompile(`^[0-9a-f]{5}-[a-zA-Z0-9-]+$`)

func TestGenerateRequestID(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSuffix string
		wantUUID   bool
	}{
		{name: "empty falls back to uuid", input: "", wantUUID: true},
		{name: "only invalid chars", input: "!!!@@@", wantUUID: true},
		{name: "simple id", input: "abc123", wantSuffix: "abc123"},
		{name: "spaces become hyphens", input: "my request", wantSuffix: "my-request"},
		{name: "hyphen runs collapse", input: "a---b", wantSuffix: "a-b"},
		{name: "edges trimmed", input: "-edge-", wantSuffix: "edge"},
		{name: "specials dropped", input: "id<script>", wantSuffix: "idscript"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRequestID(tt.input)
			if tt.wantUUID {
				_, err := uuid.Parse(got)
				require.NoError(t, err)
				return
			}
			assert.Regexp(t, prefixedRe, got)
			assert.True(t, strings.HasSuffix(got, "-"+tt.wantSuffix), got)
		})
	}
}

func TestGenerateRequestID_MaxLength(t *testing.T) {
	got := GenerateRequestID(strings.Repeat("x", 100))
	assert.LessOrEqual(t, len(got), MaxRequestIDLength)
	assert.Regexp(t, prefixedRe, got)
}

func TestGenerateRequestID_Uniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		id := GenerateRequestID("same")
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a-b-c", Sanitize(" a  b--c "))
	assert.Equal(t, "", Sanitize("   "))
}
