package tenant

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "client_001", false},
		{"hyphen", "acme-corp", false},
		{"empty", "", true},
		{"path traversal", "../etc", true},
		{"slash", "a/b", true},
		{"space", "a b", true},
		{"too long", strings.Repeat("a", 65), true},
		{"max length", strings.Repeat("a", 64), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTenant)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestContext(t *testing.T) {
	t.Run("missing fails closed", func(t *testing.T) {
		_, err := FromContext(context.Background())
		assert.ErrorIs(t, err, ErrMissingTenant)
		assert.Empty(t, IDFromContext(context.Background()))
	})

	t.Run("round trip", func(t *testing.T) {
		ctx := WithID(context.Background(), "t1")
		id, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "t1", id)
		assert.Equal(t, "t1", IDFromContext(ctx))
	})

	t.Run("empty id treated as missing", func(t *testing.T) {
		_, err := FromContext(WithID(context.Background(), ""))
		assert.ErrorIs(t, err, ErrMissingTenant)
	})
}
