package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestKindOf — классификация опирается только на обёрнутые sentinel-ы.
func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"conflict", fmt.Errorf("storage.postgres.Insert: %w", ErrConflict), KindConflict},
		{"transient", fmt.Errorf("op: %w: %w", ErrTransient, context.DeadlineExceeded), KindTransient},
		{"plain", errors.New("duplicate key value violates unique constraint"), KindOther},
		{"not found", ErrNotFound, KindOther},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, KindOf(tt.err))
		})
	}

	require.Equal(t, "conflict", KindConflict.String())
	require.Equal(t, "transient", KindTransient.String())
	require.Equal(t, "other", KindOther.String())
}
