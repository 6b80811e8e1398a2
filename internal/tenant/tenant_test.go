package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		wantErr error
		wantID  string
	}{
		{
			name:    "missing tenant fails closed",
			ctx:     context.Background(),
			wantErr: ErrMissingTenant,
		},
		{
			name:   "valid tenant",
			ctx:    NewContext(context.Background(), &Info{TenantID: "org-123"}),
			wantID: "org-123",
		},
		{
			name:    "empty tenant id rejected",
			ctx:     NewContext(context.Background(), &Info{}),
			wantErr: ErrInvalidTenant,
		},
		{
			name:    "nil info rejected",
			ctx:     NewContext(context.Background(), nil),
			wantErr: ErrMissingTenant,
		},
		{
			name:    "invalid characters rejected",
			ctx:     NewContext(context.Background(), &Info{TenantID: "org/../etc"}),
			wantErr: ErrInvalidTenant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := FromContext(tt.ctx)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, info.TenantID)
		})
	}
}

func TestHas(t *testing.T) {
	assert.False(t, Has(context.Background()))
	ctx := NewContext(context.Background(), &Info{TenantID: "org-1"})
	assert.True(t, Has(ctx))
}
