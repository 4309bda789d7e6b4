package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

//go:generate mockgen -source=cache.go -destination=cache_mock.go -package=core

func TestCacheAlertGate_Acquire(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(*MockCacheRepository)
		want    bool
		wantErr bool
	}{
		{
			name: "first alert in window is admitted",
			setup: func(cache *MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), "gate:subject-1", []byte("1"), time.Hour).
					Return(true, nil)
			},
			want: true,
		},
		{
			name: "repeat alert is suppressed",
			setup: func(cache *MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), "gate:subject-1", []byte("1"), time.Hour).
					Return(false, nil)
			},
			want: false,
		},
		{
			name: "cache error is returned",
			setup: func(cache *MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), "gate:subject-1", []byte("1"), time.Hour).
					Return(false, errors.New("redis down"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			cache := NewMockCacheRepository(ctrl)
			tt.setup(cache)

			gate := NewCacheAlertGate(cache, "gate:")
			got, err := gate.Acquire(context.Background(), "subject-1", time.Hour)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCacheAlertGate_NilCacheAdmits(t *testing.T) {
	var gate *CacheAlertGate
	ok, err := gate.Acquire(context.Background(), "x", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewCacheAlertGate(nil, "").Acquire(context.Background(), "x", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChecks_Run(t *testing.T) {
	checks := Checks{
		CheckScreening: CheckFunc(func(_ context.Context, _ CheckRequest) (json.RawMessage, error) {
			return json.RawMessage(`{"matches":[]}`), nil
		}),
	}

	out, err := checks.Run(context.Background(), CheckRequest{Kind: CheckScreening})
	require.NoError(t, err)
	assert.JSONEq(t, `{"matches":[]}`, string(out))

	_, err = checks.Run(context.Background(), CheckRequest{Kind: CheckDocumentOCR})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document_ocr")
}

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())
	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}
