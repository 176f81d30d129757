package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNow_AlwaysUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Now().Location())
}

func TestFixed(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	clock := Fixed(time.Date(2025, 3, 1, 7, 0, 0, 0, est))

	first := clock()
	assert.Equal(t, time.UTC, first.Location())
	assert.Equal(t, 12, first.Hour())
	assert.Equal(t, first, clock())
}

func TestParseRFC3339(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "zulu",
			input: "2025-03-01T12:00:00Z",
			want:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "offset normalized to UTC",
			input: "2025-03-01T07:00:00-05:00",
			want:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:    "date only",
			input:   "2025-03-01",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRFC3339(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
