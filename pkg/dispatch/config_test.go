package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wehubfusion/Herald/pkg/job"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want Config
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: Config{MaxBatchSize: 50, ExecuteTimeout: 30 * time.Second, KeyStrategy: job.KeyStrategyMonotonic},
		},
		{
			name: "overrides",
			env: map[string]string{
				"HERALD_MAX_BATCH_SIZE":  "10",
				"HERALD_EXECUTE_TIMEOUT": "5s",
				"HERALD_RETRY_MAX_TRIES": "3",
				"HERALD_KEY_STRATEGY":    "UUID",
				"HERALD_MAX_FANOUT":      "4",
			},
			want: Config{MaxBatchSize: 10, ExecuteTimeout: 5 * time.Second, RetryMaxTries: 3, KeyStrategy: job.KeyStrategyUUID, MaxFanOut: 4},
		},
		{
			name: "milliseconds and invalid values",
			env: map[string]string{
				"HERALD_MAX_BATCH_SIZE":  "lots",
				"HERALD_EXECUTE_TIMEOUT": "1500",
				"HERALD_KEY_STRATEGY":    "random",
			},
			want: Config{MaxBatchSize: 50, ExecuteTimeout: 1500 * time.Millisecond, KeyStrategy: job.KeyStrategyMonotonic},
		},
	}

	keys := []string{"HERALD_MAX_BATCH_SIZE", "HERALD_EXECUTE_TIMEOUT", "HERALD_RETRY_MAX_TRIES", "HERALD_KEY_STRATEGY", "HERALD_MAX_FANOUT"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range keys {
				t.Setenv(k, tt.env[k])
			}
			assert.Equal(t, tt.want, *LoadConfig())
		})
	}
}
