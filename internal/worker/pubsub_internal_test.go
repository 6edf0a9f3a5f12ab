package worker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUndeliverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "success", err: nil, want: false},
		{name: "unknown job", err: fmt.Errorf("%w: %q", ErrUnknownJob, "provider_refresh"), want: true},
		{name: "not configured", err: fmt.Errorf("%w: %s", ErrJobNotConfigured, JobMirrorSync), want: true},
		{name: "job failure", err: errors.New("mirror sync: upstream unavailable"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, undeliverable(tt.err))
		})
	}
}
