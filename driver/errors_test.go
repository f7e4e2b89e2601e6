package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"40001", ErrConflict},
		{"40P01", ErrConflict},
		{"55P03", ErrConflict},
		{"23505", ErrConflict},
		{"08006", ErrUnavailable},
		{"57P01", ErrUnavailable},
		{"57014", nil},
		{"23503", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCode(tt.code))
		})
	}
}
