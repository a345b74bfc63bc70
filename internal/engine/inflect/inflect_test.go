package inflect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingular(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"orders", "order"},
		{"categories", "category"},
		{"addresses", "address"},
		{"boxes", "box"},
		{"branches", "branch"},
		{"people", "person"},
		{"status", "status"},
		{"class", "class"},
		{"region", "region"},
		{"Customers", "customer"},
		{"s", "s"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Singular(tt.in))
		})
	}
}
