package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Getters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ctx     *Context
		version string
		date    string
		system  string
	}{
		{name: "nil context", ctx: nil, version: UnknownValue, date: UnknownValue, system: UnknownValue},
		{name: "empty fields", ctx: &Context{}, version: UnknownValue, date: UnknownValue, system: UnknownValue},
		{
			name:    "populated",
			ctx:     NewContext("1.2.0-beta.1", "2026-10-01", "sys-1"),
			version: "1.2.0-beta.1",
			date:    "2026-10-01",
			system:  "sys-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.date, tt.ctx.GetBuildDate())
			assert.Equal(t, tt.system, tt.ctx.GetSystemID())
		})
	}
}

func TestNewContext_GeneratesSystemID(t *testing.T) {
	t.Parallel()

	a := NewContext("1.0.0", "", "")
	b := NewContext("1.0.0", "", "")
	assert.NotEqual(t, UnknownValue, a.GetSystemID())
	assert.NotEqual(t, a.GetSystemID(), b.GetSystemID())
	assert.Equal(t, UnknownValue, a.GetBuildDate())
	assert.Equal(t, "scanrelay@1.0.0", a.Release())
}

func TestContext_ImplementsBuildInfo(t *testing.T) {
	t.Parallel()
	var _ BuildInfo = (*Context)(nil)
}
