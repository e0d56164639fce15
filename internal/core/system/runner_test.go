package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r recorder) Phase() Phase           { return r.phase }
func (r recorder) Update(_ time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunner_PhaseOrderThenRegistrationOrder(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{"cleanup", PhaseCleanup, &log})
	r.Register(recorder{"equip", PhaseUpdate, &log})
	r.Register(recorder{"input", PhaseInput, &log})
	r.Register(recorder{"equip-after", PhaseUpdate, &log})

	r.Tick(200 * time.Millisecond)
	assert.Equal(t, []string{"input", "equip", "equip-after", "cleanup"}, log)
	assert.EqualValues(t, 1, r.Ticks())
	assert.Equal(t, "Update", PhaseUpdate.String())
}
