package reaper

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/printdialog/printdialog/internal/session"
)

func TestReapOnce(t *testing.T) {
	reg := session.NewRegistry()
	alive, _ := reg.GetOrCreate("alive")
	alive.SetPID(100)
	dead, _ := reg.GetOrCreate("dead")
	dead.SetPID(200)
	pinned, _ := reg.GetOrCreate("pinned")
	pinned.SetPID(200)
	pinned.SetKeepAlive()
	reg.GetOrCreate("no-pid")
	flaky, _ := reg.GetOrCreate("flaky")
	flaky.SetPID(300)

	r := New(reg, 0, zerolog.Nop())
	r.exists = func(_ context.Context, pid int32) (bool, error) {
		switch pid {
		case 100:
			return true, nil
		case 300:
			return false, errors.New("permission denied")
		}
		return false, nil
	}

	assert.Equal(t, 1, r.ReapOnce(context.Background()))

	_, ok := reg.Find("dead")
	assert.False(t, ok, "dialog with exited frontend still registered")
	for _, id := range []string{"alive", "pinned", "no-pid", "flaky"} {
		_, ok := reg.Find(id)
		assert.True(t, ok, "dialog %s was reaped", id)
	}
	assert.True(t, dead.Token().Cancelled())
}

func TestReapRealProcess(t *testing.T) {
	reg := session.NewRegistry()
	self, _ := reg.GetOrCreate("self")
	self.SetPID(int32(os.Getpid()))

	r := New(reg, 0, zerolog.Nop())
	assert.Zero(t, r.ReapOnce(context.Background()))
	assert.Equal(t, 1, reg.Len())
}
