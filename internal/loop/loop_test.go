package loop

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	log, _ := test.NewNullLogger()
	l := New(log.WithField("component", "loop"))
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l, cancel
}

func TestCallRunsInOrder(t *testing.T) {
	l, _ := startLoop(t)
	var seen []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { seen = append(seen, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() error { return nil }))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestCallReturnsError(t *testing.T) {
	l, _ := startLoop(t)
	want := errors.New("nope")
	assert.Equal(t, want, l.Call(context.Background(), func() error { return want }))
}

func TestPanicDoesNotStopLoop(t *testing.T) {
	l, _ := startLoop(t)
	l.Post(func() { panic("bad state") })
	assert.NoError(t, l.Call(context.Background(), func() error { return nil }))
}

func TestStoppedLoopRejectsWork(t *testing.T) {
	l, cancel := startLoop(t)
	cancel()
	<-l.done
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() error { return nil }), ErrStopped)
}

func TestAfterFuncFiresOnLoop(t *testing.T) {
	l, _ := startLoop(t)
	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestAfterFuncStop(t *testing.T) {
	l, _ := startLoop(t)
	fired := false
	stop := l.AfterFunc(50*time.Millisecond, func() { fired = true })
	stop()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, l.Call(context.Background(), func() error { return nil }))
	assert.False(t, fired)
}
