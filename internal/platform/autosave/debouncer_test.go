package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	writes map[string][]int
	fail   int
}

func newRecorder() *recorder {
	return &recorder{writes: make(map[string][]int)}
}

func (r *recorder) flush(_ context.Context, key string, v int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("database unavailable")
	}
	r.writes[key] = append(r.writes[key], v)
	return nil
}

// slowFlush writes like flush after a short pause, leaving room for a close
// to race the write.
func (r *recorder) slowFlush(ctx context.Context, key string, v int) error {
	time.Sleep(5 * time.Millisecond)
	return r.flush(ctx, key, v)
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.writes {
		n += len(w)
	}
	return n
}

func (r *recorder) get(key string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.writes[key]...)
}

func testOptions() Options {
	return Options{Delay: 20 * time.Millisecond, RetryDelay: 20 * time.Millisecond, Logger: zerolog.Nop()}
}

func TestDebouncer_CoalescesEdits(t *testing.T) {
	rec := newRecorder()
	d := NewDebouncer(rec.flush, testOptions())

	for i := 1; i <= 10; i++ {
		require.NoError(t, d.Touch("a1", i))
		time.Sleep(2 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return len(rec.get("a1")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{10}, rec.get("a1"), "only the latest value is written")
	assert.Equal(t, 0, d.Len())
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	rec := newRecorder()
	d := NewDebouncer(rec.flush, testOptions())

	require.NoError(t, d.Touch("a1", 1))
	require.NoError(t, d.Touch("a2", 2))

	assert.Eventually(t, func() bool {
		return len(rec.get("a1")) == 1 && len(rec.get("a2")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncer_RetriesFailedFlush(t *testing.T) {
	rec := newRecorder()
	rec.fail = 2
	d := NewDebouncer(rec.flush, testOptions())

	require.NoError(t, d.Touch("a1", 7))

	v, ok := d.Pending("a1")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	assert.Eventually(t, func() bool { return len(rec.get("a1")) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{7}, rec.get("a1"))
	_, ok = d.Pending("a1")
	assert.False(t, ok)
}

func TestDebouncer_FlushWritesImmediately(t *testing.T) {
	rec := newRecorder()
	opts := testOptions()
	opts.Delay = time.Hour
	d := NewDebouncer(rec.flush, opts)

	require.NoError(t, d.Touch("a1", 1))
	require.NoError(t, d.Touch("a2", 2))
	require.NoError(t, d.Flush(context.Background()))

	assert.Equal(t, []int{1}, rec.get("a1"))
	assert.Equal(t, []int{2}, rec.get("a2"))
	assert.Equal(t, 0, d.Len())
}

func TestDebouncer_FlushKeepsFailedValues(t *testing.T) {
	rec := newRecorder()
	rec.fail = 1
	opts := testOptions()
	opts.Delay = time.Hour
	opts.RetryDelay = time.Hour
	d := NewDebouncer(rec.flush, opts)

	require.NoError(t, d.Touch("a1", 3))
	err := d.Flush(context.Background())
	require.Error(t, err)

	v, ok := d.Pending("a1")
	assert.True(t, ok, "a failed write must not lose the edit")
	assert.Equal(t, 3, v)

	require.NoError(t, d.Flush(context.Background()))
	assert.Equal(t, []int{3}, rec.get("a1"))
}

func TestDebouncer_CloseRejectsTouch(t *testing.T) {
	rec := newRecorder()
	opts := testOptions()
	opts.Delay = time.Hour
	d := NewDebouncer(rec.flush, opts)

	require.NoError(t, d.Touch("a1", 1))
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, []int{1}, rec.get("a1"))
	assert.ErrorIs(t, d.Touch("a1", 2), ErrClosed)
}

func TestDebouncer_CloseWhileTimersFire(t *testing.T) {
	rec := newRecorder()
	opts := testOptions()
	d := NewDebouncer(rec.slowFlush, opts)

	for i := 0; i < 20; i++ {
		require.NoError(t, d.Touch(fmt.Sprintf("a%d", i), i))
	}
	time.Sleep(opts.Delay - 2*time.Millisecond)
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 20, rec.total(), "every value is written before Close returns")
	assert.Equal(t, 0, d.Len())
	time.Sleep(3 * opts.Delay)
	assert.Equal(t, 20, rec.total(), "no write may start after Close")
	for i := 0; i < 20; i++ {
		assert.Equal(t, []int{i}, rec.get(fmt.Sprintf("a%d", i)))
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	rec := newRecorder()
	d := NewDebouncer(rec.flush, testOptions())

	require.NoError(t, d.Touch("a1", 1))
	d.Cancel("a1")
	time.Sleep(60 * time.Millisecond)

	assert.Empty(t, rec.get("a1"))
}
