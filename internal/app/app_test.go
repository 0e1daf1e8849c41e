package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tgfleet/internal/runtime/supervisor"
)

func TestPanickingBulkRunLeavesAppRunning(t *testing.T) {
	t.Parallel()

	a := &App{sup: supervisor.New(context.Background(), supervisor.WithCancelOnError(true))}
	done := make(chan struct{})
	a.goBackground("bulk.join", func(ctx context.Context) {
		defer close(done)
		panic("boom in one account")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bulk run did not finish")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.sup.Wait(ctx))

	select {
	case <-a.Done():
		t.Fatal("app context canceled by one bulk run")
	default:
	}
	require.NoError(t, a.Err())
}

func TestFirstNonEmpty(t *testing.T) {
	t.Parallel()
	require.Equal(t, "file", firstNonEmpty("  ", "file"))
	require.Equal(t, "sqlite", firstNonEmpty(" sqlite ", "file"))
}
