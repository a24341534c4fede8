package audioio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestWriteChunked(t *testing.T) {
	t.Run("writes all chunks and pads the tail with silence", func(t *testing.T) {
		buf := make([]int16, 4)
		samples := []int16{1, 2, 3, 4, 5, 6}

		var gen atomic.Int64
		var chunks [][]int16
		write := func() error {
			chunk := make([]int16, len(buf))
			copy(chunk, buf)
			chunks = append(chunks, chunk)
			return nil
		}

		if err := writeChunked(context.Background(), samples, buf, write, &gen, 0); err != nil {
			t.Fatalf("writeChunked failed: %v", err)
		}
		if len(chunks) != 2 {
			t.Fatalf("device writes = %d, want 2", len(chunks))
		}
		if got := chunks[0]; got[0] != 1 || got[3] != 4 {
			t.Errorf("first chunk = %v", got)
		}
		if got := chunks[1]; got[0] != 5 || got[1] != 6 || got[2] != 0 || got[3] != 0 {
			t.Errorf("tail chunk = %v, want silence padding", got)
		}
	})

	t.Run("stops mid-frame when cleared", func(t *testing.T) {
		buf := make([]int16, 4)
		samples := make([]int16, 40) // 10 chunks

		var gen atomic.Int64
		calls := 0
		write := func() error {
			calls++
			if calls == 3 {
				// Barge-in while the frame is rendering.
				gen.Add(1)
			}
			return nil
		}

		if err := writeChunked(context.Background(), samples, buf, write, &gen, 0); err != nil {
			t.Fatalf("writeChunked failed: %v", err)
		}
		if calls != 3 {
			t.Errorf("device writes = %d, want 3 (remaining chunks cut)", calls)
		}
	})

	t.Run("aborted device write is not an error", func(t *testing.T) {
		buf := make([]int16, 4)
		samples := make([]int16, 16)

		var gen atomic.Int64
		write := func() error {
			// Abort lands while the device write is blocked.
			gen.Add(1)
			return errors.New("stream stopped")
		}

		if err := writeChunked(context.Background(), samples, buf, write, &gen, 0); err != nil {
			t.Errorf("writeChunked after abort = %v, want nil", err)
		}
	})

	t.Run("device error surfaces when not cut", func(t *testing.T) {
		buf := make([]int16, 4)
		samples := make([]int16, 16)

		var gen atomic.Int64
		wantErr := errors.New("underflow")
		write := func() error { return wantErr }

		err := writeChunked(context.Background(), samples, buf, write, &gen, 0)
		if !errors.Is(err, wantErr) {
			t.Errorf("writeChunked error = %v, want %v", err, wantErr)
		}
	})

	t.Run("canceled context stops the frame", func(t *testing.T) {
		buf := make([]int16, 4)
		samples := make([]int16, 16)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var gen atomic.Int64
		calls := 0
		write := func() error {
			calls++
			return nil
		}

		if err := writeChunked(ctx, samples, buf, write, &gen, 0); err == nil {
			t.Error("expected context error")
		}
		if calls != 0 {
			t.Errorf("device writes = %d, want 0", calls)
		}
	})
}
