package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sophgo/dwmac/internal/dma"
)

func newTestRing(t *testing.T, kind Kind, n int) *Ring {
	t.Helper()
	mem := make([]byte, n*DescSize)
	r, err := New(kind, mem, 0x8000, n)
	require.NoError(t, err)
	return r
}

func txData(addr uint64, length int, cookie any) SlotData {
	return SlotData{
		Handle: dma.Handle{Addr: addr, Size: length, Dir: dma.ToDevice},
		Length: length,
		Flags:  Whole,
		Cookie: cookie,
	}
}

// hwComplete plays the DMA engine: it writes status with OWN cleared.
func hwComplete(r *Ring, i int, status uint32) {
	r.desc(i).Publish(status &^ Des3OWN)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Transmit, make([]byte, 64), 0, 1)
	assert.Error(t, err)
	_, err = New(Transmit, make([]byte, 16), 0, 4)
	assert.Error(t, err)

	r, err := New(Receive, make([]byte, 128), 0x1000, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, uint64(0x1030), r.Addr(3))
	assert.Equal(t, "rx", r.Kind().String())
}

func TestPushUntilFull(t *testing.T) {
	r := newTestRing(t, Transmit, 5)

	for i := 0; i < 4; i++ {
		idx, err := r.Push(txData(uint64(0x100*(i+1)), 60+i, i))
		require.NoError(t, err)
		assert.Equal(t, i, idx)
		assert.Equal(t, Hardware, r.Owner(idx))
	}
	assert.Equal(t, 4, r.InFlight())

	head, tail := r.Head(), r.Tail()
	_, err := r.Push(txData(0x900, 60, nil))
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, head, r.Head(), "a rejected push leaves the ring untouched")
	assert.Equal(t, tail, r.Tail())
	assert.Equal(t, Software, r.Owner(4), "the spare slot is never handed out")
}

func TestTransmitDescriptorEncoding(t *testing.T) {
	r := newTestRing(t, Transmit, 4)
	_, err := r.Push(txData(0x1_2345_6780, 1514, nil))
	require.NoError(t, err)

	d := r.desc(0)
	assert.Equal(t, uint32(0x23456780), d.Word(0))
	assert.Equal(t, uint32(0x1), d.Word(1))
	assert.Equal(t, Des2IOC|1514, d.Word(2))
	assert.Equal(t, Des3OWN|Des3FD|Des3LD|1514, d.Status())
}

func TestReceiveDescriptorEncoding(t *testing.T) {
	r := newTestRing(t, Receive, 4)
	_, err := r.Push(SlotData{Handle: dma.Handle{Addr: 0x4000, Size: 1536}, Length: 1536})
	require.NoError(t, err)

	d := r.desc(0)
	assert.Equal(t, uint64(0x4000), d.Addr())
	assert.Zero(t, d.Word(2))
	assert.Equal(t, Des3OWN|Des3RxIOC|Des3RxBUF1V, d.Status())

	hwComplete(r, 0, Des3FD|Des3LD|128)
	s, ok := r.Peek()
	require.True(t, ok)
	assert.Equal(t, Software, s.Owner)
	assert.Equal(t, 128, s.Length, "length comes from the write-back word")
	assert.Equal(t, Whole, s.Flags)
}

func TestPeekAdvance(t *testing.T) {
	r := newTestRing(t, Transmit, 4)

	_, ok := r.Peek()
	assert.False(t, ok)
	_, err := r.Advance()
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = r.Push(txData(0x100, 64, "a"))
	require.NoError(t, err)
	_, err = r.Push(txData(0x200, 64, "b"))
	require.NoError(t, err)

	s, ok := r.Peek()
	require.True(t, ok)
	assert.Equal(t, Hardware, s.Owner)
	assert.Equal(t, 0, s.Index)

	_, err = r.Advance()
	assert.ErrorIs(t, err, ErrHardwareOwned)
	assert.Equal(t, 0, r.Tail())

	hwComplete(r, 0, Des3FD|Des3LD)
	s, err = r.Advance()
	require.NoError(t, err)
	assert.Equal(t, "a", s.Cookie)
	assert.Equal(t, uint64(0x100), s.Handle.Addr)
	assert.Equal(t, 1, r.Tail())
	assert.Equal(t, 1, r.InFlight())
	assert.Zero(t, r.desc(0).Status(), "reclaimed descriptors are cleared")
}

func TestWrapAround(t *testing.T) {
	r := newTestRing(t, Transmit, 3)
	for round := 0; round < 10; round++ {
		i, err := r.Push(txData(uint64(0x100+round), 64, round))
		require.NoError(t, err)
		hwComplete(r, i, 0)
		s, err := r.Advance()
		require.NoError(t, err)
		assert.Equal(t, round, s.Cookie)
		assert.Equal(t, round%3, s.Index)
	}
	assert.Zero(t, r.InFlight())
}

func TestReset(t *testing.T) {
	r := newTestRing(t, Receive, 4)
	for i := 0; i < 3; i++ {
		_, err := r.Push(SlotData{Handle: dma.Handle{Addr: uint64(0x1000 * (i + 1))}, Cookie: i})
		require.NoError(t, err)
	}
	hwComplete(r, 0, Des3FD|Des3LD|60)
	_, err := r.Advance()
	require.NoError(t, err)

	dropped := r.Reset()
	require.Len(t, dropped, 2)
	assert.Equal(t, 1, dropped[0].Cookie)
	assert.Equal(t, 2, dropped[1].Cookie)
	assert.Equal(t, Hardware, dropped[0].Owner)
	assert.Zero(t, r.Head())
	assert.Zero(t, r.Tail())
	for i := 0; i < r.Len(); i++ {
		assert.Equal(t, Software, r.Owner(i))
	}
}

// TestConcurrentHardware runs a device goroutine that completes slots while
// software keeps the ring full. Run with -race to check ownership ordering.
func TestConcurrentHardware(t *testing.T) {
	const frames = 2000
	r := newTestRing(t, Transmit, 8)

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		i := 0
		for {
			d := r.desc(i)
			st := d.Status()
			if st&Des3OWN == 0 {
				select {
				case <-done:
					return
				default:
					continue
				}
			}
			if d.Word(2)&Des2B1LMask != st&Des3FLMask {
				panic("hardware observed a partially written descriptor")
			}
			d.Publish(st &^ Des3OWN)
			i = (i + 1) % r.Len()
		}
	}()

	sent, reclaimed := 0, 0
	for reclaimed < frames {
		if sent < frames {
			if _, err := r.Push(txData(uint64(0x1000+sent), 60+sent%1000, sent)); err == nil {
				sent++
			} else {
				require.ErrorIs(t, err, ErrFull)
			}
		}
		if s, ok := r.Peek(); ok && s.Owner == Software {
			s, err := r.Advance()
			require.NoError(t, err)
			require.Equal(t, reclaimed, s.Cookie)
			reclaimed++
		}
		require.LessOrEqual(t, r.InFlight(), r.Cap())
	}
	close(done)
	wg.Wait()
}
