package pool

import "testing"

func TestFixedBufferPool(t *testing.T) {
	const size = 4096
	p := NewFixedBuffer(size)

	if p.Size() != size {
		t.Fatalf("expected size %d, got %d", size, p.Size())
	}

	b := p.Get()
	if len(*b) != size || cap(*b) != size {
		t.Fatalf("expected len and cap %d, got len=%d cap=%d", size, len(*b), cap(*b))
	}

	// A shrunk slice must come back full length on the next Get.
	*b = (*b)[:10]
	p.Put(b)
	b2 := p.Get()
	if len(*b2) != size {
		t.Errorf("expected buffer to be reset to %d, got %d", size, len(*b2))
	}

	// Foreign buffers are silently dropped.
	foreign := make([]byte, 100)
	p.Put(&foreign)
	p.Put(nil)
}

func TestNewFixedBuffer_PanicsOnInvalidSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero size")
		}
	}()
	NewFixedBuffer(0)
}
