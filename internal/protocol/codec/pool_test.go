package codec

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessagePool_GetPut(t *testing.T) {
	t.Parallel()

	msg := GetMessage()
	assert.NotNil(t, msg)

	msg.Type = "test"
	msg.Payload = []byte("data")
	PutMessage(msg)

	msg2 := GetMessage()
	assert.NotNil(t, msg2)
	assert.Empty(t, msg2.Type)
	assert.Nil(t, msg2.Payload)
}

func TestMessagePool_PutNil(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		PutMessage(nil)
		PutBuffer(nil)
	})
}

func TestBufferPool_ResetOnPut(t *testing.T) {
	t.Parallel()

	buf := GetBuffer()
	buf.WriteString("hello")
	PutBuffer(buf)

	buf2 := GetBuffer()
	assert.Equal(t, 0, buf2.Len())
	PutBuffer(buf2)
}

func TestPools_Concurrent(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := GetMessage()
			msg.Type = "danmaku"
			PutMessage(msg)

			buf := GetBuffer()
			buf.WriteString("x")
			PutBuffer(buf)
		}()
	}
	wg.Wait()
}
