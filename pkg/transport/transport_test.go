package transport

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("fetch state", nil))

	err := Wrap("fetch state", io.EOF)
	var te *Error
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, "fetch state", te.Op)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "transport fetch state: EOF", err.Error())

	// already wrapped errors keep their original op
	assert.Equal(t, err, Wrap("connect", err))
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver(map[string]string{"dev1": "AA:BB:CC:DD:EE:FF"})

	addr, err := r.Resolve(context.Background(), "dev1")
	assert.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", addr)

	_, err = r.Resolve(context.Background(), "dev2")
	assert.ErrorIs(t, err, ErrNotDiscoverable)

	r.Set("dev1", "")
	_, err = r.Resolve(context.Background(), "dev1")
	assert.ErrorIs(t, err, ErrNotDiscoverable)

	r.Set("dev2", "10.0.0.2:502")
	addr, err = r.Resolve(context.Background(), "dev2")
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.2:502", addr)
}
