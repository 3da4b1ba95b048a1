package modbusclient

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	Input   Kind = "input"
	Holding Kind = "holding"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Input, Holding:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown register kind %q", s)
}

type Client interface {
	// Read reads words consecutive registers and decodes them as one signed big endian value.
	Read(kind Kind, address, words uint16) (int, error)
	WriteSingleRegister(address uint16, value int) error
}

type client struct {
	client modbus.Client
	broken func(error)
}

// New wraps c. broken is called with the failing error when the link to the
// gateway is found to be gone.
func New(c modbus.Client, broken func(error)) Client {
	return &client{
		client: c,
		broken: broken,
	}
}

// IsBrokenLink reports if err means the TCP connection is unusable and must be
// reopened before the next request.
func IsBrokenLink(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *client) closeIfNeeded(e error) {
	if e == nil || !IsBrokenLink(e) {
		return
	}
	logrus.Warnf("modbusclient: link lost: %s", e)
	if c.broken != nil {
		c.broken(e)
	}
}

func (c *client) Read(kind Kind, address, words uint16) (int, error) {
	var b []byte
	var err error
	switch kind {
	case Input:
		b, err = c.client.ReadInputRegisters(address, words)
	case Holding:
		b, err = c.client.ReadHoldingRegisters(address, words)
	default:
		return 0, fmt.Errorf("unknown register kind %q", kind)
	}
	if err != nil {
		c.closeIfNeeded(err)
		return 0, fmt.Errorf("error reading %s address %d: %w", kind, address, err)
	}
	return Decode(b), nil
}

func (c *client) WriteSingleRegister(address uint16, value int) error {
	if value < -32768 || value > 65535 {
		return fmt.Errorf("value %d does not fit in a register", value)
	}
	_, err := c.client.WriteSingleRegister(address, uint16(value))
	if err != nil {
		c.closeIfNeeded(err)
		return fmt.Errorf("error writing address %d value %d error: %w", address, value, err)
	}
	return nil
}

// Decode High byte first high word first (big endian)
func Decode(data []byte) int {
	switch len(data) {
	case 1:
		var i int8
		binary.Read(bytes.NewBuffer(data), binary.BigEndian, &i)
		return int(i)
	case 2:
		var i int16
		binary.Read(bytes.NewBuffer(data), binary.BigEndian, &i)
		return int(i)
	case 4:
		var i int32
		binary.Read(bytes.NewBuffer(data), binary.BigEndian, &i)
		return int(i)
	case 8:
		var i int64
		binary.Read(bytes.NewBuffer(data), binary.BigEndian, &i)
		return int(i)
	}
	return 0
}
