package mbus

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonaz/gombus"
	"github.com/nergy-se/airahome/pkg/api/v1/meter"
	"github.com/sirupsen/logrus"
)

// record positions of the values we use, per meter model
var models = map[string]map[string]int{
	"garo-GNM3D-MBUS": {
		"wh":  0,
		"w":   2,
		"vll": 6,
		"vln": 7,
		"l1a": 8,
		"l2a": 9,
		"l3a": 10,
	},
}

func Supported(model string) bool {
	_, ok := models[model]
	return ok
}

// Mbus reads an energy meter over a serial M-Bus master.
type Mbus struct {
	device string
	conn   gombus.Conn
	mutex  *sync.Mutex
}

func New(device string) *Mbus {
	return &Mbus{
		device: device,
		mutex:  &sync.Mutex{},
	}
}

func (m *Mbus) init() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.conn != nil {
		return nil
	}
	c, err := gombus.DialSerial(m.device)
	if err != nil {
		return err
	}
	m.conn = c
	return nil
}

func (m *Mbus) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}

func (m *Mbus) ReadValues(model, idStr string) (*meter.Data, error) {
	if !Supported(model) {
		return nil, fmt.Errorf("unsupported meter model %q", model)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid primary id %q: %w", idStr, err)
	}
	err = m.init()
	if err != nil {
		return nil, err
	}

	values, err := m.read(id)
	if err != nil {
		// reopen the serial port on the next read
		if cerr := m.Close(); cerr != nil {
			logrus.Warnf("mbus: error closing %s: %s", m.device, cerr)
		}
		return nil, err
	}

	return dataFromValues(model, idStr, values, time.Now())
}

func dataFromValues(model, id string, values []float64, now time.Time) (*meter.Data, error) {
	positions := models[model]
	get := func(name string) (float64, error) {
		i := positions[name]
		if i >= len(values) {
			return 0, fmt.Errorf("meter %s: record %d (%s) missing, frame has %d records", model, i, name, len(values))
		}
		return values[i], nil
	}

	data := &meter.Data{
		Id:    id,
		Model: model,
		Time:  now,
	}
	fields := []struct {
		name string
		dst  *float64
	}{
		{"wh", &data.Total_WH},
		{"w", &data.Current_W},
		{"vll", &data.Current_VLL},
		{"vln", &data.Current_VLN},
		{"l1a", &data.L1_A},
		{"l2a", &data.L2_A},
		{"l3a", &data.L3_A},
	}
	var err error
	for _, f := range fields {
		*f.dst, err = get(f.name)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (m *Mbus) read(primaryAddr int) ([]float64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, err := m.conn.Write(gombus.SndNKE(uint8(primaryAddr)))
	if err != nil {
		return nil, err
	}

	err = m.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	if err != nil {
		return nil, err
	}

	_, err = gombus.ReadSingleCharFrame(m.conn)
	if err != nil {
		return nil, err
	}

	frame, err := gombus.ReadSingleFrame(m.conn, primaryAddr)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(frame.DataRecords))
	for i, r := range frame.DataRecords {
		values[i] = r.Value
	}
	return values, nil
}
