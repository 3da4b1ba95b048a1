package mqtt

import (
	"encoding/json"
	"time"

	"github.com/nergy-se/airahome/pkg/api/v1/meter"
	"github.com/sirupsen/logrus"
)

// P1ibTopic is where a P1ib reader publishes the electricity meter telegram.
const P1ibTopic = "p1ib/sensor_state"

// P1ib is the sensor state of a P1ib reader. Power is in kW, energy in kWh.
type P1ib struct {
	P1IbHourlyActiveImportQ1Q4 float64 `json:"p1ib_hourly_active_import_q1_q4"`
	P1IbHourlyActiveExportQ2Q3 float64 `json:"p1ib_hourly_active_export_q2_q3"`
	P1IbActivePowerPlusQ1Q4    float64 `json:"p1ib_active_power_plus_q1_q4"`
	P1IbActivePowerMinusQ2Q3   float64 `json:"p1ib_active_power_minus_q2_q3"`
	P1IbVoltageL1              float64 `json:"p1ib_voltage_l1"`
	P1IbVoltageL2              float64 `json:"p1ib_voltage_l2"`
	P1IbVoltageL3              float64 `json:"p1ib_voltage_l3"`
	P1IbCurrentL1              float64 `json:"p1ib_current_l1"`
	P1IbCurrentL2              float64 `json:"p1ib_current_l2"`
	P1IbCurrentL3              float64 `json:"p1ib_current_l3"`
	P1IbFirmware               string  `json:"p1ib_firmware"`
	P1IbRssi                   string  `json:"p1ib_rssi"`
	P1IbMeter                  string  `json:"p1ib_meter"`
}

func (p P1ib) AsMeterData(id string, t time.Time) *meter.Data {
	return &meter.Data{
		Id:          id,
		Model:       "p1ib",
		Time:        t,
		Current_W:   (p.P1IbActivePowerPlusQ1Q4 - p.P1IbActivePowerMinusQ2Q3) * 1000,
		Current_VLN: p.P1IbVoltageL1,
		Total_WH:    p.P1IbHourlyActiveImportQ1Q4 * 1000,
		L1_A:        p.P1IbCurrentL1,
		L2_A:        p.P1IbCurrentL2,
		L3_A:        p.P1IbCurrentL3,
		L1_V:        p.P1IbVoltageL1,
		L2_V:        p.P1IbVoltageL2,
		L3_V:        p.P1IbVoltageL3,
	}
}

// SubscribeP1ib keeps cache updated with readings from a P1ib reader.
func SubscribeP1ib(broker Broker, cache *meter.Cache, id string) error {
	return broker.Subscribe(P1ibTopic, func(topic string, payload []byte) {
		p := P1ib{}
		err := json.Unmarshal(payload, &p)
		if err != nil {
			logrus.WithField("topic", topic).Errorf("mqtt: error decoding p1ib payload: %s", err)
			return
		}
		cache.Set(p.AsMeterData(id, time.Now()))
	})
}
