package dummy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nergy-se/airahome/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Dummy is a simulated heat pump. Link failures and alarms are injected over HTTP.
type Dummy struct {
	connected    bool
	failFetch    bool
	failConnects int
	alarms       []string
	hotWater     float64
	target       float64
	energyWh     float64
	rssi         int
	sync.Mutex
}

func New() *Dummy {
	return &Dummy{
		connected: true,
		hotWater:  47.5,
		target:    50,
		energyWh:  1250000,
		rssi:      -62,
	}
}

// Handler returns the fault injection endpoints.
func (d *Dummy) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/alarm", func(w http.ResponseWriter, req *http.Request) {
		msg := req.URL.Query().Get("message")
		if msg == "" {
			d.Lock()
			fmt.Fprintf(w, "active alarms: %s", strings.Join(d.alarms, "|"))
			d.Unlock()
			return
		}
		logrus.Infof("dummy: adding alarm with %s", msg)
		d.Lock()
		d.alarms = append(d.alarms, msg)
		d.Unlock()
		fmt.Fprintf(w, "adding alarm with %s\n", msg)
	})
	mux.HandleFunc("/resetalarms", func(w http.ResponseWriter, req *http.Request) {
		d.Lock()
		d.alarms = nil
		d.Unlock()
		fmt.Fprintf(w, "alarms reset\n")
	})
	mux.HandleFunc("/disconnect", func(w http.ResponseWriter, req *http.Request) {
		d.Lock()
		d.failFetch = true
		d.connected = false
		d.Unlock()
		logrus.Info("dummy: link dropped")
		fmt.Fprintf(w, "disconnected\n")
	})
	mux.HandleFunc("/fail-connect", func(w http.ResponseWriter, req *http.Request) {
		count, err := strconv.Atoi(req.URL.Query().Get("count"))
		if err != nil || count < 0 {
			http.Error(w, "count must be a non negative integer", http.StatusBadRequest)
			return
		}
		d.Lock()
		d.failConnects = count
		d.Unlock()
		fmt.Fprintf(w, "next %d connects will fail\n", count)
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, req *http.Request) {
		d.Lock()
		defer d.Unlock()
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]interface{}{
			"connected":    d.connected,
			"failConnects": d.failConnects,
			"alarms":       d.alarms,
			"target":       d.target,
		})
		if err != nil {
			logrus.Error(err)
		}
	})
	return mux
}

// ListenAndServe serves Handler on addr until ctx is done.
func (d *Dummy) ListenAndServe(ctx context.Context, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logrus.Error(err)
	}
}

func (d *Dummy) Connect(ctx context.Context, address string, timeout time.Duration) error {
	d.Lock()
	defer d.Unlock()
	if d.failConnects > 0 {
		d.failConnects--
		return fmt.Errorf("dummy: device %s not responding", address)
	}
	d.connected = true
	d.failFetch = false
	logrus.Infof("dummy: connected to %s", address)
	return nil
}

func (d *Dummy) Disconnect(ctx context.Context) error {
	d.Lock()
	d.connected = false
	d.Unlock()
	return nil
}

func (d *Dummy) IsConnected() bool {
	d.Lock()
	defer d.Unlock()
	return d.connected
}

func (d *Dummy) SignalStrength(ctx context.Context) (*int, error) {
	d.Lock()
	defer d.Unlock()
	rssi := d.rssi - rand.Intn(5)
	return &rssi, nil
}

func (d *Dummy) SetHotWaterTemperature(ctx context.Context, temperature float64) error {
	d.Lock()
	defer d.Unlock()
	if !d.connected {
		return transport.ErrNotConnected
	}
	logrus.Info("dummy: SetHotWaterTemperature: ", temperature)
	d.target = temperature
	return nil
}

func (d *Dummy) check() error {
	if d.failFetch || !d.connected {
		return transport.ErrNotConnected
	}
	return nil
}

func (d *Dummy) FetchState(ctx context.Context) (map[string]interface{}, error) {
	d.Lock()
	defer d.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}

	// drift towards the target
	if d.hotWater < d.target {
		d.hotWater += 0.5
	}

	errs := make([]interface{}, 0, len(d.alarms))
	for i, msg := range d.alarms {
		errs = append(errs, map[string]interface{}{
			"code":    fmt.Sprintf("D%d", i+1),
			"message": msg,
		})
	}

	return map[string]interface{}{
		"current_hot_water_temperature": d.hotWater,
		"target_hot_water_temperature":  d.target,
		"current_outdoor_temperature":   4.5,
		"operating_status":              "OPERATING_STATUS_HEATING_DHW",
		"pump_active_state":             "PUMP_ACTIVE_STATE_DHW",
		"allowed_pump_mode_state":       "PUMP_MODE_STATE_HEATING_COOLING",
		"current_pump_mode_state":       map[string]interface{}{"zone1": "PUMP_MODE_STATE_HEATING"},
		"led_pattern":                   "LED_PATTERN_SOLID_GREEN",
		"manual_mode_enabled":           false,
		"night_mode_enabled":            false,
		"away_mode_enabled":             false,
		"inline_heater_active":          false,
		"hot_water":                     map[string]interface{}{"heating_enabled": true},
		"number_of_zones":               2,
		"zone_setpoints_heating":        map[string]interface{}{"zone1": 21.0, "zone2": 19.5},
		"zone_setpoints_cooling":        map[string]interface{}{"zone1": 25.0, "zone2": 25.0},
		"thermostats": []interface{}{
			map[string]interface{}{
				"zone":          "ZONE_1",
				"serial_number": "dummy-1",
				"rssi":          -58,
				"last_update":   map[string]interface{}{"actual_temperature": 212, "humidity": 415},
			},
			map[string]interface{}{
				"zone":          "ZONE_2",
				"serial_number": "dummy-2",
				"rssi":          -71,
				"last_update":   map[string]interface{}{"actual_temperature": 196, "humidity": 388, "warning_low_battery_level": true},
			},
		},
		"error_metadata": map[string]interface{}{
			"hp_has_stopping_alarms":        false,
			"hp_has_acknowledgeable_alarms": len(d.alarms) > 0,
		},
		"errors": errs,
	}, nil
}

func (d *Dummy) FetchSystemCheck(ctx context.Context) (map[string]interface{}, error) {
	d.Lock()
	defer d.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}

	compressor := float64(rand.Intn(100-20) + 20)
	power := 400 + compressor*15
	d.energyWh += power / 120
	return map[string]interface{}{
		"sensor_values": map[string]interface{}{
			"indoor_unit_supply_temperature": 38.2,
			"flow_meter1":                    14.1,
		},
		"megmet_status": map[string]interface{}{
			"compressor_running_speed":  compressor,
			"evaporator_pressure":       6.8,
			"condenser_pressure":        21.4,
			"gas_discharge_temperature": 71.0,
			"outdoor_unit_defrosting":   false,
		},
		"energy_calculation": map[string]interface{}{
			"current_electrical_power_w": power,
			"electrical_energy_cum_wh":   d.energyWh,
			"water_energy_cum_wh":        d.energyWh * 3.4,
			"cop_now":                    3.4,
			"voltage_phase_1":            230.1,
			"current_phase_1":            power / 230.1,
			"current_phase_2":            0.0,
			"current_phase_3":            0.0,
		},
		"circulation_pump_status": map[string]interface{}{"pump0_active": true, "pump1_active": true, "pump2_active": false},
	}, nil
}
