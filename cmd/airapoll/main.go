package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/nergy-se/airahome/pkg/entity"
	"github.com/nergy-se/airahome/pkg/transport"
	"github.com/nergy-se/airahome/pkg/transport/modbusbridge"
)

// airapoll fetches one snapshot through a Modbus gateway and prints it.
func main() {
	address := flag.String("addr", "", "tcp modbus address of the gateway")
	slaveID := flag.Int("slave", 1, "modbus slave id")
	registers := flag.String("registers", "", "register map, section.path=kind:address/scale,...")
	entities := flag.Bool("entities", false, "print entity states instead of the raw payloads")
	timeout := flag.Duration("timeout", 10*time.Second, "connect timeout")
	flag.Parse()

	regs, err := modbusbridge.ParseRegisters(*registers)
	if err != nil {
		log.Fatal(err)
	}
	t := modbusbridge.New(modbusbridge.Config{SlaveID: byte(*slaveID), Registers: regs})

	ctx := context.Background()
	err = t.Connect(ctx, *address, *timeout)
	if err != nil {
		log.Fatal(err)
	}

	c := coordinator.New("airapoll", t, transport.NewStaticResolver(map[string]string{"airapoll": *address}), coordinator.Options{
		CommandDelay: 100 * time.Millisecond,
	})
	defer c.Shutdown(ctx)

	snap, err := c.Poll(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if !snap.Connected {
		log.Fatal("fetch failed, see log output")
	}

	var out interface{} = snap
	if *entities {
		m := make(map[string]interface{})
		for _, s := range entity.Sensors(snap.Values) {
			m[s.Key] = s.State(snap)
		}
		for _, b := range entity.BinarySensors(snap.Values) {
			m[b.Key] = b.State(snap)
		}
		out = m
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	err = enc.Encode(out)
	if err != nil {
		log.Fatal(err)
	}
}
