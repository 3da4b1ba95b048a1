package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/goburrow/modbus"
	"github.com/nergy-se/airahome/pkg/modbusclient"
	"github.com/nergy-se/airahome/pkg/transport/modbusbridge"
)

// modc reads or writes a single register on a Modbus gateway, for finding the
// locations to put in the register map.
func main() {
	address := flag.String("addr", "", "tcp modbus address")
	loc := flag.String("loc", "", "register location, kind:address/scale, for example holding:10/10")
	slaveID := flag.Int("slave", 1, "modbus slave id")
	value := flag.Float64("value", 0, "value to write, scaled by the location scale")
	flag.Parse()

	l, err := modbusbridge.ParseLocation(*loc)
	if err != nil {
		log.Fatal(err)
	}

	handler := modbus.NewTCPClientHandler(*address)
	handler.SlaveId = byte(*slaveID)
	handler.Timeout = 5 * time.Second
	defer handler.Close()
	client := modbusclient.New(modbus.NewClient(handler), func(err error) {
		log.Println("link broken: ", err)
	})

	if isFlagPassed("value") {
		if l.Kind != modbusclient.Holding || l.Words != 1 {
			log.Fatalf("can only write single holding registers, got %s", l)
		}
		raw := int(*value * l.Scale)
		err = client.WriteSingleRegister(l.Address, raw)
		if err != nil {
			log.Fatal("error was: ", err)
		}
		log.Printf("wrote %d to %s", raw, l)
		return
	}

	raw, err := client.Read(l.Kind, l.Address, l.Words)
	if err != nil {
		log.Fatal("error was: ", err)
	}
	fmt.Printf("raw: %d\n", raw)
	log.Println("value is: ", float64(raw)/l.Scale)
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
