package modbusbridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nergy-se/airahome/pkg/modbusclient"
)

const (
	SectionState       = "state"
	SectionSystemCheck = "system_check"
)

// Register maps one Modbus register to a key in the state or system check payload.
type Register struct {
	Section string
	Path    []string
	Location
}

// Location is where a value lives on the gateway and how it is scaled.
type Location struct {
	Kind    modbusclient.Kind
	Address uint16
	Words   uint16
	Scale   float64
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d/%g", l.Kind, l.Address, l.Scale)
}

// ParseRegisters parses a comma separated list of section.path=kind:address/scale
// entries, for example "state.current_hot_water_temperature=input:3/10". Kind is
// input or holding, with a 32 suffix for values spanning two registers.
func ParseRegisters(s string) ([]Register, error) {
	var list []Register
	seen := make(map[string]bool)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, loc, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("register %q: missing '='", entry)
		}
		path := strings.Split(strings.TrimSpace(key), ".")
		if len(path) < 2 {
			return nil, fmt.Errorf("register %q: key must be section.name", entry)
		}
		for _, p := range path {
			if p == "" {
				return nil, fmt.Errorf("register %q: empty path element", entry)
			}
		}
		if path[0] != SectionState && path[0] != SectionSystemCheck {
			return nil, fmt.Errorf("register %q: unknown section %q", entry, path[0])
		}
		key = strings.Join(path, ".")
		if seen[key] {
			return nil, fmt.Errorf("register %q: duplicate key", entry)
		}
		// a value cannot also be a map of values
		for other := range seen {
			if strings.HasPrefix(other, key+".") || strings.HasPrefix(key, other+".") {
				return nil, fmt.Errorf("register %q: key overlaps %q", entry, other)
			}
		}
		seen[key] = true

		l, err := ParseLocation(loc)
		if err != nil {
			return nil, fmt.Errorf("register %q: %w", entry, err)
		}
		list = append(list, Register{
			Section:  path[0],
			Path:     path[1:],
			Location: l,
		})
	}
	return list, nil
}

// ParseLocation parses kind:address/scale. The scale is optional and defaults to 1.
func ParseLocation(s string) (Location, error) {
	l := Location{Words: 1, Scale: 1}
	kind, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return l, fmt.Errorf("location %q: missing ':'", s)
	}
	if strings.HasSuffix(kind, "32") {
		l.Words = 2
		kind = strings.TrimSuffix(kind, "32")
	}
	var err error
	l.Kind, err = modbusclient.ParseKind(kind)
	if err != nil {
		return l, err
	}

	address, scale, hasScale := strings.Cut(rest, "/")
	a, err := strconv.ParseUint(address, 10, 16)
	if err != nil {
		return l, fmt.Errorf("location %q: invalid address: %w", s, err)
	}
	l.Address = uint16(a)

	if hasScale {
		l.Scale, err = strconv.ParseFloat(scale, 64)
		if err != nil {
			return l, fmt.Errorf("location %q: invalid scale: %w", s, err)
		}
		if l.Scale == 0 {
			return l, fmt.Errorf("location %q: scale must not be 0", s)
		}
	}
	return l, nil
}

// set stores v in m under path, creating intermediate maps.
func set(m map[string]interface{}, path []string, v interface{}) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}
