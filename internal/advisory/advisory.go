package advisory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/feed"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/route"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

// Aircraft classes used by advisory rules
const (
	ClassRNAV    = "rnav"
	ClassNonRNAV = "non_rnav"
)

// rnavSuffixes are the FAA equipment suffixes that indicate RNAV capability
var rnavSuffixes = map[string]bool{
	"G": true,
	"L": true,
	"Z": true,
	"I": true,
	"V": true,
	"S": true,
}

// ADR is an adapted departure route advisory
type ADR struct {
	ID            string   `json:"adr_id"`
	DepAirports   []string `json:"dep_airports"`
	Route         string   `json:"route"`
	TransitionFix string   `json:"transition_fix,omitempty"`
	MinAlt        int      `json:"min_alt"`
	MaxAlt        int      `json:"max_alt"`
	AircraftClass []string `json:"aircraft_class,omitempty"`
	Order         int      `json:"order"`
}

// ADAR is an adapted departure-arrival route advisory
type ADAR struct {
	ID            string      `json:"adar_id"`
	DepAirports   []string    `json:"dep_airports"`
	DestAirports  []string    `json:"dest_airports"`
	Route         string      `json:"route"`
	RouteData     []route.Fix `json:"route_data"`
	MinAlt        int         `json:"min_alt"`
	MaxAlt        int         `json:"max_alt"`
	AircraftClass []string    `json:"aircraft_class,omitempty"`
	Order         int         `json:"order"`
}

// Service answers advisory eligibility queries against loaded rules
type Service struct {
	adrs   []ADR
	adars  []ADAR
	logger *logger.Logger
}

// NewService creates a Service from in-memory rules
func NewService(adrs []ADR, adars []ADAR, log *logger.Logger) *Service {
	return &Service{
		adrs:   adrs,
		adars:  adars,
		logger: log.Named("advisory"),
	}
}

// Load reads ADR and ADAR rule files. Empty paths load no rules.
func Load(adrPath, adarPath string, log *logger.Logger) (*Service, error) {
	var adrs []ADR
	if adrPath != "" {
		if err := readJSON(adrPath, &adrs); err != nil {
			return nil, fmt.Errorf("failed to load ADR rules: %w", err)
		}
	}

	var adars []ADAR
	if adarPath != "" {
		if err := readJSON(adarPath, &adars); err != nil {
			return nil, fmt.Errorf("failed to load ADAR rules: %w", err)
		}
	}

	s := NewService(adrs, adars, log)
	s.logger.Info("Advisory rules loaded",
		logger.Int("adr_count", len(adrs)),
		logger.Int("adar_count", len(adars)))
	return s, nil
}

func readJSON(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// EligibleADR returns copies of the ADRs that apply to fp
func (s *Service) EligibleADR(fp feed.Flightplan) []ADR {
	eligible := make([]ADR, 0)
	for _, a := range s.adrs {
		if !matchAirport(a.DepAirports, fp.Departure) {
			continue
		}
		if !matchAltitude(a.MinAlt, a.MaxAlt, fp) || !matchClass(a.AircraftClass, fp) {
			continue
		}
		eligible = append(eligible, a)
	}
	return eligible
}

// EligibleADAR returns copies of the ADARs that apply to fp
func (s *Service) EligibleADAR(fp feed.Flightplan) []ADAR {
	eligible := make([]ADAR, 0)
	for _, a := range s.adars {
		if !matchAirport(a.DepAirports, fp.Departure) || !matchAirport(a.DestAirports, fp.Arrival) {
			continue
		}
		if !matchAltitude(a.MinAlt, a.MaxAlt, fp) || !matchClass(a.AircraftClass, fp) {
			continue
		}
		a.RouteData = nil
		eligible = append(eligible, a)
	}
	return eligible
}

// AircraftClass classifies a flight plan by its equipment suffix
func AircraftClass(fp feed.Flightplan) string {
	if rnavSuffixes[strings.ToUpper(fp.EquipmentSuffix())] {
		return ClassRNAV
	}
	return ClassNonRNAV
}

// matchAirport compares ICAO codes with or without the leading K
func matchAirport(airports []string, code string) bool {
	code = strings.TrimPrefix(strings.ToUpper(code), "K")
	for _, a := range airports {
		if strings.TrimPrefix(strings.ToUpper(a), "K") == code {
			return true
		}
	}
	return false
}

// matchAltitude checks the filed altitude in hundreds of feet against an
// inclusive range. Zero bounds are open.
func matchAltitude(minAlt, maxAlt int, fp feed.Flightplan) bool {
	if minAlt == 0 && maxAlt == 0 {
		return true
	}
	feet, ok := fp.AltitudeFeet()
	if !ok {
		return false
	}
	alt := feet / 100
	if minAlt != 0 && alt < minAlt {
		return false
	}
	if maxAlt != 0 && alt > maxAlt {
		return false
	}
	return true
}

func matchClass(classes []string, fp feed.Flightplan) bool {
	if len(classes) == 0 {
		return true
	}
	class := AircraftClass(fp)
	for _, c := range classes {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}
