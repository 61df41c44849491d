// Package nuheat implements a typed client for the NuHeat / OJ Electronics Conductor
// cloud API at mynuheat.com, and the OAuth2 token handling it requires.
package nuheat

import "math"

const (
	// ServerURL is the base URL of the Conductor API.
	ServerURL = "https://api.nam.mynuheat.com"

	authURL  = "https://identity.nam.mynuheat.com/connect/authorize"
	tokenURL = "https://identity.nam.mynuheat.com/connect/token"
)

// Scopes requested during authorization. Note that "openapi" also needs to be
// enabled on the account at mynuheat.com: without it, the API responds with a
// server error to every call, even with a valid token.
var Scopes = []string{"openid", "openapi", "offline_access"}

// ScheduleMode indicates how a thermostat deviates (or not) from its programmed schedule.
type ScheduleMode int

const (
	ScheduleModeAuto          ScheduleMode = iota + 1 // following the programmed schedule
	ScheduleModeTemporaryHold                         // holding the setpoint until the next scheduled event
	ScheduleModePermanentHold                         // holding the setpoint until changed
)

func (m ScheduleMode) String() string {
	switch m {
	case ScheduleModeAuto:
		return "schedule"
	case ScheduleModeTemporaryHold:
		return "temporary hold"
	case ScheduleModePermanentHold:
		return "permanent hold"
	default:
		return "unknown"
	}
}

// Temperature is a temperature in centi-degrees, the API's wire format: 3000
// means 30.00º. Whether that's Celsius or Fahrenheit depends on the account's
// temperature scale (see Account).
type Temperature int

// Degrees returns the temperature in degrees.
func (t Temperature) Degrees() float64 {
	return float64(t) / 100
}

// TemperatureFromDegrees converts a temperature in degrees to the API's wire format.
func TemperatureFromDegrees(degrees float64) Temperature {
	return Temperature(math.Round(degrees * 100))
}

// Thermostat is a single Conductor thermostat, as reported by the API.
type Thermostat struct {
	SerialNumber       string       `json:"serialNumber"`
	Name               string       `json:"name"`
	GroupID            string       `json:"groupId,omitempty"`
	Online             bool         `json:"online"`
	Heating            bool         `json:"isHeating"`
	CurrentTemperature *Temperature `json:"currentTemperature"`
	SetPointTemp       *Temperature `json:"setPointTemp"`
	MinTemp            *Temperature `json:"minTemp"`
	MaxTemp            *Temperature `json:"maxTemp"`
	ScheduleMode       ScheduleMode `json:"scheduleMode"`
}

// Group is a group of thermostats sharing an away setting.
type Group struct {
	GroupID     string   `json:"groupId"`
	GroupName   string   `json:"groupName"`
	AwayMode    bool     `json:"awayMode"`
	Thermostats []string `json:"thermostats,omitempty"`
}

// Account holds the account preferences relevant to interpreting thermostat state.
type Account struct {
	Email            string `json:"email"`
	TemperatureScale string `json:"temperatureScale"` // "Celsius" or "Fahrenheit"
	Use12Hour        bool   `json:"use12Hour"`
}

type setPointRequest struct {
	SerialNumber         string       `json:"serialNumber"`
	Name                 string       `json:"name"`
	SetPointTemp         Temperature  `json:"setPointTemp"`
	ScheduleMode         ScheduleMode `json:"scheduleMode"`
	HoldSetPointDateTime *string      `json:"holdSetPointDateTime"`
}

type scheduleModeRequest struct {
	SerialNumber string       `json:"serialNumber"`
	ScheduleMode ScheduleMode `json:"scheduleMode"`
}

type groupAwayRequest struct {
	GroupID  string `json:"groupId"`
	AwayMode bool   `json:"awayMode"`
}
