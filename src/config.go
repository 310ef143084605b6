package malamute

/*------------------------------------------------------------------
 *
 * Purpose:	YAML configuration for the example programs.
 *
 * Description: Everything here can also be given on the command line;
 *		the file exists so a station setup (callsign, TNC,
 *		timers) does not have to be retyped.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "3s" or "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	var parsed, err = time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is a station setup file.
type Config struct {
	// MyCall is the local callsign-SSID.
	MyCall string `yaml:"mycall"`

	// TCP is the host:port of a network KISS TNC, e.g. localhost:8001.
	TCP string `yaml:"tcp"`

	// SerialPort is a serial device with a KISS TNC on it. Used when
	// TCP is empty.
	SerialPort string `yaml:"serial_port"`
	// SerialSpeed in bits per second, default 9600.
	SerialSpeed uint32 `yaml:"serial_speed"`

	// Extended selects mod-128 sequence numbers.
	Extended bool `yaml:"extended"`

	SRT Duration `yaml:"srt"`
	T3  Duration `yaml:"t3"`
	MTU int      `yaml:"mtu"`

	// Capture is a pcap file path, strftime patterns allowed.
	Capture string `yaml:"capture"`

	// Metrics is a listen address for Prometheus, e.g. :9601.
	Metrics string `yaml:"metrics"`
}

// LoadConfig reads a YAML station setup.
func LoadConfig(path string) (*Config, error) {
	var raw, err = os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.SerialSpeed == 0 {
		cfg.SerialSpeed = 9600
	}
	return &cfg, nil
}

// Options converts the tunable part of the config into engine options.
func (c *Config) Options() *Options {
	return &Options{
		Extended:   c.Extended,
		SRTDefault: time.Duration(c.SRT),
		T3V:        time.Duration(c.T3),
		MTU:        c.MTU,
		Capture:    c.Capture,
	}
}

// OpenPort opens whichever KISS transport the config names.
func (c *Config) OpenPort() (Port, error) {
	if c.TCP != "" {
		return NewTCPPort(c.TCP)
	}
	if c.SerialPort != "" {
		return NewSerialPort(c.SerialPort, c.SerialSpeed)
	}
	return nil, fmt.Errorf("no KISS TNC configured: need tcp or serial_port")
}
