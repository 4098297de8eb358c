package state

import (
	"path/filepath"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/geotrack/helpers"
	"github.com/temoto/geotrack/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	DeviceID string `hcl:"device_id"`

	Hub struct {
		Host               string `hcl:"host"`
		Port               int    `hcl:"port"`
		Scheme             string `hcl:"scheme"`
		Key                string `hcl:"key"`
		Policy             string `hcl:"policy"`
		Transport          string `hcl:"transport"`
		TLSCAFile          string `hcl:"tls_ca_file"`
		TLSCertFile        string `hcl:"tls_cert_file"`
		TLSKeyFile         string `hcl:"tls_key_file"`
		TokenExpirySec     int    `hcl:"token_expiry_sec"`
		SessionTimeoutSec  int    `hcl:"session_timeout_sec"`
		NetworkTimeoutSec  int    `hcl:"network_timeout_sec"`
		KeepaliveSec       int    `hcl:"keepalive_sec"`
		StatusIntervalSec  int    `hcl:"status_interval_sec"`
		BootReceiveSec     int    `hcl:"boot_receive_sec"`
		FixAttempts        int    `hcl:"fix_attempts"`
		DefaultIntervalSec int    `hcl:"default_interval_sec"`
	} `hcl:"hub"`

	Hardware struct {
		Mock  bool `hcl:"mock"`
		Modem struct {
			Interface string `hcl:"interface"`
			Network   string `hcl:"network"`
			Signal    int    `hcl:"signal"`
			SettleSec int    `hcl:"settle_sec"`
		} `hcl:"modem"`
		ModemPower struct {
			Chip      string `hcl:"chip"`
			Line      int    `hcl:"line"`
			ActiveLow bool   `hcl:"active_low"`
		} `hcl:"modem_power"`
		GNSS struct {
			Device    string `hcl:"device"`
			MaxAgeSec int    `hcl:"max_age_sec"`
		} `hcl:"gnss"`
		Probes struct {
			Bus        string `hcl:"bus"`
			Resolution int    `hcl:"resolution"`
			Container  string `hcl:"container"`
			Ambient    string `hcl:"ambient"`
			Heater     string `hcl:"heater"`
		} `hcl:"probes"`
		BatteryVoltage float64 `hcl:"battery_voltage"`
	} `hcl:"hardware"`

	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`

	Journal struct {
		Enable     bool `hcl:"enable"`
		MaxSizeMB  int  `hcl:"max_size_mb"`
		MaxBackups int  `hcl:"max_backups"`
	} `hcl:"journal"`

	Log struct {
		Debug     bool   `hcl:"debug"`
		File      string `hcl:"file"`
		MaxSizeMB int    `hcl:"max_size_mb"`
	} `hcl:"log"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, norm))
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		if _, ok := c.includeSeen[fs.Normalize(include.Name)]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return c, err
	}
	return c, c.validate()
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func (c *Config) validate() error {
	errs := make([]error, 0)
	if c.DeviceID == "" {
		errs = append(errs, errors.NotValidf("config: device_id=empty"))
	}
	if c.Hub.Port < 0 || c.Hub.Port > 65535 {
		errs = append(errs, errors.NotValidf("config: hub.port=%d", c.Hub.Port))
	}
	if c.Hub.FixAttempts < 0 {
		errs = append(errs, errors.NotValidf("config: hub.fix_attempts=%d", c.Hub.FixAttempts))
	}
	if c.Hardware.ModemPower.Chip != "" && c.Hardware.ModemPower.Line < 0 {
		errs = append(errs, errors.NotValidf("config: hardware.modem_power.line=%d", c.Hardware.ModemPower.Line))
	}
	return helpers.FoldErrors(errs)
}
