package hardware

import "github.com/temoto/geotrack/log2"

// LogDisplay shows values in log, for boards without screen.
type LogDisplay struct{ Log *log2.Log }

func (self LogDisplay) ShowTemperature(celsius float64) error {
	self.Log.Infof("display temperature=%.1f", celsius)
	return nil
}
