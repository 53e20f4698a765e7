package domain

import (
	"fmt"
	"slices"
)

type Category string

const (
	CategoryAmbient       Category = "ambient"
	CategorySoloAmbient   Category = "soloAmbient"
	CategoryPlayback      Category = "playback"
	CategoryRecord        Category = "record"
	CategoryPlayAndRecord Category = "playAndRecord"
	CategoryMultiRoute    Category = "multiRoute"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryAmbient, CategorySoloAmbient, CategoryPlayback,
		CategoryRecord, CategoryPlayAndRecord, CategoryMultiRoute:
		return true
	}
	return false
}

// RouteOption is one entry of a session's routing policy.
type RouteOption string

const (
	OptionMixWithOthers      RouteOption = "mixWithOthers"
	OptionDuckOthers         RouteOption = "duckOthers"
	OptionAllowBluetooth     RouteOption = "allowBluetooth"
	OptionAllowBluetoothA2DP RouteOption = "allowBluetoothA2DP"
	OptionAllowAirPlay       RouteOption = "allowAirPlay"
	OptionDefaultToSpeaker   RouteOption = "defaultToSpeaker"
)

// SessionConfiguration is the category and routing policy requested when the
// device session is activated.
type SessionConfiguration struct {
	Category                   Category
	Options                    []RouteOption
	NotifyOthersOnDeactivation bool
}

// DefaultSessionConfiguration is play-and-record routed to the speaker with
// Bluetooth headsets allowed.
func DefaultSessionConfiguration() SessionConfiguration {
	return SessionConfiguration{
		Category:                   CategoryPlayAndRecord,
		Options:                    []RouteOption{OptionDefaultToSpeaker, OptionAllowBluetooth},
		NotifyOthersOnDeactivation: true,
	}
}

func (c SessionConfiguration) Has(opt RouteOption) bool {
	return slices.Contains(c.Options, opt)
}

func (c SessionConfiguration) Equal(other SessionConfiguration) bool {
	return c.Category == other.Category &&
		c.NotifyOthersOnDeactivation == other.NotifyOthersOnDeactivation &&
		slices.Equal(c.Options, other.Options)
}

// Validate rejects category/option combinations the device refuses.
func (c SessionConfiguration) Validate() error {
	if !c.Category.Valid() {
		return fmt.Errorf("unknown session category %q", c.Category)
	}
	for _, opt := range c.Options {
		switch opt {
		case OptionDefaultToSpeaker:
			if c.Category != CategoryPlayAndRecord {
				return fmt.Errorf("option %s requires category %s", opt, CategoryPlayAndRecord)
			}
		case OptionAllowBluetooth:
			if c.Category != CategoryPlayAndRecord && c.Category != CategoryRecord {
				return fmt.Errorf("option %s requires category %s or %s", opt, CategoryPlayAndRecord, CategoryRecord)
			}
		case OptionMixWithOthers, OptionDuckOthers, OptionAllowBluetoothA2DP, OptionAllowAirPlay:
		default:
			return fmt.Errorf("unknown route option %q", opt)
		}
	}
	return nil
}
