package domain

import "fmt"

// Event is a lifecycle notification delivered to the recovery coordinator.
type Event interface {
	Name() string
}

// InterruptionType mirrors the raw type value carried by an interruption
// notification. Values other than Began and Ended are unknown subtypes.
type InterruptionType uint

const (
	InterruptionEnded InterruptionType = 0
	InterruptionBegan InterruptionType = 1
)

func (t InterruptionType) String() string {
	switch t {
	case InterruptionBegan:
		return "began"
	case InterruptionEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", uint(t))
	}
}

// Interruption reports that another audio client took or released the device.
type Interruption struct {
	Type InterruptionType
}

func (Interruption) Name() string { return "interruption" }

// ConfigurationChanged reports that the hardware invalidated a graph's wiring.
// Source is the identity of the graph the notification was posted for.
type ConfigurationChanged struct {
	Source string
}

func (ConfigurationChanged) Name() string { return "configuration_changed" }

type RouteChangeReason int

const (
	RouteChangeUnknown RouteChangeReason = iota
	RouteChangeNewDeviceAvailable
	RouteChangeOldDeviceUnavailable
	RouteChangeCategoryChange
	RouteChangeOverride
)

func (r RouteChangeReason) String() string {
	switch r {
	case RouteChangeNewDeviceAvailable:
		return "new_device_available"
	case RouteChangeOldDeviceUnavailable:
		return "old_device_unavailable"
	case RouteChangeCategoryChange:
		return "category_change"
	case RouteChangeOverride:
		return "override"
	default:
		return "unknown"
	}
}

func ParseRouteChangeReason(s string) RouteChangeReason {
	for r := RouteChangeNewDeviceAvailable; r <= RouteChangeOverride; r++ {
		if r.String() == s {
			return r
		}
	}
	return RouteChangeUnknown
}

type RouteChanged struct {
	Reason      RouteChangeReason
	Description string
}

func (RouteChanged) Name() string { return "route_changed" }

// MediaServicesReset reports that the audio server restarted and every
// hardware-held object is gone.
type MediaServicesReset struct{}

func (MediaServicesReset) Name() string { return "media_services_reset" }
