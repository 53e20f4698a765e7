package application

import "voiceproc/internal/domain"

type Metrics interface {
	StateChanged(state domain.State)
	Interruption(t domain.InterruptionType)
	ConfigurationChanged()
	RouteChanged(reason domain.RouteChangeReason)
	// ModeSwitched counts a switch attempt toward target and whether it
	// reached Running.
	ModeSwitched(target bool, ok bool)
	// VoiceProcessing reports the committed mode.
	VoiceProcessing(enabled bool)
	RecoveryFailed(stage string)
	Fatal()
}

type NoopMetrics struct{}

func (NoopMetrics) StateChanged(domain.State)             {}
func (NoopMetrics) Interruption(domain.InterruptionType)  {}
func (NoopMetrics) ConfigurationChanged()                 {}
func (NoopMetrics) RouteChanged(domain.RouteChangeReason) {}
func (NoopMetrics) ModeSwitched(bool, bool)               {}
func (NoopMetrics) VoiceProcessing(bool)                  {}
func (NoopMetrics) RecoveryFailed(string)                 {}
func (NoopMetrics) Fatal()                                {}
