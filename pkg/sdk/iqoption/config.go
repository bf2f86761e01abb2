package iqoption

import (
	"time"

	"github.com/betbot/iqblitz/pkg/sdk/stream"
)

// Config configures a Client.
type Config struct {
	WSURL    string
	ProxyURL string
	// SSID skips the Authenticator when set.
	SSID string

	AuthTimeout     time.Duration
	RequestTimeout  time.Duration
	OpenAckTimeout  time.Duration
	SettlementGrace time.Duration
	// DurationUnit converts the integer trade duration into a local wait.
	// The wire always carries seconds.
	DurationUnit time.Duration

	ProfitPercent int
	BalanceTypes  []int

	Transport stream.TransportConfig
}

// DefaultConfig returns the settings the live server expects.
func DefaultConfig() *Config {
	return &Config{
		WSURL:           DefaultWSURL,
		AuthTimeout:     8 * time.Second,
		RequestTimeout:  15 * time.Second,
		OpenAckTimeout:  8 * time.Second,
		SettlementGrace: 15 * time.Second,
		DurationUnit:    time.Second,
		ProfitPercent:   85,
		BalanceTypes:    []int{BalanceTypePractice, BalanceTypeReal, BalanceTypeTournament, BalanceTypeOther},
		Transport:       *stream.DefaultTransportConfig(),
	}
}

func (c *Config) withDefaults() Config {
	d := DefaultConfig()
	if c == nil {
		return *d
	}
	out := *c
	if out.WSURL == "" {
		out.WSURL = d.WSURL
	}
	if out.AuthTimeout <= 0 {
		out.AuthTimeout = d.AuthTimeout
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = d.RequestTimeout
	}
	if out.OpenAckTimeout <= 0 {
		out.OpenAckTimeout = d.OpenAckTimeout
	}
	if out.SettlementGrace <= 0 {
		out.SettlementGrace = d.SettlementGrace
	}
	if out.DurationUnit <= 0 {
		out.DurationUnit = d.DurationUnit
	}
	if out.ProfitPercent <= 0 {
		out.ProfitPercent = d.ProfitPercent
	}
	if len(out.BalanceTypes) == 0 {
		out.BalanceTypes = d.BalanceTypes
	}
	out.Transport.URL = out.WSURL
	if out.Transport.ProxyURL == "" {
		out.Transport.ProxyURL = out.ProxyURL
	}
	return out
}
