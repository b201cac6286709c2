package models

// DeviceType is the coarse device family inferred from a user agent.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceBot     DeviceType = "bot"
	DeviceUnknown DeviceType = "unknown"
)

// InvalidReason explains why a hit is not a valid click.
type InvalidReason string

const (
	ReasonNone              InvalidReason = ""
	ReasonBot               InvalidReason = "bot"
	ReasonWrongCountry      InvalidReason = "wrong-country"
	ReasonDatacenter        InvalidReason = "datacenter"
	ReasonOracleUnavailable InvalidReason = "oracle-unavailable-default-invalid"
	// ReasonUnverified marks a human judged from the user agent alone.
	ReasonUnverified InvalidReason = "unverified"
)

// Reputation is what the IP reputation oracle knows about an address.
type Reputation struct {
	CountryCode  string `json:"country_code"`
	IsDatacenter bool   `json:"is_datacenter"`
}

// VisitorClassification is computed per request and never persisted as such.
//
// Invariants: IsValidClick holds exactly when InvalidReason is empty; IsPreviewBot implies
// DeviceType == DeviceBot and a non-empty BotType. Reputation is nil when the
// oracle was not consulted or failed.
type VisitorClassification struct {
	IPAddress     string        `json:"ip_address"`
	UserAgent     string        `json:"user_agent"`
	IsPreviewBot  bool          `json:"is_preview_bot"`
	BotType       string        `json:"bot_type,omitempty"`
	DeviceType    DeviceType    `json:"device_type"`
	Reputation    *Reputation   `json:"reputation,omitempty"`
	IsValidClick  bool          `json:"is_valid_click"`
	InvalidReason InvalidReason `json:"invalid_reason,omitempty"`
}

// CountryCode returns the oracle country, or "" when the lookup failed.
func (c VisitorClassification) CountryCode() string {
	if c.Reputation == nil {
		return ""
	}
	return c.Reputation.CountryCode
}

// IsDatacenter returns the oracle hosting flag, or nil when the lookup failed.
func (c VisitorClassification) IsDatacenter() *bool {
	if c.Reputation == nil {
		return nil
	}
	dc := c.Reputation.IsDatacenter
	return &dc
}
