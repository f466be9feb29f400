package models

import (
	"encoding/json"
)

// UplinkNotification represents a The Things Stack (v3) uplink webhook body.
//
// Only the fields the bridge depends on carry validation rules; the rest are
// parsed when present so they end up in the request logs.
type UplinkNotification struct {
	EndDeviceIDs   EndDeviceIDs   `json:"end_device_ids"`
	CorrelationIDs []string       `json:"correlation_ids,omitempty"`
	ReceivedAt     string         `json:"received_at,omitempty"`
	UplinkMessage  *UplinkMessage `json:"uplink_message" validate:"required"`
	Simulated      *bool          `json:"simulated,omitempty"`
}

// EndDeviceIDs identifies the end device
type EndDeviceIDs struct {
	DeviceID       string         `json:"device_id,omitempty"`
	ApplicationIDs ApplicationIDs `json:"application_ids"`
	DevEUI         *string        `json:"dev_eui" validate:"required"`
	JoinEUI        string         `json:"join_eui,omitempty"`
	DevAddr        string         `json:"dev_addr,omitempty"`
}

// ApplicationIDs identifies the application
type ApplicationIDs struct {
	ApplicationID string `json:"application_id,omitempty"`
}

// UplinkMessage is the uplink part of the notification
type UplinkMessage struct {
	SessionKeyID    string              `json:"session_key_id,omitempty"`
	FCnt            *int                `json:"f_cnt,omitempty"`
	FPort           *int                `json:"f_port,omitempty"`
	FRMPayload      *string             `json:"frm_payload,omitempty"`
	DecodedPayload  json.RawMessage     `json:"decoded_payload,omitempty"`
	RxMetadata      []RxMetadata        `json:"rx_metadata" validate:"required,min=1,dive"`
	Settings        *TxSettings         `json:"settings,omitempty"`
	ConsumedAirtime string              `json:"consumed_airtime,omitempty"`
	Locations       map[string]Location `json:"locations,omitempty"`
	VersionIDs      *VersionIDs         `json:"version_ids,omitempty"`
	NetworkIDs      *NetworkIDs         `json:"network_ids,omitempty"`
}

// HasDecodedPayload reports whether the network server supplied a decoded payload
func (m *UplinkMessage) HasDecodedPayload() bool {
	return len(m.DecodedPayload) > 0 && string(m.DecodedPayload) != "null"
}

// RxMetadata describes the reception of the uplink by one gateway antenna
type RxMetadata struct {
	GatewayIDs   GatewayIDs `json:"gateway_ids"`
	Time         string     `json:"time,omitempty"`
	Timestamp    *float64   `json:"timestamp,omitempty"`
	RSSI         *float64   `json:"rssi" validate:"required"`
	ChannelRSSI  *float64   `json:"channel_rssi,omitempty"`
	SNR          *float64   `json:"snr" validate:"required"`
	UplinkToken  string     `json:"uplink_token,omitempty"`
	ChannelIndex *int       `json:"channel_index,omitempty"`
	Location     *Location  `json:"location,omitempty"`
	ReceivedAt   string     `json:"received_at,omitempty"`
}

// GatewayIDs identifies a gateway
type GatewayIDs struct {
	GatewayID string `json:"gateway_id" validate:"required"`
	EUI       string `json:"eui,omitempty"`
}

// Location is a gateway or end device location
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Source    string   `json:"source,omitempty"`
}

// TxSettings holds the transmission settings of the uplink
type TxSettings struct {
	DataRate struct {
		LoRa *struct {
			Bandwidth       int    `json:"bandwidth"`
			SpreadingFactor int    `json:"spreading_factor"`
			CodingRate      string `json:"coding_rate,omitempty"`
		} `json:"lora,omitempty"`
	} `json:"data_rate"`
	Frequency string   `json:"frequency,omitempty"`
	Time      string   `json:"time,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// VersionIDs holds end device version information
type VersionIDs struct {
	BrandID         string `json:"brand_id,omitempty"`
	ModelID         string `json:"model_id,omitempty"`
	HardwareVersion string `json:"hardware_version,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	BandID          string `json:"band_id,omitempty"`
}

// NetworkIDs holds network information
type NetworkIDs struct {
	NetID          string `json:"net_id,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`
	ClusterID      string `json:"cluster_id,omitempty"`
	ClusterAddress string `json:"cluster_address,omitempty"`
}

// DecodedTrapPayload is the shape expected from a network-side payload formatter
type DecodedTrapPayload struct {
	Event   *string  `json:"event" validate:"required,oneof=Sprung Set Heartbeat"`
	Status  *string  `json:"status" validate:"required,oneof=Sprung Set"`
	Battery *float64 `json:"battery" validate:"required"`
}
