package model

import (
	"time"
)

const (
	DirectionRX = "RX"
	DirectionTX = "TX"
)

// TrafficLog is one chunk received from, or one frame sent to, a device
type TrafficLog struct {
	ID                int64     `json:"id" gorm:"primaryKey"`
	DeviceFingerprint string    `json:"device_fingerprint" gorm:"column:device_fingerprint;type:varchar(128);not null;index"`
	SessionID         string    `json:"session_id" gorm:"column:session_id;type:varchar(64);not null;index"`
	Protocol          string    `json:"protocol" gorm:"type:varchar(64)"`
	PortName          string    `json:"port_name" gorm:"column:port_name;type:varchar(64);not null"`
	Direction         string    `json:"direction" gorm:"type:varchar(2);not null"` // RX, TX
	MessageID         string    `json:"message_id,omitempty" gorm:"column:message_id;type:varchar(64)"`
	Data              []byte    `json:"data" gorm:"type:bytea;not null"`
	Timestamp         time.Time `json:"timestamp" gorm:"not null;index"`
}

func (TrafficLog) TableName() string {
	return "traffic_logs"
}

// DeviceFingerprint identifies a TCP device by its remote address
func DeviceFingerprint(remoteAddr string) string {
	return "tcp:" + remoteAddr
}
