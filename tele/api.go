// Package tele describes messages exchanged between tracker and hub.
//
// Outbound telemetry Record is one JSON object per line in the queue file
// and one MQTT publish payload. Inbound Control is CONFIG or STATUS.
package tele

import (
	"fmt"
)

const (
	MarkerHello = "HELLO"
	MarkerBye   = "BYE"

	APIVersion = "2018-06-30"
)

func TopicEvents(deviceID string) string {
	return fmt.Sprintf("devices/%s/messages/events/", deviceID)
}

func TopicDevicebound(deviceID string) string {
	return fmt.Sprintf("devices/%s/messages/devicebound/#", deviceID)
}

// Username is MQTT CONNECT username expected by hub.
func Username(host, deviceID string) string {
	return fmt.Sprintf("%s/%s/?api-version=%s", host, deviceID, APIVersion)
}

// ResourceURI is signed by SAS token.
func ResourceURI(host, deviceID string) string {
	return fmt.Sprintf("%s/devices/%s", host, deviceID)
}
