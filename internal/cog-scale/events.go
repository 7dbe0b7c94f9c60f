package scale

import (
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
)

const (
	calibratedEvent         = "cogScaleCalibrated"
	calibrationFailedEvent  = "cogScaleCalibrationFailed"
	channelUnavailableEvent = "cogScaleChannelUnavailable"
)

var addEvent = eventclient.AddEvent

func reportEvent(eventType string, details map[string]interface{}) {
	err := addEvent(eventclient.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details:   details,
	})
	if err != nil {
		log.Errorf("Error adding event: %v", err)
	}
}
