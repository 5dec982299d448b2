package service

import (
	"strings"
	"time"
)

const (
	ReadingsStream  = "READINGS"
	AlertsStream    = "ALERTS"
	DeviceAgeStream = "DEVICEAGE"
	DevicesStream   = "DEVICES"
	MetricsStream   = "METRICS"

	readingSubjectPrefix = "reading.glucose."
	alertSubjectPrefix   = "alert."
	deviceAgePrefix      = "device.age."
	deviceEventPrefix    = "device.event."
	MetricsSubject       = "metrics.system"

	defaultQueue      = "glucoalert-evaluators"
	deviceQueue       = "glucoalert-devices"
	defaultAckWait    = 30 * time.Second
	defaultMaxDeliver = 10

	streamMaxAge           = 24 * time.Hour
	alertStreamAge         = 7 * 24 * time.Hour
	defaultDuplicateWindow = 2 * time.Minute
	operationTimeout       = 30 * time.Second
)

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// subjectToken makes an identifier safe to use as a single subject token
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return subjectReplacer.Replace(id)
}

// ReadingSubject is the subject a user's glucose readings are published on
func ReadingSubject(userID string) string {
	return readingSubjectPrefix + subjectToken(userID)
}

// AlertSubject is the subject an alert of the given severity for a user is published on
func AlertSubject(severity, userID string) string {
	return alertSubjectPrefix + subjectToken(severity) + "." + subjectToken(userID)
}

// DeviceAgeSubject is the subject device age notices of a kind are published on
func DeviceAgeSubject(kind string) string {
	return deviceAgePrefix + subjectToken(kind)
}

// DeviceEventSubject is the subject a user's device care events are published on
func DeviceEventSubject(userID string) string {
	return deviceEventPrefix + subjectToken(userID)
}
