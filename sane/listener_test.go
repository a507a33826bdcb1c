package sane

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitListenerDropsRapidRecords(t *testing.T) {
	inner := &recordingListener{}
	l := RateLimitListener(inner, time.Hour)
	d := &Device{name: "test"}

	l.ScanningStarted(d)
	l.RecordRead(d, 100, 1000)
	l.RecordRead(d, 200, 1000) // within the interval, dropped
	l.RecordRead(d, 300, 1000) // dropped
	l.ScanningFinished(d)

	assert.Equal(t, 1, inner.started)
	assert.Equal(t, 1, inner.finished)
	assert.Equal(t, [][2]int{{100, 1000}}, inner.records)
}

func TestRateLimitListenerResetsPerScan(t *testing.T) {
	inner := &recordingListener{}
	l := RateLimitListener(inner, time.Hour)
	d := &Device{name: "test"}

	l.RecordRead(d, 100, -1)
	l.ScanningFinished(d)
	// A new scan starts fresh.
	l.RecordRead(d, 50, -1)

	assert.Equal(t, [][2]int{{100, -1}, {50, -1}}, inner.records)
}

func TestRateLimitListenerTracksDevicesIndependently(t *testing.T) {
	inner := &recordingListener{}
	l := RateLimitListener(inner, time.Hour)
	first := &Device{name: "first"}
	second := &Device{name: "second"}

	l.RecordRead(first, 100, -1)
	l.RecordRead(second, 200, -1)
	l.RecordRead(first, 300, -1) // dropped

	assert.Equal(t, [][2]int{{100, -1}, {200, -1}}, inner.records)
}

func TestRateLimitListenerPassesOtherCallbacks(t *testing.T) {
	inner := &recordingListener{}
	l := RateLimitListener(inner, time.Hour)
	d := &Device{name: "test"}

	p := Parameters{Frame: FrameRed}
	l.FrameAcquisitionStarted(d, p, 1, 3)
	assert.Equal(t, []Parameters{p}, inner.frames)
	assert.Equal(t, []int{1}, inner.indices)
	assert.Equal(t, []int{3}, inner.totals)
}
