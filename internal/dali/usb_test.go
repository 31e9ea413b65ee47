package dali

import (
	"errors"
	"testing"

	"github.com/nerrad567/daliserver/internal/frame"
)

// TestParseReport verifies incoming report classification.
func TestParseReport(t *testing.T) {
	tr := &usbTransport{}

	tests := []struct {
		name   string
		report []byte
		want   Completion
		wantOK bool
	}{
		{
			name:   "solicited response",
			report: []byte{directionUSB, typeResponse, 0xC8, 0x01, 0x90, 0x00, 0x00},
			want:   Completion{Frame: frame.New(0x01, 0x90), Response: 0xC8},
			wantOK: true,
		},
		{
			name:   "solicited complete without answer",
			report: []byte{directionUSB, typeComplete, 0x00, 0x01, 0xFE, 0x00, 0x00},
			want:   Completion{Frame: frame.New(0x01, 0xFE)},
			wantOK: true,
		},
		{
			name:   "solicited no response",
			report: []byte{directionUSB, typeNoResponse, 0x00, 0x03, 0x90, 0x00, 0x00},
			want:   Completion{Frame: frame.New(0x03, 0x90), Err: ErrNoResponse},
			wantOK: true,
		},
		{
			name:   "usb broadcast is unsolicited",
			report: []byte{directionUSB, typeBroadcast, 0x00, 0xFF, 0x05, 0x00, 0x00},
			want:   Completion{Frame: frame.New(0xFF, 0x05), Unsolicited: true},
			wantOK: true,
		},
		{
			name:   "sniffed bus traffic is unsolicited",
			report: []byte{directionBus, 0x00, 0x00, 0xFF, 0x08, 0x00, 0x00},
			want:   Completion{Frame: frame.New(0xFF, 0x08), Unsolicited: true},
			wantOK: true,
		},
		{
			name:   "unknown usb report type dropped",
			report: []byte{directionUSB, 0x55, 0x00, 0x01, 0x90, 0x00, 0x00},
			wantOK: false,
		},
		{
			name:   "unknown direction dropped",
			report: []byte{0x99, typeResponse, 0x00, 0x01, 0x90, 0x00, 0x00},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tr.parseReport(tt.report)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Frame != tt.want.Frame {
				t.Errorf("Frame = %v, want %v", got.Frame, tt.want.Frame)
			}
			if got.Response != tt.want.Response {
				t.Errorf("Response = 0x%02X, want 0x%02X", got.Response, tt.want.Response)
			}
			if got.Unsolicited != tt.want.Unsolicited {
				t.Errorf("Unsolicited = %v, want %v", got.Unsolicited, tt.want.Unsolicited)
			}
			if !errors.Is(got.Err, tt.want.Err) {
				t.Errorf("Err = %v, want %v", got.Err, tt.want.Err)
			}
		})
	}
}
