package platform

import (
	"runtime"
	"testing"
)

func TestDetect(t *testing.T) {
	// Reset detection cache for clean test
	detectionDone = false
	detectedPlatform = ""

	p := Detect()

	// Should return a valid platform
	if p == "" {
		t.Error("Detect() returned empty platform")
	}

	// On macOS, should detect macOS
	if runtime.GOOS == "darwin" {
		if p != PlatformMacOS {
			t.Errorf("Expected PlatformMacOS on darwin, got %s", p)
		}
	}

	// Detection should be cached
	p2 := Detect()
	if p != p2 {
		t.Errorf("Detect() not cached: got %s then %s", p, p2)
	}
}

func TestDetectBackend(t *testing.T) {
	tests := []struct {
		platform Platform
		expected Backend
	}{
		{PlatformMacOS, BackendLaunchd},
		{PlatformLinux, BackendSystemd},
		{PlatformWSL1, BackendPM2},
		{PlatformWSL2, BackendPM2},
		{PlatformWindows, BackendPM2},
		{PlatformUnknown, BackendPM2},
	}

	for _, tt := range tests {
		detectionDone = true
		detectedPlatform = tt.platform
		if got := DetectBackend(); got != tt.expected {
			t.Errorf("DetectBackend() on %s = %s, want %s", tt.platform, got, tt.expected)
		}
	}

	// Restore real detection for other tests
	detectionDone = false
	detectedPlatform = ""
}

func TestPlatformString(t *testing.T) {
	tests := []struct {
		platform Platform
		expected string
	}{
		{PlatformMacOS, "macOS"},
		{PlatformLinux, "Linux"},
		{PlatformWSL1, "WSL1"},
		{PlatformWSL2, "WSL2"},
		{PlatformWindows, "Windows"},
		{PlatformUnknown, "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.platform.String(); got != tt.expected {
			t.Errorf("Platform(%s).String() = %s, want %s", tt.platform, got, tt.expected)
		}
	}
}

func TestIsWSL(t *testing.T) {
	detectionDone = true
	detectedPlatform = PlatformWSL2
	if !IsWSL() {
		t.Error("IsWSL() = false for WSL2")
	}

	detectedPlatform = PlatformLinux
	if IsWSL() {
		t.Error("IsWSL() = true for native Linux")
	}

	detectionDone = false
	detectedPlatform = ""
}
