package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if configDir == "" {
		t.Error("GetConfigDir() returned empty string")
	}
	if !strings.Contains(configDir, "camscan") {
		t.Errorf("GetConfigDir() = %v, should contain 'camscan'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin", "linux":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}
	if reg.Devices == nil {
		t.Error("NewRegistry().Devices should not be nil")
	}
	if reg.Preferences == nil {
		t.Fatal("NewRegistry().Preferences should not be nil")
	}
	if reg.Preferences.ScanTimeout != 15 {
		t.Errorf("NewRegistry().Preferences.ScanTimeout = %v, want 15", reg.Preferences.ScanTimeout)
	}
	if reg.Preferences.CacheTTL != 5 {
		t.Errorf("NewRegistry().Preferences.CacheTTL = %v, want 5", reg.Preferences.CacheTTL)
	}
}

func TestRegistryEnsureDevice(t *testing.T) {
	reg := NewRegistry()

	device := reg.EnsureDevice("192.168.1.64")
	if device == nil {
		t.Fatal("EnsureDevice() returned nil")
	}

	device.Nickname = "Front Door"
	again := reg.EnsureDevice("192.168.1.64")
	if again.Nickname != "Front Door" {
		t.Errorf("EnsureDevice() returned a fresh entry, want the existing one")
	}

	// Works on a registry loaded without a device map
	reg2 := &Registry{Version: 1}
	if reg2.EnsureDevice("10.0.0.1") == nil {
		t.Error("EnsureDevice() on nil map returned nil")
	}
}

func TestUpdateDeviceLastSeen(t *testing.T) {
	reg := NewRegistry()

	before := time.Now()
	reg.UpdateDeviceLastSeen("192.168.1.64", "192.168.1.64")

	device := reg.GetDevice("192.168.1.64")
	if device == nil {
		t.Fatal("GetDevice() returned nil after update")
	}
	if device.LastIP != "192.168.1.64" {
		t.Errorf("LastIP = %v, want 192.168.1.64", device.LastIP)
	}
	if device.LastSeen.Before(before) {
		t.Errorf("LastSeen = %v, want at or after %v", device.LastSeen, before)
	}
}
