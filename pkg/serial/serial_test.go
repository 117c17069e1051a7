// Serial port tests.
//
// These tests cover configuration, baud rate mapping and error paths.
// Nothing here opens real printer hardware.
//
// Copyright (C) 2025 Go port

package serial

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	perrors "plasticpilot/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaudRate != 115200 {
		t.Errorf("Expected default baud rate 115200, got %d", cfg.BaudRate)
	}
	if cfg.ConnectTimeout != 60*time.Second {
		t.Errorf("Expected default connect timeout 60s, got %v", cfg.ConnectTimeout)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("Expected default read timeout 5s, got %v", cfg.ReadTimeout)
	}
	if !cfg.RTSOnConnect || !cfg.DTROnConnect {
		t.Error("Expected RTS and DTR asserted by default")
	}
}

func TestBaudRateToSpeed(t *testing.T) {
	speed, custom, err := baudRateToSpeed(115200)
	if err != nil {
		t.Fatalf("baudRateToSpeed(115200) failed: %v", err)
	}
	if speed != unix.B115200 || custom != 0 {
		t.Errorf("Expected (B115200, 0), got (%#x, %d)", speed, custom)
	}

	speed, custom, err = baudRateToSpeed(9600)
	if err != nil {
		t.Fatalf("baudRateToSpeed(9600) failed: %v", err)
	}
	if speed != unix.B9600 || custom != 0 {
		t.Errorf("Expected (B9600, 0), got (%#x, %d)", speed, custom)
	}

	// 250000 has no portable B-constant, so it goes through the custom
	// rate path on every platform.
	_, custom, err = baudRateToSpeed(250000)
	if err != nil {
		t.Fatalf("baudRateToSpeed(250000) failed: %v", err)
	}
	if custom != 250000 {
		t.Errorf("Expected custom rate 250000, got %d", custom)
	}

	if _, _, err := baudRateToSpeed(0); err == nil {
		t.Error("Expected error for baud rate 0")
	}
	if _, _, err := baudRateToSpeed(-9600); err == nil {
		t.Error("Expected error for negative baud rate")
	}
}

func TestListPorts(t *testing.T) {
	ports, err := ListPorts()
	if err != nil {
		t.Fatalf("ListPorts failed: %v", err)
	}

	if !sort.StringsAreSorted(ports) {
		t.Errorf("Expected sorted port list, got %v", ports)
	}

	seen := make(map[string]bool)
	for _, p := range ports {
		if seen[p] {
			t.Errorf("Duplicate port in list: %s", p)
		}
		seen[p] = true
	}
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(Config{Device: "/dev/nonexistent-printer-port"})
	if err == nil {
		t.Fatal("Expected error opening missing device")
	}
	if !perrors.Is(err, perrors.ErrSerialOpen) {
		t.Errorf("Expected ErrSerialOpen, got %v", err)
	}
}

func TestOpenEmptyDevice(t *testing.T) {
	_, err := Open(Config{})
	if err == nil {
		t.Fatal("Expected error opening empty device path")
	}
	if !perrors.Is(err, perrors.ErrSerialOpen) {
		t.Errorf("Expected ErrSerialOpen, got %v", err)
	}
}

func TestClosedPortOperations(t *testing.T) {
	p := &Port{closed: true}

	if _, err := p.Read(make([]byte, 16)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Read, got %v", err)
	}
	if _, err := p.Write([]byte("G28\n")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Write, got %v", err)
	}
	if err := p.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Flush, got %v", err)
	}
	// Closing an already closed port is not an error.
	if err := p.Close(); err != nil {
		t.Errorf("Expected nil from repeated Close, got %v", err)
	}
}

func TestResolveDevice(t *testing.T) {
	// Plain device paths pass through untouched.
	resolved, err := ResolveDevice("/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("ResolveDevice failed: %v", err)
	}
	if resolved != "/dev/ttyUSB0" {
		t.Errorf("Expected /dev/ttyUSB0, got %s", resolved)
	}

	// Missing by-id symlinks report an open error.
	_, err = ResolveDevice("/dev/serial/by-id/usb-nonexistent-if00")
	if err == nil {
		t.Error("Expected error resolving missing by-id symlink")
	}
}

func TestIsDeviceAvailable(t *testing.T) {
	if IsDeviceAvailable("/dev/nonexistent-printer-port") {
		t.Error("Expected false for missing device")
	}

	// Regular files are not character devices.
	path := filepath.Join(t.TempDir(), "not-a-tty")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if IsDeviceAvailable(path) {
		t.Error("Expected false for regular file")
	}
}
