// Zaparoo USB Watch
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo USB Watch.
//
// Zaparoo USB Watch is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo USB Watch is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo USB Watch.  If not, see <http://www.gnu.org/licenses/>.

//go:build linux

package sysfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZaparooProject/usbwatch/pkg/device"
	"github.com/ZaparooProject/usbwatch/pkg/mount"
	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/ZaparooProject/usbwatch/pkg/testing/helpers"
	"github.com/ZaparooProject/usbwatch/pkg/watcher"
	"github.com/mdlayher/kobject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hostPath     = "/devices/pci0000:00/0000:00:14.0/usb1"
	cruzerPath   = hostPath + "/1-2"
	keyboardPath = hostPath + "/1-3"
	blockPath    = cruzerPath + "/1-2:1.0/host0/target0:0:0/0:0:0:0/block/sdb"
)

func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for k, v := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o600))
	}
}

func link(t *testing.T, root, linkPath, target string) {
	t.Helper()
	full := filepath.Join(root, linkPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, target), full))
}

// newSysfsTree builds a root hub with a SanDisk stick (one partition) and a
// keyboard attached.
func newSysfsTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeAttrs(t, filepath.Join(root, hostPath), map[string]string{
		"idVendor": "1d6b", "idProduct": "0002",
		"manufacturer": "Linux Foundation", "product": "xHCI Host Controller",
	})
	writeAttrs(t, filepath.Join(root, cruzerPath), map[string]string{
		"idVendor": "0781", "idProduct": "5567",
		"manufacturer": "SanDisk", "product": "Cruzer Blade", "serial": "4C530001230529110263",
	})
	writeAttrs(t, filepath.Join(root, cruzerPath, "1-2:1.0"), map[string]string{
		"bInterfaceClass": "08", "bInterfaceSubClass": "06",
	})
	writeAttrs(t, filepath.Join(root, blockPath), map[string]string{"size": "60751872"})
	writeAttrs(t, filepath.Join(root, blockPath, "sdb1"), map[string]string{"partition": "1"})
	writeAttrs(t, filepath.Join(root, keyboardPath), map[string]string{
		"idVendor": "046d", "idProduct": "c31c", "product": "USB Keyboard",
	})
	writeAttrs(t, filepath.Join(root, keyboardPath, "1-3:1.0"), map[string]string{
		"bInterfaceClass": "03", "bInterfaceSubClass": "01",
	})

	link(t, root, "bus/usb/devices/usb1", hostPath)
	link(t, root, "bus/usb/devices/1-2", cruzerPath)
	link(t, root, "bus/usb/devices/1-2:1.0", cruzerPath+"/1-2:1.0")
	link(t, root, "bus/usb/devices/1-3", keyboardPath)
	link(t, root, "class/block/sdb", blockPath)
	link(t, root, "class/block/sdb1", blockPath+"/sdb1")

	return root
}

type fakeSource struct {
	events chan *kobject.Event
	done   chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan *kobject.Event, 8), done: make(chan struct{})}
}

func (s *fakeSource) Receive() (*kobject.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return nil, errors.New("source closed")
	}
}

func (s *fakeSource) Close() error {
	close(s.done)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	reg := NewWithSource(newSysfsTree(t), func() (EventSource, error) { return src, nil })
	t.Cleanup(func() {
		assert.Zero(t, reg.Refs().Outstanding(), "registry references leaked")
	})
	return reg, src
}

func names(t *testing.T, it registry.Iterator) []string {
	t.Helper()
	defer it.Close()
	var out []string
	registry.Drain(it, func(e registry.Entry) {
		name, err := e.Name()
		require.NoError(t, err)
		out = append(out, name)
	})
	return out
}

func TestFindMatching_USBDevices(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	it, err := reg.FindMatching(registry.ServiceMatching(registry.ClassUSBDevice))
	require.NoError(t, err)
	assert.Equal(t, []string{"Cruzer Blade", "USB Keyboard"}, names(t, it))
}

func TestFindMatching_MassStorageInterface(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	it, err := reg.FindMatching(registry.MassStorageMatching())
	require.NoError(t, err)
	defer it.Close()

	iface, ok := it.Next()
	require.True(t, ok)
	bsd, ok := registry.SearchString(iface, registry.KeyBSDName, registry.SearchRecursive)
	iface.Release()
	assert.True(t, ok)
	assert.Equal(t, "sdb", bsd)

	_, ok = it.Next()
	assert.False(t, ok, "the keyboard interface is not mass storage")
}

func TestFindMatching_BSDName(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)

	it, err := reg.FindMatching(registry.BSDNameMatching("sdb"))
	require.NoError(t, err)
	disk, ok := it.Next()
	require.True(t, ok)
	children := names(t, disk.Children())
	disk.Release()
	it.Close()
	assert.Equal(t, []string{"sdb1"}, children)

	it, err = reg.FindMatching(registry.BSDNameMatching("sdz"))
	require.NoError(t, err)
	assert.Empty(t, names(t, it))

	it, err = reg.FindMatching(registry.BSDNameMatching("../sdb"))
	require.NoError(t, err)
	assert.Empty(t, names(t, it))
}

func TestExtractFromSysfs(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	arb := helpers.NewMemoryArbiter()
	arb.Mount("sdb1", "/media/user/CRUZER")

	var messages []string
	x := device.NewExtractor(mount.NewResolver(reg, arb), func(p string) { messages = append(messages, p) })

	it, err := reg.FindMatching(registry.ServiceMatching(registry.ClassUSBDevice))
	require.NoError(t, err)
	defer it.Close()
	e, ok := it.Next()
	require.True(t, ok)
	md, err := x.Extract(e)
	e.Release()
	require.NoError(t, err)

	assert.Equal(t, device.Metadata{
		DeviceName:         "Cruzer Blade",
		DeviceSystemPath:   "sdb",
		Product:            "Cruzer Blade",
		ProductDescription: "Cruzer Blade",
		ProductID:          "21863",
		SerialNumber:       "4C530001230529110263",
		Vendor:             "SanDisk",
		VendorDescription:  "SanDisk",
		VendorID:           "1921",
	}, md)
	assert.Equal(t, []string{"/media/user/CRUZER"}, messages)
}

func TestVendorFallsBackToHub(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	it, err := reg.FindMatching(registry.ServiceMatching(registry.ClassUSBDevice))
	require.NoError(t, err)
	defer it.Close()

	cruzer, ok := it.Next()
	require.True(t, ok)
	cruzer.Release()
	kbd, ok := it.Next()
	require.True(t, ok)
	defer kbd.Release()

	vendor, ok := registry.SearchString(kbd, registry.KeyVendorName, registry.SearchRecursive|registry.SearchParents)
	assert.True(t, ok)
	assert.Equal(t, "Linux Foundation", vendor)
}

func receiveEntry(t *testing.T, sub registry.Subscription) registry.Entry {
	t.Helper()
	select {
	case <-sub.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	e, ok := sub.Next()
	require.True(t, ok)
	return e
}

func TestNotifications(t *testing.T) {
	t.Parallel()

	reg, src := newTestRegistry(t)
	port, err := reg.NewPort()
	require.NoError(t, err)
	defer func() { require.NoError(t, port.Close()) }()

	m := registry.ServiceMatching(registry.ClassUSBDevice)
	arrivals, err := port.AddNotification(registry.Matched, m)
	require.NoError(t, err)
	defer arrivals.Close()
	removals, err := port.AddNotification(registry.Terminated, m)
	require.NoError(t, err)
	defer removals.Close()

	assert.Len(t, names(t, drainOnly(arrivals)), 2, "arrivals are armed with attached devices")

	src.events <- &kobject.Event{
		Action: kobject.Add, Subsystem: "usb", DevicePath: keyboardPath + "/1-3:1.0",
		Values: map[string]string{"DEVTYPE": "usb_interface"},
	}
	src.events <- &kobject.Event{
		Action: kobject.Add, Subsystem: "usb", DevicePath: keyboardPath,
		Values: map[string]string{"DEVTYPE": "usb_device", "PRODUCT": "46d/c31c/4910"},
	}
	e := receiveEntry(t, arrivals)
	name, _ := e.Name()
	e.Release()
	assert.Equal(t, "USB Keyboard", name)

	// the stick was seeded at subscription time, so its removal replays
	// the attached snapshot even though sysfs no longer has it
	require.NoError(t, os.RemoveAll(filepath.Join(reg.root, cruzerPath)))
	src.events <- &kobject.Event{
		Action: kobject.Remove, Subsystem: "usb", DevicePath: cruzerPath,
		Values: map[string]string{"DEVTYPE": "usb_device", "PRODUCT": "781/5567/100"},
	}
	e = receiveEntry(t, removals)
	bsd, _ := registry.SearchString(e, registry.KeyBSDName, registry.SearchRecursive)
	serial, _ := registry.SearchString(e, registry.KeySerialNumber, registry.SearchRecursive|registry.SearchParents)
	e.Release()
	assert.Equal(t, "sdb", bsd)
	assert.Equal(t, "4C530001230529110263", serial)

	src.events <- &kobject.Event{
		Action: kobject.Remove, Subsystem: "usb", DevicePath: hostPath + "/1-9",
		Values: map[string]string{"DEVTYPE": "usb_device", "PRODUCT": "1234/abcd/100"},
	}
	e = receiveEntry(t, removals)
	name, _ = e.Name()
	vid, _ := registry.SearchNumber(e, registry.KeyVendorID, registry.SearchRecursive)
	pid, _ := registry.SearchNumber(e, registry.KeyProductID, registry.SearchRecursive)
	e.Release()
	assert.Equal(t, "1-9", name)
	assert.Equal(t, int32(0x1234), vid)
	assert.Equal(t, int32(0xabcd), pid)
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

// A stick's usb_device uevent arrives before the kernel has registered its
// disk, so the mount is only found once the block uevents follow.
func TestWatcher_StorageAfterArrival(t *testing.T) {
	t.Parallel()

	reg, src := newTestRegistry(t)
	require.NoError(t, os.RemoveAll(filepath.Join(reg.root, cruzerPath)))

	arb := helpers.NewMemoryArbiter()
	inserted := make(chan device.Metadata, 4)
	changed := make(chan device.Metadata, 4)
	messages := make(chan string, 4)
	w := watcher.New(reg, arb, watcher.Callbacks{
		Inserted: func(md device.Metadata) { inserted <- md },
		Changed:  func(md device.Metadata) { changed <- md },
		Message:  func(p string) { messages <- p },
	})
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	assert.Equal(t, "USB Keyboard", waitFor(t, inserted).DeviceName)

	writeAttrs(t, filepath.Join(reg.root, cruzerPath), map[string]string{
		"idVendor": "0781", "idProduct": "5567",
		"manufacturer": "SanDisk", "product": "Cruzer Blade", "serial": "4C530001230529110263",
	})
	writeAttrs(t, filepath.Join(reg.root, cruzerPath, "1-2:1.0"), map[string]string{
		"bInterfaceClass": "08", "bInterfaceSubClass": "06",
	})
	src.events <- &kobject.Event{
		Action: kobject.Add, Subsystem: "usb", DevicePath: cruzerPath,
		Values: map[string]string{"DEVTYPE": "usb_device", "PRODUCT": "781/5567/100"},
	}
	md := waitFor(t, inserted)
	assert.Equal(t, "Cruzer Blade", md.DeviceName)
	assert.Equal(t, filepath.Join(reg.root, cruzerPath), md.DeviceSystemPath)
	assert.Empty(t, messages)

	writeAttrs(t, filepath.Join(reg.root, blockPath), map[string]string{"size": "60751872"})
	writeAttrs(t, filepath.Join(reg.root, blockPath, "sdb1"), map[string]string{"partition": "1"})
	arb.Mount("sdb1", "/media/user/CRUZER")
	src.events <- &kobject.Event{
		Action: kobject.Add, Subsystem: "block", DevicePath: blockPath,
		Values: map[string]string{"DEVTYPE": "disk"},
	}
	src.events <- &kobject.Event{
		Action: kobject.Add, Subsystem: "block", DevicePath: blockPath + "/sdb1",
		Values: map[string]string{"DEVTYPE": "partition"},
	}

	assert.Equal(t, "/media/user/CRUZER", waitFor(t, messages))
	md = waitFor(t, changed)
	assert.Equal(t, "Cruzer Blade", md.DeviceName)
	assert.Equal(t, "sdb", md.DeviceSystemPath)
	assert.Equal(t, "4C530001230529110263", md.SerialNumber)

	w.RequestStop()
	require.NoError(t, waitFor(t, done))
	assert.Empty(t, changed, "the partition uevent does not report the stick again")
}

// drainOnly consumes what is already queued without waiting on Ready.
func drainOnly(sub registry.Subscription) registry.Iterator {
	var entries []registry.Entry
	for {
		e, ok := sub.Next()
		if !ok {
			return registry.NewSliceIterator(entries)
		}
		entries = append(entries, e)
	}
}

func TestNewPort_SourceFailure(t *testing.T) {
	t.Parallel()

	reg := NewWithSource(t.TempDir(), func() (EventSource, error) {
		return nil, errors.New("netlink unavailable")
	})
	_, err := reg.NewPort()
	require.Error(t, err)
}

func TestReadHex(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeAttrs(t, dir, map[string]string{"ok": "05ac", "bad": "zz"})

	v, err := readHex(dir, "ok")
	require.NoError(t, err)
	assert.Equal(t, 0x05ac, v)

	_, err = readHex(dir, "bad")
	require.Error(t, err)
	_, err = readHex(dir, "missing")
	require.Error(t, err)
}
