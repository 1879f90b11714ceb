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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZaparooProject/usbwatch/pkg/registry"
	"github.com/rs/zerolog/log"
)

// usbTopologyPattern matches USB device directories like "1-2", "1-2.3".
// Root hubs ("usb1") and interfaces ("1-2:1.0") do not match.
var usbTopologyPattern = regexp.MustCompile(`^\d+-[\d.]+$`)

const maxBlockDepth = 8

// devices snapshots every attached USB device.
func (r *Registry) devices() []*registry.Node {
	dir := filepath.Join(r.root, "bus", "usb", "devices")
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Debug().Err(err).Str("path", dir).Msg("cannot list usb devices")
		return nil
	}

	nodes := make([]*registry.Node, 0, len(entries))
	for _, entry := range entries {
		if !usbTopologyPattern.MatchString(entry.Name()) {
			continue
		}
		real, err := filepath.EvalSymlinks(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Debug().Err(err).Str("device", entry.Name()).Msg("cannot resolve usb device")
			continue
		}
		node, err := r.deviceTree(real)
		if err != nil {
			log.Debug().Err(err).Str("device", entry.Name()).Msg("skipping usb device")
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// deviceTree snapshots the USB device at dir with its interfaces and block
// devices below it and its upstream hubs above it.
func (r *Registry) deviceTree(dir string) (*registry.Node, error) {
	dev, err := usbDeviceNode(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.Contains(entry.Name(), ":") {
			continue
		}
		ifaceDir := filepath.Join(dir, entry.Name())
		iface, ok := interfaceNode(ifaceDir, entry.Name())
		if !ok {
			continue
		}
		dev.AddChild(iface)
		attachBlocks(iface, ifaceDir)
	}

	top := dev
	for p := filepath.Dir(dir); p != r.root && p != filepath.Dir(p); p = filepath.Dir(p) {
		hub, err := usbDeviceNode(p)
		if err != nil {
			break
		}
		hub.AddChild(top)
		top = hub
	}
	top.Track(r.refs)

	return dev, nil
}

func usbDeviceNode(dir string) (*registry.Node, error) {
	vid, err := readHex(dir, "idVendor")
	if err != nil {
		return nil, err
	}
	pid, err := readHex(dir, "idProduct")
	if err != nil {
		return nil, err
	}

	props := map[string]any{
		registry.KeyVendorID:  vid,
		registry.KeyProductID: pid,
	}
	name := filepath.Base(dir)
	if v, ok := readAttr(dir, "manufacturer"); ok {
		props[registry.KeyVendorName] = v
	}
	if v, ok := readAttr(dir, "product"); ok {
		props[registry.KeyProductName] = v
		name = v
	}
	if v, ok := readAttr(dir, "serial"); ok {
		props[registry.KeySerialNumber] = v
	}

	return registry.NewNode(name, registry.ClassUSBDevice, props).SetPath(dir), nil
}

func interfaceNode(dir, base string) (*registry.Node, bool) {
	class, err := readHex(dir, "bInterfaceClass")
	if err != nil {
		return nil, false
	}
	props := map[string]any{registry.KeyInterfaceClass: class}
	if sub, err := readHex(dir, "bInterfaceSubClass"); err == nil {
		props[registry.KeyInterfaceSubClass] = sub
	}
	name := base
	if v, ok := readAttr(dir, "interface"); ok {
		name = v
	}
	return registry.NewNode(name, registry.ClassUSBInterface, props).SetPath(dir), true
}

// attachBlocks adds a media node for every disk found under dir, such as
// the SCSI host/target chain a mass storage interface binds.
func attachBlocks(parent *registry.Node, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		if strings.Count(rel, string(filepath.Separator)) >= maxBlockDepth {
			return filepath.SkipDir
		}
		if d.Name() != "block" {
			return nil
		}
		disks, err := os.ReadDir(path)
		if err != nil {
			return filepath.SkipDir
		}
		for _, disk := range disks {
			if disk.IsDir() {
				parent.AddChild(diskNode(filepath.Join(path, disk.Name()), disk.Name()))
			}
		}
		return filepath.SkipDir
	})
}

// diskNode snapshots a block device and its partitions.
func diskNode(dir, name string) *registry.Node {
	disk := registry.NewNode(name, registry.ClassMedia, map[string]any{
		registry.KeyBSDName: name,
	}).SetPath(dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return disk
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		partDir := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(partDir, "partition")); err != nil {
			continue
		}
		disk.AddChild(registry.NewNode(entry.Name(), registry.ClassMedia, map[string]any{
			registry.KeyBSDName: entry.Name(),
		}).SetPath(partDir))
	}
	return disk
}

// blockNode snapshots the block device registered as name.
func (r *Registry) blockNode(name string) (*registry.Node, bool) {
	if name == "" || strings.ContainsRune(name, filepath.Separator) {
		return nil, false
	}
	real, err := filepath.EvalSymlinks(filepath.Join(r.root, "class", "block", name))
	if err != nil {
		return nil, false
	}
	n := diskNode(real, name)
	n.Track(r.refs)
	return n, true
}

func readAttr(dir, name string) (string, bool) {
	//nolint:gosec // sysfs attribute paths are built from directory listings
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(data))
	return v, v != ""
}

func readHex(dir, name string) (int, error) {
	v, ok := readAttr(dir, name)
	if !ok {
		return 0, fmt.Errorf("missing %s in %s", name, dir)
	}
	n, err := strconv.ParseUint(v, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s in %s: %w", name, dir, err)
	}
	return int(n), nil
}
