// Package registry remembers printers the user has connected to, their
// custom names and which one was used last
package registry

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/thereceipt/btprint/internal/printer"
	"github.com/thereceipt/btprint/internal/syncutil"
)

// Registry manages printer identities and custom names
type Registry struct {
	fs       afero.Fs
	data     map[string]*PrinterEntry
	filePath string
	mu       syncutil.RWMutex
}

// PrinterEntry stores persistent information about a printer
type PrinterEntry struct {
	LastConnected time.Time    `json:"last_connected,omitempty"`
	ID            string       `json:"id"`
	IdentityKey   string       `json:"identity_key"`
	Transport     printer.Kind `json:"transport,omitempty"`
	DeviceID      string       `json:"device_id,omitempty"`
	Address       string       `json:"address"`
	Description   string       `json:"description"`
	Name          string       `json:"name,omitempty"` // Custom user-set name
}

// Device returns the entry as a printer device, preferring the custom name
func (e *PrinterEntry) Device() printer.Device {
	name := e.Name
	if name == "" {
		name = e.Description
	}
	id := e.DeviceID
	if id == "" {
		id = e.Address
	}
	return printer.Device{ID: id, Name: name, Address: e.Address}
}

// PrinterInfo represents basic printer information for detection
type PrinterInfo struct {
	Transport   printer.Kind
	DeviceID    string
	Address     string
	Description string
}

// InfoFromDevice builds registry info for a discovered device
func InfoFromDevice(dev printer.Device, kind printer.Kind) PrinterInfo {
	return PrinterInfo{
		Transport:   kind,
		DeviceID:    dev.ID,
		Address:     dev.Address,
		Description: dev.Name,
	}
}

// New creates a new Registry backed by the file at filePath on fs
func New(fs afero.Fs, filePath string) (*Registry, error) {
	r := &Registry{
		fs:       fs,
		filePath: filePath,
		data:     make(map[string]*PrinterEntry),
	}

	if err := r.load(); err != nil {
		// If file doesn't exist, that's okay - we'll create it on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
	}

	return r, nil
}

// GetPrinterID gets or creates a persistent ID for a printer
func (r *Registry) GetPrinterID(info PrinterInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entryLocked(info).ID
}

func (r *Registry) entryLocked(info PrinterInfo) *PrinterEntry {
	identityKey := generateIdentityKey(info)

	if entry, exists := r.data[identityKey]; exists {
		if info.Description != "" {
			entry.Description = info.Description
		}
		if info.Transport != "" {
			entry.Transport = info.Transport
		}
		if info.DeviceID != "" {
			entry.DeviceID = info.DeviceID
		}
		return entry
	}

	entry := &PrinterEntry{
		ID:          uuid.New().String(),
		IdentityKey: identityKey,
		Transport:   info.Transport,
		DeviceID:    info.DeviceID,
		Address:     info.Address,
		Description: info.Description,
	}
	r.data[identityKey] = entry
	r.saveLocked()
	return entry
}

// GetPrinterName gets the custom name for a printer, or empty string if not set
func (r *Registry) GetPrinterName(printerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.findLocked(printerID); entry != nil {
		return entry.Name
	}
	return ""
}

// SetPrinterName sets a custom name for a printer by registry ID or address
func (r *Registry) SetPrinterName(idOrAddress string, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.findLocked(idOrAddress)
	if entry == nil {
		return false
	}
	entry.Name = name
	r.saveLocked()
	return true
}

// GetPrinterInfo gets all stored information for a printer
func (r *Registry) GetPrinterInfo(idOrAddress string) *PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.findLocked(idOrAddress); entry != nil {
		// Return a copy to avoid race conditions
		entryCopy := *entry
		return &entryCopy
	}
	return nil
}

// RemovePrinter removes a printer from the registry
func (r *Registry) RemovePrinter(idOrAddress string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.findLocked(idOrAddress)
	if entry == nil {
		return false
	}
	delete(r.data, entry.IdentityKey)
	r.saveLocked()
	return true
}

// GetAll returns all registered printers
func (r *Registry) GetAll() map[string]*PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy to avoid race conditions
	result := make(map[string]*PrinterEntry, len(r.data))
	for k, v := range r.data {
		entryCopy := *v
		result[k] = &entryCopy
	}
	return result
}

// RecordConnection marks dev as the most recently connected printer
func (r *Registry) RecordConnection(dev printer.Device, kind printer.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entryLocked(InfoFromDevice(dev, kind))
	entry.LastConnected = time.Now()
	return r.save()
}

// LastConnected returns the most recently connected printer
func (r *Registry) LastConnected() (printer.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *PrinterEntry
	for _, entry := range r.data {
		if entry.LastConnected.IsZero() {
			continue
		}
		if last == nil || entry.LastConnected.After(last.LastConnected) {
			last = entry
		}
	}
	if last == nil {
		return printer.Device{}, false
	}
	dev := last.Device()
	// keep the discovered name so it matches paired lists
	if last.Description != "" {
		dev.Name = last.Description
	}
	return dev, true
}

// Label returns the custom name for address, falling back to name
func (r *Registry) Label(address, name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.findLocked(address); entry != nil && entry.Name != "" {
		return entry.Name
	}
	return name
}

func (r *Registry) findLocked(idOrAddress string) *PrinterEntry {
	if entry, ok := r.data[addressKey(idOrAddress)]; ok {
		return entry
	}
	for _, entry := range r.data {
		if entry.ID == idOrAddress {
			return entry
		}
	}
	return nil
}

func (r *Registry) load() error {
	data, err := afero.ReadFile(r.fs, r.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &r.data)
}

func (r *Registry) saveLocked() {
	if err := r.save(); err != nil {
		log.Warn().Err(err).Str("path", r.filePath).Msg("failed to save registry")
	}
}

func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}

	if err := r.fs.MkdirAll(filepath.Dir(r.filePath), 0o750); err != nil {
		return err
	}
	return afero.WriteFile(r.fs, r.filePath, data, 0o600)
}

func addressKey(address string) string {
	return "bt:" + strings.ToUpper(address)
}

// generateIdentityKey creates a unique key for a printer based on its characteristics
func generateIdentityKey(info PrinterInfo) string {
	if info.Address != "" {
		return addressKey(info.Address)
	}

	// Fallback: hash the description
	hash := md5.Sum([]byte(info.Description))
	return fmt.Sprintf("hash:%x", hash)
}
