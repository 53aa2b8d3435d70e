// Package uploader is the host side of the OTA workflow: it prepares an
// encrypted firmware payload from a source directory and streams it to a
// device advertising the target service, using the exact write sequence the
// agent's control channel expects.
package uploader

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/otable/otable/internal/archive"
	"github.com/otable/otable/internal/config"
	"github.com/otable/otable/internal/payload"
	"github.com/otable/otable/internal/util"
)

// ChunkSize is the fixed write size for streaming ciphertext over the
// control characteristic.
const ChunkSize = 20

// Options describes one upload run.
type Options struct {
	SourceDir   string
	ServiceUUID bluetooth.UUID
	ControlUUID bluetooth.UUID
	Key         []byte

	// Progress, when non-nil, is called after every ciphertext write with
	// the bytes sent so far and the total.
	Progress func(sent, total int)
}

// Prepare encodes the source directory into the wire payload: tar stream,
// compressed, zero-padded, digested and encrypted.
func Prepare(dir string, key []byte) ([payload.DigestSize]byte, []byte, error) {
	tarData, err := archive.Pack(dir)
	if err != nil {
		return [payload.DigestSize]byte{}, nil, err
	}
	return payload.Encode(tarData, key)
}

// Chunks splits ciphertext into the fixed-size writes that go on the wire
// between the digest and the terminator.
func Chunks(ciphertext []byte) [][]byte {
	var chunks [][]byte
	for i := 0; i < len(ciphertext); i += ChunkSize {
		end := min(i+ChunkSize, len(ciphertext))
		chunks = append(chunks, ciphertext[i:end])
	}
	return chunks
}

// Upload prepares the payload, finds the device advertising the target
// service, and streams digest, ciphertext and terminator. Discovery or
// connection failure aborts the run cleanly; nothing is retried.
func Upload(opts Options) error {
	digest, ciphertext, err := Prepare(opts.SourceDir, opts.Key)
	if err != nil {
		return fmt.Errorf("preparing payload: %w", err)
	}

	device, err := findDevice(opts.ServiceUUID)
	if err != nil {
		return err
	}
	defer device.Disconnect()

	control, err := discoverCharacteristic(device, opts.ServiceUUID, opts.ControlUUID)
	if err != nil {
		return err
	}

	fmt.Printf("Uploading %d bytes\n", len(ciphertext))
	if _, err := control.WriteWithoutResponse(digest[:]); err != nil {
		return fmt.Errorf("writing digest: %w", err)
	}

	sent := 0
	for _, chunk := range Chunks(ciphertext) {
		if config.Verbose {
			util.PrintHexDump(chunk)
		}
		if _, err := control.WriteWithoutResponse(chunk); err != nil {
			return fmt.Errorf("writing chunk at offset %d: %w", sent, err)
		}
		sent += len(chunk)
		if opts.Progress != nil {
			opts.Progress(sent, len(ciphertext))
		}
	}

	if _, err := control.WriteWithoutResponse([]byte{}); err != nil {
		return fmt.Errorf("writing terminator: %w", err)
	}

	fmt.Println("Upload complete; the device restarts itself on success")
	return nil
}

// ReadVersion connects to the device and reads its version characteristic,
// the only out-of-band way to tell a successful update from a dropped
// connection.
func ReadVersion(serviceUUID, versionUUID bluetooth.UUID) (string, error) {
	device, err := findDevice(serviceUUID)
	if err != nil {
		return "", err
	}
	defer device.Disconnect()

	char, err := discoverCharacteristic(device, serviceUUID, versionUUID)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 32)
	n, err := char.Read(buf)
	if err != nil {
		return "", fmt.Errorf("reading version characteristic: %w", err)
	}
	return string(buf[:n]), nil
}

// findDevice scans for a peripheral advertising the service UUID and
// connects to it.
func findDevice(serviceUUID bluetooth.UUID) (bluetooth.Device, error) {
	var device bluetooth.Device

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return device, fmt.Errorf("enabling BLE adapter: %w", err)
	}

	fmt.Printf("Looking for device exposing service %s\n", serviceUUID.String())

	var result bluetooth.ScanResult
	var found bool
	err := adapter.Scan(func(adapter *bluetooth.Adapter, r bluetooth.ScanResult) {
		if config.Verbose && r.LocalName() != "" {
			config.Debugf("found %q (%s)", r.LocalName(), r.Address.String())
		}
		if !r.AdvertisementPayload.HasServiceUUID(serviceUUID) {
			return
		}
		result = r
		found = true
		adapter.StopScan()
	})
	if err != nil {
		return device, fmt.Errorf("scanning: %w", err)
	}
	if !found {
		return device, fmt.Errorf("device exposing service %s not found", serviceUUID.String())
	}

	if name := result.LocalName(); name != "" {
		fmt.Printf("Connecting to %s (%s)...\n", name, result.Address.String())
	} else {
		fmt.Printf("Connecting to %s...\n", result.Address.String())
	}

	device, err = adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return device, fmt.Errorf("connecting: %w", err)
	}
	return device, nil
}

// discoverCharacteristic resolves one characteristic inside the OTA service.
func discoverCharacteristic(device bluetooth.Device, serviceUUID, charUUID bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	var char bluetooth.DeviceCharacteristic

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return char, fmt.Errorf("discovering service: %w", err)
	}
	if len(services) == 0 {
		return char, fmt.Errorf("service %s not present on device", serviceUUID.String())
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return char, fmt.Errorf("discovering characteristic: %w", err)
	}
	if len(chars) == 0 {
		return char, fmt.Errorf("characteristic %s not present in service", charUUID.String())
	}
	return chars[0], nil
}
