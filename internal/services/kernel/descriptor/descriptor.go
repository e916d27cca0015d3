package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalid marks descriptors that parsed but failed validation, or did not parse.
var ErrInvalid = errors.New("invalid connection descriptor")

// SchemeHMACSHA256 is the only signature scheme Jupyter kernels use in practice.
const SchemeHMACSHA256 = "hmac-sha256"

// Channel names one of the five kernel sockets.
type Channel string

const (
	ChannelShell     Channel = "shell"
	ChannelIOPub     Channel = "iopub"
	ChannelStdin     Channel = "stdin"
	ChannelControl   Channel = "control"
	ChannelHeartbeat Channel = "hb"
)

// Descriptor identifies a kernel endpoint. It is immutable once loaded.
type Descriptor struct {
	IP              string `json:"ip"`
	Transport       string `json:"transport"`
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	Key             string `json:"key"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name"`
}

// rawDescriptor mirrors Descriptor with pointer ports so absent fields are
// distinguishable from zero.
type rawDescriptor struct {
	IP              *string `json:"ip"`
	Transport       string  `json:"transport"`
	ShellPort       *int    `json:"shell_port"`
	IOPubPort       *int    `json:"iopub_port"`
	StdinPort       *int    `json:"stdin_port"`
	ControlPort     *int    `json:"control_port"`
	HBPort          *int    `json:"hb_port"`
	Key             *string `json:"key"`
	SignatureScheme string  `json:"signature_scheme"`
	KernelName      string  `json:"kernel_name"`
}

// Parse decodes and validates descriptor JSON.
func Parse(data []byte) (Descriptor, error) {
	var raw rawDescriptor
	if err := json.Unmarshal(data, &raw); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var missing []string
	required := []struct {
		name    string
		present bool
	}{
		{"ip", raw.IP != nil},
		{"shell_port", raw.ShellPort != nil},
		{"iopub_port", raw.IOPubPort != nil},
		{"stdin_port", raw.StdinPort != nil},
		{"control_port", raw.ControlPort != nil},
		{"hb_port", raw.HBPort != nil},
		{"key", raw.Key != nil},
	}
	for _, field := range required {
		if !field.present {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return Descriptor{}, fmt.Errorf("%w: missing required fields %s", ErrInvalid, strings.Join(missing, ", "))
	}

	desc := Descriptor{
		IP:              *raw.IP,
		Transport:       raw.Transport,
		ShellPort:       *raw.ShellPort,
		IOPubPort:       *raw.IOPubPort,
		StdinPort:       *raw.StdinPort,
		ControlPort:     *raw.ControlPort,
		HBPort:          *raw.HBPort,
		Key:             *raw.Key,
		SignatureScheme: raw.SignatureScheme,
		KernelName:      raw.KernelName,
	}
	if desc.Transport == "" {
		desc.Transport = "tcp"
	}
	if err := desc.Validate(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

// Load reads and parses the descriptor at path. A leading "~/" expands to the
// user's home directory.
func Load(path string) (Descriptor, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return Descriptor{}, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read connection file %s: %w", expanded, err)
	}
	desc, err := Parse(data)
	if err != nil {
		return Descriptor{}, fmt.Errorf("connection file %s: %w", expanded, err)
	}
	return desc, nil
}

// ExpandPath cleans path and expands a leading "~".
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("connection file path is empty")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}

// Validate checks field ranges and supported transports and schemes.
func (d Descriptor) Validate() error {
	var problems []string
	if strings.TrimSpace(d.IP) == "" {
		problems = append(problems, "ip is empty")
	}
	switch d.Transport {
	case "tcp", "ipc":
	default:
		problems = append(problems, fmt.Sprintf("transport %q is not supported", d.Transport))
	}
	if d.Transport == "tcp" {
		ports := []struct {
			name string
			port int
		}{
			{"shell_port", d.ShellPort},
			{"iopub_port", d.IOPubPort},
			{"stdin_port", d.StdinPort},
			{"control_port", d.ControlPort},
			{"hb_port", d.HBPort},
		}
		for _, p := range ports {
			if p.port < 1 || p.port > 65535 {
				problems = append(problems, fmt.Sprintf("%s %d is out of range", p.name, p.port))
			}
		}
	}
	switch d.SignatureScheme {
	case "", SchemeHMACSHA256:
	default:
		problems = append(problems, fmt.Sprintf("signature_scheme %q is not supported", d.SignatureScheme))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Port returns the port bound to ch.
func (d Descriptor) Port(ch Channel) int {
	switch ch {
	case ChannelShell:
		return d.ShellPort
	case ChannelIOPub:
		return d.IOPubPort
	case ChannelStdin:
		return d.StdinPort
	case ChannelControl:
		return d.ControlPort
	case ChannelHeartbeat:
		return d.HBPort
	default:
		return 0
	}
}

// Endpoint renders the ZeroMQ endpoint for ch, e.g. "tcp://127.0.0.1:60001".
// For ipc transports Jupyter names sockets "<ip>-<port>".
func (d Descriptor) Endpoint(ch Channel) string {
	port := d.Port(ch)
	if d.Transport == "ipc" {
		return fmt.Sprintf("ipc://%s-%d", d.IP, port)
	}
	return fmt.Sprintf("%s://%s:%d", d.Transport, d.IP, port)
}

// Address returns "ip:shell_port", the form used in status messages.
func (d Descriptor) Address() string {
	return fmt.Sprintf("%s:%d", d.IP, d.ShellPort)
}

// Signed reports whether messages must carry an HMAC signature.
func (d Descriptor) Signed() bool {
	return d.Key != ""
}

// Scheme returns the effective signature scheme.
func (d Descriptor) Scheme() string {
	if d.SignatureScheme == "" {
		return SchemeHMACSHA256
	}
	return d.SignatureScheme
}

// Marshal encodes d as indented descriptor JSON.
func (d Descriptor) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
