package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
)

// FallbackPrefix marks machine codes synthesized locally rather than
// obtained from the host primitive.
const FallbackPrefix = "fb_"

// Source identifies how a machine code was derived.
type Source int

const (
	// SourceUnknown means the code has not been resolved yet
	SourceUnknown Source = iota
	// SourceHost means the code came from the host fingerprint primitive
	SourceHost
	// SourceFallback means the code was synthesized from environment signals
	SourceFallback
)

// String returns a human-readable source name
func (s Source) String() string {
	switch s {
	case SourceHost:
		return "host"
	case SourceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// HostFunc is the host-provided fingerprinting primitive. A nil HostFunc
// means the primitive is absent and the fallback is used directly.
type HostFunc func(ctx context.Context) (string, error)

// Provider resolves a best-effort stable device identifier. The resolved
// code is memoized for the process lifetime; concurrent callers observe the
// same value.
type Provider struct {
	host   HostFunc
	logger *slog.Logger

	mu     sync.Mutex
	code   string
	source Source
}

// NewProvider creates a fingerprint provider. host may be nil.
func NewProvider(host HostFunc, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		host:   host,
		logger: logger.With(slog.String("component", "fingerprint")),
	}
}

// MachineCode returns the device identifier, resolving it on first use.
// Resolution cannot fail: when the host primitive is unavailable the
// fallback path always produces a string.
func (p *Provider) MachineCode(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.code != "" {
		return p.code
	}

	if p.host != nil {
		code, err := p.host(ctx)
		if err == nil && code != "" {
			p.code = code
			p.source = SourceHost
			p.logger.DebugContext(ctx, "machine code resolved from host primitive")
			return p.code
		}
		if err != nil {
			p.logger.WarnContext(ctx, "host fingerprint primitive failed, using fallback",
				slog.String("error", err.Error()))
		}
	}

	p.code = synthesize()
	p.source = SourceFallback
	p.logger.InfoContext(ctx, "machine code synthesized from environment signals",
		slog.String("source", p.source.String()))
	return p.code
}

// Source reports how the memoized code was derived. SourceUnknown before
// the first MachineCode call.
func (p *Provider) Source() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// synthesize builds a deterministic identifier from environment signals.
// Same inputs produce the same string, so repeated fallback resolution on
// one machine stays stable across sessions.
func synthesize() string {
	factors := []string{
		macSignal(),
		hostnameSignal(),
		cpuSignal(),
		runtime.GOOS,
		runtime.GOARCH,
	}

	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return FallbackPrefix + hex.EncodeToString(sum[:])
}

// macSignal returns the MAC address of the first usable network interface
func macSignal() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "unknown-mac"
	}

	// Prefer up, non-loopback interfaces
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac
		}
	}

	// Any interface with a MAC at all
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac
		}
	}

	return "unknown-mac"
}

// hostnameSignal returns the normalized machine hostname
func hostnameSignal() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "unknown-host"
	}
	return hostname
}

// cpuSignal returns a short hash of whatever CPU identity the platform
// exposes without elevated privileges.
func cpuSignal() string {
	var raw string

	switch runtime.GOOS {
	case "windows":
		raw = os.Getenv("PROCESSOR_IDENTIFIER")
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					raw = line
					break
				}
			}
		}
	}

	if raw == "" {
		raw = fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
	}

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}
