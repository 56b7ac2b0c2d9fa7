// Package security validates target URLs before they are handed to the
// browser fleet, guarding against SSRF against cloud metadata services and
// internal networks.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/idna"
)

// dnsLookupTimeout bounds DNS resolution so a slow/unresponsive resolver
// can't stall request handling.
const dnsLookupTimeout = 5 * time.Second

func lookupIPWithTimeout(ctx context.Context, hostname string) ([]net.IP, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dnsLookupTimeout)
		defer cancel()
	}

	resolver := &net.Resolver{}
	return resolver.LookupIP(ctx, "ip", hostname)
}

// Target URL validation errors.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed, must be http or https")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
	ErrDNSLookupFailed  = errors.New("DNS lookup failed or returned no IPs")
	ErrInvalidIDN       = errors.New("invalid internationalized domain name")
)

// idnaProfile is used for strict IDN validation to detect homograph attacks.
var idnaProfile = idna.New(
	idna.ValidateLabels(true),
	idna.VerifyDNSLength(true),
	idna.StrictDomainName(true),
)

// AllowedSchemes are the only schemes §3 permits for a ScreenshotRequest URL.
var AllowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// blockedHosts are hostnames that should never be navigated to, beyond
// what IP-range checks alone catch.
var blockedHosts = map[string]bool{
	"localhost": true,

	"instance-data":              true, // AWS instance metadata hostname
	"instance-data.ec2.internal": true,

	"metadata.google.internal": true,
	"metadata":                 true,

	"metadata.azure.com":        true,
	"management.azure.com":      true,
	"login.microsoftonline.com": true,
	"graph.microsoft.com":       true,

	"metadata.aliyun.com":      true,
	"metadata.oraclecloud.com": true,
	"metadata.softlayer.local": true,
	"metadata.digitalocean.com": true,
	"metadata.hetzner.cloud":    true,
	"metadata.vultr.com":        true,
	"metadata.linode.com":       true,
	"metadata.tencentyun.com":   true,

	"kubernetes.default.svc": true,
	"kubernetes.default":     true,
	"kubernetes":             true,
}

// cloudMetadataIPs are well-known cloud provider metadata service addresses.
var cloudMetadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean, OpenStack
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata v2
	net.ParseIP("169.254.170.23"),  // AWS ECS task metadata v4
	net.ParseIP("fd00:ec2::254"),
	net.ParseIP("fc00:ec2::254"),
	net.ParseIP("169.254.169.253"), // Azure Wire Server
	net.ParseIP("169.254.169.252"), // GCP Kubernetes metadata
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud IMDS
	net.ParseIP("169.254.0.1"),
}

// allowPrivateTargets lets development/test deployments point Pantin at
// an internal target (e.g. a local fixture server) without disabling SSRF
// protection for every deployment.
var allowPrivateTargets = os.Getenv("PANTIN_ALLOW_PRIVATE_TARGETS") == "true"

// ValidateTargetURL checks whether a ScreenshotRequest's URL is safe to
// navigate the browser fleet to. It enforces §3's scheme invariant and
// blocks SSRF against localhost, private networks, and cloud metadata
// endpoints, unless PANTIN_ALLOW_PRIVATE_TARGETS=true.
func ValidateTargetURL(rawURL string) error {
	return ValidateTargetURLWithContext(context.Background(), rawURL)
}

// ValidateTargetURLWithContext is ValidateTargetURL with DNS timeout
// control via ctx.
func ValidateTargetURLWithContext(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	if !AllowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}

	if allowPrivateTargets {
		return nil
	}

	hostname := strings.ToLower(parsed.Hostname())
	if blockedHosts[hostname] {
		return ErrLocalhostBlocked
	}
	if isLocalhostHostname(hostname) {
		return ErrLocalhostBlocked
	}

	if err := validateIDN(hostname); err != nil {
		return err
	}

	ip := parseIPWithNormalization(hostname)
	if ip != nil {
		ip = normalizeIPv4Mapped(ip)
		if err := validateIP(ip); err != nil {
			return fmt.Errorf("invalid parsed IP %s: %w", ip.String(), err)
		}
		return nil
	}

	ips, err := lookupIPWithTimeout(ctx, hostname)
	if err != nil || len(ips) == 0 {
		return ErrDNSLookupFailed
	}
	for _, resolvedIP := range ips {
		resolvedIP = normalizeIPv4Mapped(resolvedIP)
		if err := validateIP(resolvedIP); err != nil {
			return fmt.Errorf("invalid resolved IP for %s: %w", hostname, err)
		}
	}

	return nil
}

// parseIPWithNormalization parses an IP address string, handling encoding
// formats that could be used to bypass SSRF protections: decimal, octal,
// hex, and shortened dotted forms.
func parseIPWithNormalization(hostname string) net.IP {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}

	if num, err := strconv.ParseUint(hostname, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	parts := strings.Split(hostname, ".")
	if len(parts) == 4 {
		var octets [4]byte
		for i, part := range parts {
			val, err := parseIntWithBase(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	}

	if len(parts) == 2 {
		first, err1 := parseIntWithBase(parts[0])
		second, err2 := parseIntWithBase(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && second <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(second>>16), byte(second>>8), byte(second))
		}
	}

	if len(parts) == 3 {
		first, err1 := parseIntWithBase(parts[0])
		second, err2 := parseIntWithBase(parts[1])
		third, err3 := parseIntWithBase(parts[2])
		if err1 == nil && err2 == nil && err3 == nil &&
			first <= 255 && second <= 255 && third <= 0xFFFF {
			if third > 255 && (third&0xFF) != 0 {
				return nil // ambiguous truncating encoding, reject
			}
			return net.IPv4(byte(first), byte(second), byte(third>>8), byte(third))
		}
	}

	return nil
}

func parseIntWithBase(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}

	if strings.HasPrefix(s, "0") && len(s) > 1 && s[1] != 'x' && s[1] != 'X' {
		return strconv.ParseUint(s[1:], 8, 64)
	}

	return strconv.ParseUint(s, 10, 64)
}

// normalizeIPv4Mapped converts IPv4-mapped IPv6 addresses (::ffff:x.x.x.x)
// to IPv4, preventing bypasses via IPv6 notation.
func normalizeIPv4Mapped(ip net.IP) net.IP {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

// validateIDN converts a Unicode hostname to punycode and rejects it if
// IDNA validation fails; a bare homograph check, not a blocklist.
func validateIDN(hostname string) error {
	isASCII := true
	for i := 0; i < len(hostname); i++ {
		if hostname[i] > 127 {
			isASCII = false
			break
		}
	}
	if isASCII {
		return nil
	}

	asciiHost, err := idnaProfile.ToASCII(hostname)
	if err != nil {
		log.Warn().Str("hostname", hostname).Err(err).Msg("invalid IDN hostname")
		return ErrInvalidIDN
	}

	if strings.Contains(asciiHost, "xn--") {
		log.Debug().Str("original", hostname).Str("punycode", asciiHost).Msg("IDN domain detected (punycode conversion)")
	}

	return nil
}

func isLocalhostHostname(hostname string) bool {
	localHostnames := []string{
		"localhost",
		"localhost.localdomain",
		"local",
		"ip6-localhost",
		"ip6-loopback",
	}
	for _, local := range localHostnames {
		if hostname == local {
			return true
		}
	}
	if strings.HasSuffix(hostname, ".localhost") {
		return true
	}
	if strings.HasPrefix(hostname, "localhost.") {
		return true
	}
	return false
}

// isLoopbackIP reports whether ip is in the loopback range: the entire
// 127.0.0.0/8 block for IPv4, ::1 for IPv6.
func isLoopbackIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 127
	}
	return ip.Equal(net.IPv6loopback)
}

func validateIP(ip net.IP) error {
	if isLoopbackIP(ip) {
		return ErrLocalhostBlocked
	}
	if ip.IsPrivate() {
		return ErrPrivateIPBlocked
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ErrPrivateIPBlocked
	}
	if isCloudMetadataIP(ip) {
		return ErrMetadataBlocked
	}
	if ip.IsUnspecified() {
		return ErrPrivateIPBlocked
	}
	return nil
}

func isCloudMetadataIP(ip net.IP) bool {
	for _, metadataIP := range cloudMetadataIPs {
		if ip.Equal(metadataIP) {
			log.Warn().Str("blocked_ip", ip.String()).Msg("blocked cloud metadata access attempt (potential SSRF)")
			return true
		}
	}
	return false
}
