package types

import (
	"fmt"
	"runtime"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// FormatPlatform renders p as os/arch[/variant].
func FormatPlatform(p ocispec.Platform) string {
	if p.Variant != "" {
		return fmt.Sprintf("%s/%s/%s", p.OS, p.Architecture, p.Variant)
	}
	return fmt.Sprintf("%s/%s", p.OS, p.Architecture)
}

// ParsePlatform parses os/arch[/variant]. An empty string selects the host
// platform.
func ParsePlatform(platform string) (ocispec.Platform, error) {
	if platform == "" {
		return GetHostPlatform(), nil
	}
	parts := strings.Split(platform, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return ocispec.Platform{}, fmt.Errorf("invalid platform %q: expected os/arch[/variant]", platform)
	}
	for _, part := range parts {
		if part == "" {
			return ocispec.Platform{}, fmt.Errorf("invalid platform %q: empty component", platform)
		}
	}

	p := ocispec.Platform{
		OS:           parts[0],
		Architecture: parts[1],
	}
	if len(parts) > 2 {
		p.Variant = parts[2]
	}
	return p, nil
}

// GetHostPlatform returns the platform of the running binary. Images are
// linux images regardless of the host OS.
func GetHostPlatform() ocispec.Platform {
	p := ocispec.Platform{
		OS:           "linux",
		Architecture: runtime.GOARCH,
	}
	if p.Architecture == "arm" {
		p.Variant = "v7"
	}
	return p
}

func GetSupportedPlatforms() []ocispec.Platform {
	return []ocispec.Platform{
		{OS: "linux", Architecture: "amd64"},
		{OS: "linux", Architecture: "arm64"},
		{OS: "linux", Architecture: "arm", Variant: "v7"},
		{OS: "linux", Architecture: "arm", Variant: "v6"},
		{OS: "linux", Architecture: "386"},
		{OS: "linux", Architecture: "ppc64le"},
		{OS: "linux", Architecture: "s390x"},
		{OS: "linux", Architecture: "riscv64"},
		{OS: "windows", Architecture: "amd64"},
	}
}

// IsSupportedPlatform reports whether p is one of GetSupportedPlatforms.
func IsSupportedPlatform(p ocispec.Platform) bool {
	for _, s := range GetSupportedPlatforms() {
		if s.OS == p.OS && s.Architecture == p.Architecture && s.Variant == p.Variant {
			return true
		}
	}
	return false
}
