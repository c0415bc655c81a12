package model

// platformNames maps backend platform names to the names shown to users
var platformNames = map[string]string{
	"linux32":                    "Linux",
	"linux32-devedition":         "Linux DevEdition",
	"linux-shippable":            "Linux Shippable",
	"linux32-shippable":          "Linux Shippable",
	"linux1804-32":               "Linux 18.04",
	"linux1804-32-shippable":     "Linux 18.04 Shippable",
	"linux64":                    "Linux x64",
	"linux64-asan":               "Linux x64 asan",
	"linux64-asan-qr":            "Linux x64 WebRender asan",
	"linux64-devedition":         "Linux x64 DevEdition",
	"linux64-qr":                 "Linux x64 WebRender",
	"linux64-shippable":          "Linux x64 Shippable",
	"linux64-shippable-qr":       "Linux x64 WebRender Shippable",
	"linux64-ccov":               "Linux x64 CCov",
	"linux64-noopt":              "Linux x64 NoOpt",
	"linux64-aarch64":            "Linux AArch64",
	"linux1804-64":               "Linux 18.04 x64",
	"linux1804-64-asan":          "Linux 18.04 x64 asan",
	"linux1804-64-qr":            "Linux 18.04 x64 WebRender",
	"linux1804-64-shippable":     "Linux 18.04 x64 Shippable",
	"linux1804-64-shippable-qr":  "Linux 18.04 x64 WebRender Shippable",
	"osx-cross":                  "OS X Cross Compiled",
	"osx-shippable":              "OS X Cross Compiled Shippable",
	"osx-aarch64-shippable":      "OS X AArch64 Cross Compiled Shippable",
	"macosx1015-64":              "OS X 10.15",
	"macosx1015-64-qr":           "OS X 10.15 WebRender",
	"macosx1015-64-shippable":    "OS X 10.15 Shippable",
	"macosx1100-64":              "OS X 11",
	"macosx1100-64-qr":           "OS X 11 WebRender",
	"macosx1100-64-shippable-qr": "OS X 11 WebRender Shippable",
	"windows10-32":               "Windows 10 x86",
	"windows10-64":               "Windows 10 x64",
	"windows10-64-qr":            "Windows 10 x64 WebRender",
	"windows10-64-shippable":     "Windows 10 x64 Shippable",
	"windows10-64-shippable-qr":  "Windows 10 x64 WebRender Shippable",
	"windows10-aarch64":          "Windows 10 AArch64",
	"windows11-64-2009":          "Windows 11 x64 22H2",
	"android-5-0-armv7":          "Android 5.0 ARMv7",
	"android-5-0-aarch64":        "Android 5.0 AArch64",
	"android-hw-p2-8-0-arm7":     "Android 8.0 Pixel2",
	"gecko-decision":             "Gecko Decision Task",
	"lint":                       "Linting",
	"taskcluster-images":         "Docker Images",
	"toolchains":                 "Toolchains",
	"diff":                       "Diffoscope",
}

// PlatformName returns the display name for a platform, or the platform
// itself when it has no mapping.
func PlatformName(platform string) string {
	if name, ok := platformNames[platform]; ok {
		return name
	}
	return platform
}
