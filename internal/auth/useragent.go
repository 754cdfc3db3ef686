package auth

import "strings"

const unknownDevice = "Unknown"

// DeviceName buckets a User-Agent into a display name
func DeviceName(userAgent string) string {
	if userAgent == "" {
		return unknownDevice
	}
	switch {
	case strings.Contains(userAgent, "iPhone"):
		return "iPhone"
	case strings.Contains(userAgent, "iPad"):
		return "iPad"
	case strings.Contains(userAgent, "Android"):
		return "Android Device"
	case strings.Contains(userAgent, "Windows"):
		return "Windows PC"
	case strings.Contains(userAgent, "Mac"):
		return "Mac"
	case strings.Contains(userAgent, "Linux"):
		return "Linux PC"
	default:
		return "Unknown Device"
	}
}

// Platform buckets a User-Agent into iOS, Android or Web
func Platform(userAgent string) string {
	if userAgent == "" {
		return unknownDevice
	}
	switch {
	case strings.Contains(userAgent, "iPhone"), strings.Contains(userAgent, "iPad"):
		return "iOS"
	case strings.Contains(userAgent, "Android"):
		return "Android"
	default:
		return "Web"
	}
}
