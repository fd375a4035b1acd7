package browser

import "github.com/go-rod/rod/lib/proto"

// blockedResources are never fetched inside the rendering page; charts draw
// on a canvas and only need scripts.
var blockedResources = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeImage:      true,
	proto.NetworkResourceTypeStylesheet: true,
	proto.NetworkResourceTypeFont:       true,
	proto.NetworkResourceTypeMedia:      true,
}

// Blocked reports whether a request of the given type is denied
func Blocked(t proto.NetworkResourceType) bool {
	return blockedResources[t]
}
