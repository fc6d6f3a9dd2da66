// Side-channel path construction and escaping.

package codec

import (
	"strconv"
	"strings"
)

var segmentEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`)

// child returns the path of the member named seg under path.
func child(path, seg string) string {
	seg = segmentEscaper.Replace(seg)
	if path == "" {
		return seg
	}
	return path + "." + seg
}

// index returns the path of element i under path.
func index(path string, i int) string {
	return child(path, strconv.Itoa(i))
}

// join appends an already escaped relative path to path.
func join(path, rel string) string {
	switch {
	case rel == "":
		return path
	case path == "":
		return rel
	default:
		return path + "." + rel
	}
}
