// Package codec centralizes manifest encoding.
//
// Manifests record the codec name, so changing the default only affects
// newly written indexes.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, error) {
	switch name {
	case "json":
		return JSON{}, nil
	case "go-json":
		return GoJSON{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// Default is the codec used for new manifests.
var Default Codec = GoJSON{}
