package detector

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind names one of the pluggable detection backends.
type Kind string

const (
	// KindNone disables detection; the overlay stays hidden.
	KindNone Kind = "NONE"
	// KindFace is the face box / landmark / expression backend.
	KindFace Kind = "FACE"
	// KindPose is the body pose backend.
	KindPose Kind = "POSE"
	// KindMesh is the dense face mesh backend.
	KindMesh Kind = "MESH"
)

// ErrUnknownKind is returned by ParseKind for unrecognized names.
var ErrUnknownKind = errors.New("unknown backend kind")

// Kinds lists the selectable backends in menu order.
func Kinds() []Kind {
	return []Kind{KindNone, KindFace, KindPose, KindMesh}
}

// Title is the human readable label shown in menus.
func (k Kind) Title() string {
	switch k {
	case KindFace:
		return "face-api"
	case KindPose:
		return "TF : posenet"
	case KindMesh:
		return "TF : facemesh"
	default:
		return "NONE"
	}
}

// ParseKind accepts a kind name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownKind, "%q", s)
}
