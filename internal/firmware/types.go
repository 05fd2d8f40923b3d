package firmware

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	activationPrefix = "xyz.openbmc_project.Software.Activation.Activations."
	requestedPrefix  = "xyz.openbmc_project.Software.Activation.RequestedActivations."
	purposePrefix    = "xyz.openbmc_project.Software.Version.VersionPurpose."
)

// Activation is the install state of an image as reported by the BMC.
type Activation int

const (
	ActivationUnknown Activation = iota
	NotReady
	Invalid
	Ready
	Activating
	Active
	Failed
)

var activationNames = map[Activation]string{
	NotReady:   "NotReady",
	Invalid:    "Invalid",
	Ready:      "Ready",
	Activating: "Activating",
	Active:     "Active",
	Failed:     "Failed",
}

func (a Activation) String() string {
	if name, ok := activationNames[a]; ok {
		return name
	}
	return "Unknown"
}

// DBus returns the D-Bus enumeration value, e.g.
// "xyz.openbmc_project.Software.Activation.Activations.Ready".
func (a Activation) DBus() string {
	return activationPrefix + a.String()
}

// ParseActivation accepts the full D-Bus value or its short name.
func ParseActivation(s string) Activation {
	name := strings.TrimPrefix(s, activationPrefix)
	for a, n := range activationNames {
		if n == name {
			return a
		}
	}
	return ActivationUnknown
}

// RequestedActivation is the writable activation request.
type RequestedActivation int

const (
	RequestNone RequestedActivation = iota
	RequestActive
)

func (r RequestedActivation) String() string {
	if r == RequestActive {
		return "Active"
	}
	return "None"
}

// DBus returns the D-Bus enumeration value.
func (r RequestedActivation) DBus() string {
	return requestedPrefix + r.String()
}

// ParseRequestedActivation accepts the full D-Bus value or its short name.
func ParseRequestedActivation(s string) RequestedActivation {
	if strings.TrimPrefix(s, requestedPrefix) == "Active" {
		return RequestActive
	}
	return RequestNone
}

// Purpose tells which processor an image is for.
type Purpose int

const (
	PurposeUnknown Purpose = iota
	PurposeBMC
	PurposeHost
	PurposeSystem
	PurposeOther
)

var purposeNames = map[Purpose]string{
	PurposeBMC:    "BMC",
	PurposeHost:   "Host",
	PurposeSystem: "System",
	PurposeOther:  "Other",
}

func (p Purpose) String() string {
	if name, ok := purposeNames[p]; ok {
		return name
	}
	return "Unknown"
}

// DBus returns the D-Bus enumeration value.
func (p Purpose) DBus() string {
	return purposePrefix + p.String()
}

// ParsePurpose accepts the full D-Bus value or its short name, case
// insensitively.
func ParsePurpose(s string) Purpose {
	name := strings.TrimPrefix(s, purposePrefix)
	for p, n := range purposeNames {
		if strings.EqualFold(n, name) {
			return p
		}
	}
	return PurposeUnknown
}

// Image is a firmware image known to the BMC.
type Image struct {
	ID                  string
	Version             string
	Purpose             Purpose
	Activation          Activation
	RequestedActivation RequestedActivation
	// Priority 0 is the image the processor boots from.
	Priority int
	// HasPriority is false for images that never got a priority, e.g.
	// ones that are not yet activated.
	HasPriority bool
}

// imageObject is the D-Bus object as returned by GET .../software/<id>.
type imageObject struct {
	Activation          string `json:"Activation"`
	RequestedActivation string `json:"RequestedActivation"`
	Purpose             string `json:"Purpose"`
	Version             string `json:"Version"`
	Priority            *int   `json:"Priority"`
}

func (o imageObject) image(id string) Image {
	img := Image{
		ID:                  id,
		Version:             o.Version,
		Purpose:             ParsePurpose(o.Purpose),
		Activation:          ParseActivation(o.Activation),
		RequestedActivation: ParseRequestedActivation(o.RequestedActivation),
	}
	if o.Priority != nil {
		img.Priority = *o.Priority
		img.HasPriority = true
	}
	return img
}

func decodeImage(id string, raw json.RawMessage) (Image, error) {
	var obj imageObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Image{}, fmt.Errorf("failed to decode image %s: %w", id, err)
	}
	return obj.image(id), nil
}
