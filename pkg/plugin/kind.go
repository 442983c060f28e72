package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// Kind says how a plugin finds the software it belongs to.
type Kind string

const (
	Installer Kind = "installer"
	Portable  Kind = "portable"
	Custom    Kind = "custom"
)

var kindToString = map[Kind]string{
	Installer: "installer",
	Portable:  "portable",
	Custom:    "custom",
}

var stringToKind map[string]Kind

// ItemKind is the type of a single backup item.
type ItemKind string

const (
	File      ItemKind = "file"
	Directory ItemKind = "directory"
	Registry  ItemKind = "registry"
)

var itemKindToString = map[ItemKind]string{
	File:      "file",
	Directory: "directory",
	Registry:  "registry",
}

var stringToItemKind map[string]ItemKind

// Strategy is one of the closed set of detection strategies.
type Strategy string

const (
	ByName                  Strategy = "by-name"
	PathExists              Strategy = "path-exists"
	InstallLocationContains Strategy = "install-location-contains"
)

var strategyToString = map[Strategy]string{
	ByName:                  "by-name",
	PathExists:              "path-exists",
	InstallLocationContains: "install-location-contains",
}

var stringToStrategy map[string]Strategy

func init() {
	stringToKind = util.InvertMap(kindToString)
	stringToItemKind = util.InvertMap(itemKindToString)
	stringToStrategy = util.InvertMap(strategyToString)
}

func (k Kind) String() string {
	if str, ok := kindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_plugin_kind(%s)", string(k))
}

// ParseKind parses a plugin kind.
func ParseKind(s string) (Kind, error) {
	if k, ok := stringToKind[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("invalid plugin kind: %q. Must be 'installer', 'portable', or 'custom'", s)
}

// MarshalJSON implements the json.Marshaler interface for Kind.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Kind.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("plugin kind should be a string, got %s", data)
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k ItemKind) String() string {
	if str, ok := itemKindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_item_kind(%s)", string(k))
}

// ParseItemKind parses a backup item kind.
func ParseItemKind(s string) (ItemKind, error) {
	if k, ok := stringToItemKind[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("invalid item kind: %q. Must be 'file', 'directory', or 'registry'", s)
}

// MarshalJSON implements the json.Marshaler interface for ItemKind.
func (k ItemKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for ItemKind.
func (k *ItemKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("item kind should be a string, got %s", data)
	}
	parsed, err := ParseItemKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (s Strategy) String() string {
	if str, ok := strategyToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_strategy(%s)", string(s))
}

// ParseStrategy parses a detection strategy.
func ParseStrategy(s string) (Strategy, error) {
	if st, ok := stringToStrategy[s]; ok {
		return st, nil
	}
	return "", fmt.Errorf("invalid detection strategy: %q. Must be 'by-name', 'path-exists', or 'install-location-contains'", s)
}

// MarshalJSON implements the json.Marshaler interface for Strategy.
func (s Strategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
