package wire

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Wrapper is the { module, msg } envelope carrying every inter-peer
// application message, so a single WebRTC data channel can multiplex many
// logical modules (chat, ping, web-proxy, …). Per spec §6, msg is
// YAML-encoded; the module tag lets the receiver route to the right
// handler, and unwrapping a mismatched tag yields ok=false rather than an
// error, so a node can safely ignore modules it doesn't run.
type Wrapper struct {
	Module string `json:"module" yaml:"module"`
	Msg    []byte `json:"msg" yaml:"msg"`
}

// WrapYAML YAML-encodes payload and tags it with module.
func WrapYAML(module string, payload any) (Wrapper, error) {
	data, err := yaml.Marshal(payload)
	if err != nil {
		return Wrapper{}, fmt.Errorf("wire: marshal %s payload: %w", module, err)
	}
	return Wrapper{Module: module, Msg: data}, nil
}

// UnwrapYAML decodes w.Msg into out if w.Module matches module, returning
// ok=false (and no error) on a tag mismatch so callers can try the next
// module in a dispatch chain.
func UnwrapYAML(w Wrapper, module string, out any) (ok bool, err error) {
	if w.Module != module {
		return false, nil
	}
	if err := yaml.Unmarshal(w.Msg, out); err != nil {
		return true, fmt.Errorf("wire: unmarshal %s payload: %w", module, err)
	}
	return true, nil
}

// MarshalWrapper serialises a Wrapper itself to bytes for the data-channel
// transport the network façade sends it over.
func MarshalWrapper(w Wrapper) ([]byte, error) {
	data, err := yaml.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal wrapper: %w", err)
	}
	return data, nil
}

// UnmarshalWrapper parses bytes received over the data channel back into a
// Wrapper.
func UnmarshalWrapper(data []byte) (Wrapper, error) {
	var w Wrapper
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Wrapper{}, fmt.Errorf("wire: unmarshal wrapper: %w", err)
	}
	return w, nil
}
