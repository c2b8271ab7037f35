package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/felixgeelhaar/apl/domain/capability"
)

// hashed is the canonical hash input. encoding/json emits struct fields in
// declaration order, sorts map keys and adds no whitespace.
type hashed struct {
	Nodes              []Node              `json:"nodes"`
	Edges              []Edge              `json:"edges"`
	CapabilityManifest capability.Manifest `json:"capability_manifest"`
}

// Canonical returns the canonical serialization of the hashed content.
func (a *Artifact) Canonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(hashed{Nodes: a.Nodes, Edges: a.Edges, CapabilityManifest: a.CapabilityManifest}); err != nil {
		return nil, fmt.Errorf("canonicalize IR: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ComputeHash returns the hex SHA-256 digest of the canonical form.
func (a *Artifact) ComputeHash() (string, error) {
	data, err := a.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and records the hash.
func (a *Artifact) Seal() error {
	h, err := a.ComputeHash()
	if err != nil {
		return err
	}
	a.Hash = h
	return nil
}

// Verify recomputes the hash and compares it with the recorded one.
func (a *Artifact) Verify() error {
	h, err := a.ComputeHash()
	if err != nil {
		return err
	}
	if h != a.Hash {
		return &HashMismatchError{Recorded: a.Hash, Computed: h}
	}
	return nil
}

// Encode writes the artifact as indented JSON.
func Encode(w io.Writer, a *Artifact) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// Decode reads an artifact, checks its version, verifies its hash and
// validates its graph. Consumers must use Decode (or Verify) before
// executing an artifact they did not compile themselves.
func Decode(r io.Reader) (*Artifact, error) {
	var a Artifact
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidIR, err)
	}
	if major(a.IRVersion) != major(Version) {
		return nil, fmt.Errorf("%w: %q (supported %s)", ErrIncompatibleVersion, a.IRVersion, Version)
	}
	if err := a.Verify(); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func major(v string) string {
	m, _, _ := strings.Cut(v, ".")
	return m
}
