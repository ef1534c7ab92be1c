package store

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Typed accessors store values in their textual form. Getters return def
// when the key is missing, the value does not parse, or the node is removed.

func (n *Node) getOr(key string) (string, bool) {
	v, ok, err := n.Get(key)
	if err != nil || !ok {
		return "", false
	}
	return v, true
}

// GetInt returns key parsed as an int.
func (n *Node) GetInt(key string, def int) int {
	if v, ok := n.getOr(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// PutInt stores value in decimal.
func (n *Node) PutInt(key string, value int) error {
	return n.Put(key, strconv.Itoa(value))
}

// GetInt64 returns key parsed as an int64.
func (n *Node) GetInt64(key string, def int64) int64 {
	if v, ok := n.getOr(key); ok {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

// PutInt64 stores value in decimal.
func (n *Node) PutInt64(key string, value int64) error {
	return n.Put(key, strconv.FormatInt(value, 10))
}

// GetBool accepts "true" and "false" in any case.
func (n *Node) GetBool(key string, def bool) bool {
	v, ok := n.getOr(key)
	if !ok {
		return def
	}
	switch {
	case strings.EqualFold(v, "true"):
		return true
	case strings.EqualFold(v, "false"):
		return false
	}
	return def
}

// PutBool stores "true" or "false".
func (n *Node) PutBool(key string, value bool) error {
	return n.Put(key, strconv.FormatBool(value))
}

// GetFloat64 returns key parsed as a 64-bit float.
func (n *Node) GetFloat64(key string, def float64) float64 {
	if v, ok := n.getOr(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// PutFloat64 stores value in the shortest form that parses back exactly.
func (n *Node) PutFloat64(key string, value float64) error {
	return n.Put(key, strconv.FormatFloat(value, 'g', -1, 64))
}

// GetBytes decodes a standard base64 value.
func (n *Node) GetBytes(key string, def []byte) []byte {
	if v, ok := n.getOr(key); ok {
		if b, err := base64.StdEncoding.DecodeString(v); err == nil {
			return b
		}
	}
	return def
}

// PutBytes stores value as standard base64. The encoded form must fit the
// value limit, so value may be at most three quarters of MaxValueLength.
func (n *Node) PutBytes(key string, value []byte) error {
	return n.Put(key, base64.StdEncoding.EncodeToString(value))
}
