// Package control implements the request/reply control channel: JSON
// tagged-union messages from pages, handled against the live partition
// table.
package control

import (
	"encoding/json"

	"github.com/assetcache/assetcache/pkg/errors"
)

// MessageType discriminates the control message union.
type MessageType string

const (
	TypeCacheStatus   MessageType = "CACHE_STATUS"
	TypeClearCache    MessageType = "CLEAR_CACHE"
	TypePreloadModels MessageType = "PRELOAD_MODELS"
)

// Message is a decoded control message. The union currently carries no
// per-type payload beyond the discriminator.
type Message struct {
	Type MessageType `json:"type"`
}

// AckReply acknowledges a mutation message.
type AckReply struct {
	Success bool `json:"success"`
}

// DecodeMessage parses raw bytes into a control message. Unparseable
// input and missing or unrecognized discriminators are decode errors;
// transports drop such messages without replying.
func DecodeMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedMessage, "undecodable control message").
			WithComponent("control")
	}
	switch msg.Type {
	case TypeCacheStatus, TypeClearCache, TypePreloadModels:
		return &msg, nil
	case "":
		return nil, errors.NewError(errors.ErrCodeMalformedMessage, "control message missing type").
			WithComponent("control")
	default:
		return nil, errors.NewError(errors.ErrCodeUnknownMessage, "unrecognized control message type").
			WithComponent("control").
			WithContext("type", string(msg.Type))
	}
}
