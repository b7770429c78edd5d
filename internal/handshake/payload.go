package handshake

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wirePayload is the strict JSON shape carried by a HANDSHAKE-format
// message. Pointer fields distinguish "absent" from "zero value", the same
// distinction the original's hand-rolled extractor tracked with separate
// hasX booleans.
type wirePayload struct {
	DeviceID          *int64 `json:"deviceId,omitempty"`
	SpecialCode       *int64 `json:"specialCode,omitempty"`
	NewID             *int64 `json:"newId,omitempty"`
	FinalConfirmation *bool  `json:"finalConfirmation,omitempty"`
}

func decodeHandshakePayload(raw []byte) (*wirePayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var body wirePayload
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("handshake: malformed payload: %w", err)
	}
	if body.DeviceID == nil && body.SpecialCode == nil && body.NewID == nil {
		return nil, fmt.Errorf("handshake: payload carries none of deviceId/specialCode/newId")
	}
	return &body, nil
}

func encodeRequestPayload(deviceID, specialCode int64) []byte {
	return marshalOrPanic(wirePayload{DeviceID: &deviceID, SpecialCode: &specialCode})
}

func encodeResponsePayload(deviceID, specialCode, newID int64) []byte {
	return marshalOrPanic(wirePayload{DeviceID: &deviceID, SpecialCode: &specialCode, NewID: &newID})
}

func encodeFinalConfirmationPayload(deviceID, specialCode int64) []byte {
	final := true
	return marshalOrPanic(wirePayload{DeviceID: &deviceID, SpecialCode: &specialCode, FinalConfirmation: &final})
}

func marshalOrPanic(v wirePayload) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		panic("handshake: payload marshal failed: " + err.Error())
	}
	return out
}
