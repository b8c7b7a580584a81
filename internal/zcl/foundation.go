package zcl

import "fmt"

// Foundation ZCL command IDs (global, not cluster-specific).
const (
	FoundationReadAttributes         uint8 = 0x00
	FoundationReadAttributesResponse uint8 = 0x01
	FoundationWriteAttributes        uint8 = 0x02
	FoundationWriteAttributesResp    uint8 = 0x04
	FoundationConfigReporting        uint8 = 0x06
	FoundationConfigReportingResp    uint8 = 0x07
	FoundationReportAttributes       uint8 = 0x0A
	FoundationDefaultResponse        uint8 = 0x0B
)

// ZCL status codes
const (
	ZCLStatusSuccess         uint8 = 0x00
	ZCLStatusFailure         uint8 = 0x01
	ZCLStatusUnsupportedAttr uint8 = 0x86
	ZCLStatusInvalidValue    uint8 = 0x87
	ZCLStatusReadOnly        uint8 = 0x88
	ZCLStatusNotFound        uint8 = 0x8B
	ZCLStatusUnreportable    uint8 = 0x8C
	ZCLStatusInvalidDataType uint8 = 0x8D
)

var statusNames = map[uint8]string{
	ZCLStatusSuccess:         "SUCCESS",
	ZCLStatusFailure:         "FAILURE",
	ZCLStatusUnsupportedAttr: "UNSUPPORTED_ATTRIBUTE",
	ZCLStatusInvalidValue:    "INVALID_VALUE",
	ZCLStatusReadOnly:        "READ_ONLY",
	ZCLStatusNotFound:        "NOT_FOUND",
	ZCLStatusUnreportable:    "UNREPORTABLE_ATTRIBUTE",
	ZCLStatusInvalidDataType: "INVALID_DATA_TYPE",
}

// StatusError is a non-success ZCL status returned by a device.
type StatusError struct {
	Attribute uint16
	Status    uint8
}

func (e *StatusError) Error() string {
	name, ok := statusNames[e.Status]
	if !ok {
		name = fmt.Sprintf("0x%02X", e.Status)
	}
	return fmt.Sprintf("zcl: attribute 0x%04X: status %s", e.Attribute, name)
}

// CheckStatus returns a *StatusError for any non-success status.
func CheckStatus(attr uint16, status uint8) error {
	if status == ZCLStatusSuccess {
		return nil
	}
	return &StatusError{Attribute: attr, Status: status}
}
