package domain

import (
	interfaces "beacon/internal/domain/interfaces"
	types "beacon/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Recipient      = types.Recipient
	Fingerprint    = types.Fingerprint
	IdentityKeys   = types.IdentityKeys
	Signatures     = types.Signatures
	DeviceKeys     = types.DeviceKeys
	DeviceKeyMap   = types.DeviceKeyMap
	SignedKey      = types.SignedKey
	ClaimRequest   = types.ClaimRequest
	ClaimedKeys    = types.ClaimedKeys
	MessageType    = types.MessageType
	OlmMessage     = types.OlmMessage
	WireMessage    = types.WireMessage
	Payload        = types.Payload
	Event          = types.Event
	SyncResponse   = types.SyncResponse
	ContentMap     = types.ContentMap
	Failure        = types.Failure
	Outcome        = types.Outcome
	RatchetHeader  = types.RatchetHeader
	RatchetState   = types.RatchetState
	X25519Public   = types.X25519Public
	X25519Private  = types.X25519Private
	Ed25519Public  = types.Ed25519Public
	Ed25519Private = types.Ed25519Private
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Account     = interfaces.Account
	Session     = interfaces.Session
	Primitives  = interfaces.Primitives
	KeyServer   = interfaces.KeyServer
	Transport   = interfaces.Transport
	RelayClient = interfaces.RelayClient
	BlobStore   = interfaces.BlobStore
)

const (
	MessageTypePreKey   = types.MessageTypePreKey
	MessageTypeStandard = types.MessageTypeStandard

	AlgorithmCurve25519       = types.AlgorithmCurve25519
	AlgorithmEd25519          = types.AlgorithmEd25519
	AlgorithmSignedCurve25519 = types.AlgorithmSignedCurve25519
)

// Helper re-exports.
var (
	NewRecipient   = types.NewRecipient
	ParseRecipient = types.ParseRecipient
	KeyID          = types.KeyID
	SignedKeyID    = types.SignedKeyID
)
