// Package message runs the send and receive pipelines over pairwise
// sessions.
//
// Sending never lets one recipient's failure block another: each recipient
// ends up in exactly one of Outcome.Success or Outcome.Failure, and only a
// failure of the batch post itself fails the call.
//
// Receiving is order sensitive. Events are sorted by their relay age before
// any is decrypted, since ratchet state only moves forward. Every decrypted
// payload must name the same identity key as its wrapper, the same sender
// as the transport and the local device as its recipient; anything else is
// dropped and logged. When one device sent several messages in a batch only
// the last survives.
package message
