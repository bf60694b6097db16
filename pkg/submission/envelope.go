package submission

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wavsnet/operator/pkg/digest"
	"github.com/wavsnet/operator/pkg/service"
)

// Envelope is the signed message submitted to the aggregator (spec
// §4.I / glossary: "the signed message (event_id, payload, signature)").
type Envelope struct {
	ServiceID     service.ID         `json:"service_id"`
	WorkflowID    service.WorkflowID `json:"workflow_id"`
	EventID       digest.Digest      `json:"event_id"`
	Payload       []byte             `json:"payload"`
	SignerHDIndex uint32             `json:"signer_hd_index"`
}

// signingBytes is the deterministic encoding an envelope's signature
// covers: (service_id, workflow_id, event_id, payload), excluding the
// signature itself.
func (e Envelope) signingBytes() ([]byte, error) {
	return json.Marshal(struct {
		ServiceID  service.ID         `json:"service_id"`
		WorkflowID service.WorkflowID `json:"workflow_id"`
		EventID    digest.Digest      `json:"event_id"`
		Payload    []byte             `json:"payload"`
	}{e.ServiceID, e.WorkflowID, e.EventID, e.Payload})
}

// SubmitRequest is the body POSTed to "{aggregator}/submit".
type SubmitRequest struct {
	Envelope  Envelope `json:"envelope"`
	Signature []byte   `json:"signature"`
	EventID   digest.Digest `json:"event_id"`
}

// BuildEnvelope signs msg with key and returns the request ready to
// POST. event_id is recomputed here rather than trusted from msg, since
// it must be reproducible by every honest operator.
func BuildEnvelope(msg service.ChainMessage, key *ecdsa.PrivateKey, hdIndex uint32) (SubmitRequest, error) {
	eventID, err := service.ComputeEventID(msg.TriggerData, msg.WasmResult.EventIDSalt)
	if err != nil {
		return SubmitRequest{}, fmt.Errorf("submission: compute event id: %w", err)
	}
	if !eventID.Equal(msg.EventID) {
		return SubmitRequest{}, fmt.Errorf("submission: event id mismatch: computed %s, message carried %s", eventID, msg.EventID)
	}

	env := Envelope{
		ServiceID:     msg.ServiceID,
		WorkflowID:    msg.WorkflowID,
		EventID:       eventID,
		Payload:       msg.WasmResult.Payload,
		SignerHDIndex: hdIndex,
	}
	signing, err := env.signingBytes()
	if err != nil {
		return SubmitRequest{}, fmt.Errorf("submission: encode signing bytes: %w", err)
	}
	digestToSign := crypto.Keccak256(signing)
	sig, err := crypto.Sign(digestToSign, key)
	if err != nil {
		return SubmitRequest{}, fmt.Errorf("submission: sign envelope: %w", err)
	}

	return SubmitRequest{Envelope: env, Signature: sig, EventID: eventID}, nil
}
