package event

// RedactForBroadcast returns a copy of evt safe to hand to clients. Hidden
// dealer draws keep the hidden flag but lose the card itself; every other
// event passes through unchanged. Callers redact at the read boundary so the
// journal keeps full fidelity for replay.
func RedactForBroadcast(evt Event) Event {
	if evt.Type != TypeDrawDealer {
		return evt
	}
	var payload DealerDrawPayload
	if err := UnmarshalPayload(evt, &payload); err != nil {
		return evt
	}
	if !payload.Hidden {
		return evt
	}
	redacted, err := MarshalPayload(DealerDrawPayload{Hidden: true})
	if err != nil {
		return evt
	}
	evt.PayloadJSON = redacted
	return evt
}
