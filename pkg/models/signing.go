package models

// SignedRequest is the computed signature envelope for one outbound
// request. It is never persisted: it exists only for the duration of a
// single call.
type SignedRequest struct {
	TimestampS      int64
	CanonicalPayload []byte
	Signature       string // base64 of HMAC-SHA256(sharedKey, "<ts>.<payload>")
}
