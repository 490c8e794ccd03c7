package refimpl

import "crypto/ed25519"

// edPublicKey and ed25519PubFromCert exist so the handshake code can talk
// about "the Ed25519 key carried by a parsed certificate" without spelling
// out crypto/ed25519 at every call site.
type edPublicKey = ed25519.PublicKey

func ed25519PubFromCert(pub edPublicKey) ed25519.PublicKey { return pub }

func signWithKey(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

func verifySignature(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}
