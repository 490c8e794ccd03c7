package refimpl

import "fmt"

// Wire message types. Each datagram this implementation exchanges begins
// with one of these as its first byte, mirroring the fixed-offset
// hand-rolled framing a production DTLS record layer would use at a lower
// layer.
const (
	msgClientHello byte = iota + 1
	msgHelloVerify
	msgServerHello
	msgAlert
	msgAppData
)

const (
	nonceLength         = 32
	curvePublicKeyLen   = 32
	signatureLength     = 64 // ed25519.SignatureSize
	maxCookieLength     = 32
	maxCertLength       = 4096
	appDataNonceCounter = 8 // bytes of the 12-byte AEAD nonce used as a counter
)

var (
	errTruncated  = fmt.Errorf("refimpl: truncated message")
	errBadMessage = fmt.Errorf("refimpl: malformed message")
)

// clientHello carries the client's ephemeral key share, nonce, and (once
// issued) its echoed cookie.
type clientHello struct {
	cookie   []byte
	nonce    [nonceLength]byte
	curvePub [curvePublicKeyLen]byte
}

func (m clientHello) marshal() []byte {
	out := make([]byte, 0, 2+len(m.cookie)+nonceLength+curvePublicKeyLen)
	out = append(out, msgClientHello, byte(len(m.cookie)))
	out = append(out, m.cookie...)
	out = append(out, m.nonce[:]...)
	out = append(out, m.curvePub[:]...)
	return out
}

func parseClientHello(data []byte) (clientHello, error) {
	if len(data) < 2 {
		return clientHello{}, errTruncated
	}
	if data[0] != msgClientHello {
		return clientHello{}, errBadMessage
	}
	cookieLen := int(data[1])
	want := 2 + cookieLen + nonceLength + curvePublicKeyLen
	if len(data) != want {
		return clientHello{}, errTruncated
	}
	var m clientHello
	if cookieLen > 0 {
		m.cookie = append([]byte(nil), data[2:2+cookieLen]...)
	}
	off := 2 + cookieLen
	copy(m.nonce[:], data[off:off+nonceLength])
	off += nonceLength
	copy(m.curvePub[:], data[off:off+curvePublicKeyLen])
	return m, nil
}

// helloVerify carries the cookie the server wants the client to echo.
type helloVerify struct {
	cookie []byte
}

func (m helloVerify) marshal() []byte {
	out := make([]byte, 0, 2+len(m.cookie))
	out = append(out, msgHelloVerify, byte(len(m.cookie)))
	out = append(out, m.cookie...)
	return out
}

func parseHelloVerify(data []byte) (helloVerify, error) {
	if len(data) < 2 || data[0] != msgHelloVerify {
		return helloVerify{}, errBadMessage
	}
	cookieLen := int(data[1])
	if len(data) != 2+cookieLen {
		return helloVerify{}, errTruncated
	}
	return helloVerify{cookie: append([]byte(nil), data[2:2+cookieLen]...)}, nil
}

// serverHello carries the server's ephemeral key share, nonce, signature
// over the transcript, and DER certificate.
type serverHello struct {
	nonce     [nonceLength]byte
	curvePub  [curvePublicKeyLen]byte
	signature [signatureLength]byte
	certDER   []byte
}

func (m serverHello) marshal() []byte {
	out := make([]byte, 0, 1+nonceLength+curvePublicKeyLen+signatureLength+2+len(m.certDER))
	out = append(out, msgServerHello)
	out = append(out, m.nonce[:]...)
	out = append(out, m.curvePub[:]...)
	out = append(out, m.signature[:]...)
	out = append(out, byte(len(m.certDER)>>8), byte(len(m.certDER)))
	out = append(out, m.certDER...)
	return out
}

func parseServerHello(data []byte) (serverHello, error) {
	head := 1 + nonceLength + curvePublicKeyLen + signatureLength + 2
	if len(data) < head {
		return serverHello{}, errTruncated
	}
	if data[0] != msgServerHello {
		return serverHello{}, errBadMessage
	}
	var m serverHello
	off := 1
	copy(m.nonce[:], data[off:off+nonceLength])
	off += nonceLength
	copy(m.curvePub[:], data[off:off+curvePublicKeyLen])
	off += curvePublicKeyLen
	copy(m.signature[:], data[off:off+signatureLength])
	off += signatureLength
	certLen := int(data[off])<<8 | int(data[off+1])
	off += 2
	if certLen > maxCertLength || len(data) != off+certLen {
		return serverHello{}, errTruncated
	}
	if certLen > 0 {
		m.certDER = append([]byte(nil), data[off:off+certLen]...)
	}
	return m, nil
}

const (
	alertCloseNotify byte = 0
)

func marshalAlert(code byte) []byte {
	return []byte{msgAlert, code}
}

func parseAlert(data []byte) (byte, error) {
	if len(data) != 2 || data[0] != msgAlert {
		return 0, errBadMessage
	}
	return data[1], nil
}

func marshalAppData(counter uint64, ciphertext []byte) []byte {
	out := make([]byte, 0, 9+len(ciphertext))
	out = append(out, msgAppData)
	for i := 7; i >= 0; i-- {
		out = append(out, byte(counter>>(8*i)))
	}
	out = append(out, ciphertext...)
	return out
}

func parseAppData(data []byte) (counter uint64, ciphertext []byte, err error) {
	if len(data) < 9 || data[0] != msgAppData {
		return 0, nil, errBadMessage
	}
	for i := 0; i < 8; i++ {
		counter = counter<<8 | uint64(data[1+i])
	}
	return counter, data[9:], nil
}

// transcript builds the fixed byte sequence both sides sign/verify over:
// the two nonces and the two ephemeral public keys, in a canonical order.
func transcript(clientNonce, serverNonce [nonceLength]byte, clientPub, serverPub [curvePublicKeyLen]byte) []byte {
	out := make([]byte, 0, 2*nonceLength+2*curvePublicKeyLen)
	out = append(out, clientNonce[:]...)
	out = append(out, serverNonce[:]...)
	out = append(out, clientPub[:]...)
	out = append(out, serverPub[:]...)
	return out
}
