package rpc

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Address identifies the transport-level location of a peer that hosts an
// Endpoint: for a TCP/TLS transport that's host:port, for the local
// transport it's a listener name, never interpreted by this package.
type Address string

// Token is the 128-bit identifier of an Endpoint, unique within the process
// that created it for the lifetime of that process, analogous to the UID
// FoundationDB's flow runtime stamps every promise/future stream with.
type Token [16]byte

func NewToken() Token {
	var t Token
	id := uuid.New()
	copy(t[:], id[:])
	return t
}

// TokenFromHex parses the 32 hex characters produced by Token.String back
// into a Token, for pinning a well-known token as a source constant (e.g. a
// demo binary's fixed ping endpoint) rather than generating one at runtime.
// It panics on malformed input since callers only ever pass a literal.
func TokenFromHex(s string) Token {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		panic(fmt.Sprintf("rpc: invalid token hex %q", s))
	}
	var t Token
	copy(t[:], b)
	return t
}

func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

func (t Token) IsZero() bool {
	return t == Token{}
}

// TaskPriority is the scheduling priority a received request's handler
// should run at. It carries no scheduler in this implementation, just a
// plain ordering hint threaded through to whatever goroutine pool dispatches
// a Receiver's Receive method.
type TaskPriority int

const (
	TaskDefaultPriority TaskPriority = 0
	TaskReadSocket      TaskPriority = 100
	TaskWriteSocket     TaskPriority = 101
)

// Endpoint names a Receiver, either hosted locally (Locality == LocalityLocal,
// in which case dispatch is a direct function call) or on a remote peer
// (LocalityRemote, dispatch requires the transport to serialize a request and
// carry it to Address). The zero Endpoint (Locality == LocalityEmpty) names
// nothing and every operation on it is a programming error.
type Endpoint struct {
	token    Token
	locality Locality
	address  Address
}

type Locality int

const (
	LocalityEmpty Locality = iota
	LocalityLocal
	LocalityRemote
)

func LocalEndpoint(token Token) Endpoint {
	return Endpoint{token: token, locality: LocalityLocal}
}

func RemoteEndpoint(token Token, address Address) Endpoint {
	return Endpoint{token: token, locality: LocalityRemote, address: address}
}

func (e Endpoint) Token() Token       { return e.token }
func (e Endpoint) Locality() Locality { return e.locality }
func (e Endpoint) Address() Address   { return e.address }
func (e Endpoint) IsValid() bool      { return e.locality != LocalityEmpty }

// gobWireEndpoint mirrors Endpoint's fields as exported ones: Endpoint keeps
// its fields unexported to make the zero value and the constructors the only
// way to produce one, but that means gob (which only sees exported fields)
// needs an explicit encoding to carry an Endpoint across the wire, e.g. as
// the reply address embedded in a RequestStream's requestEnvelope.
type gobWireEndpoint struct {
	Token    Token
	Locality Locality
	Address  Address
}

func (e Endpoint) GobEncode() ([]byte, error) {
	return encodeValue(gobWireEndpoint{Token: e.token, Locality: e.locality, Address: e.address})
}

func (e *Endpoint) GobDecode(data []byte) error {
	var w gobWireEndpoint
	if err := decodeValue(data, &w); err != nil {
		return err
	}
	e.token = w.Token
	e.locality = w.Locality
	e.address = w.Address
	return nil
}

// endpointFromWire reinterprets a decoded Endpoint against the address the
// payload carrying it actually arrived from. An Endpoint's locality is
// sender-relative: whoever encoded e stamped LocalityLocal because e was
// local to them, but that makes it remote to whatever process just decoded
// it off the wire. Per spec.md's rule that a reply endpoint's address comes
// from the connection it arrived on, not from the bytes themselves, a
// decoded Local endpoint is rebuilt as RemoteEndpoint(e.Token(), fromAddress)
// before anything tries to send to it. A Remote or Empty endpoint was never
// ambiguous in this way and passes through unchanged.
func endpointFromWire(e Endpoint, fromAddress Address) Endpoint {
	if e.Locality() == LocalityLocal {
		return RemoteEndpoint(e.Token(), fromAddress)
	}
	return e
}

func (e Endpoint) String() string {
	switch e.locality {
	case LocalityEmpty:
		return "Endpoint(empty)"
	case LocalityLocal:
		return fmt.Sprintf("Endpoint(local,%s)", e.token)
	case LocalityRemote:
		return fmt.Sprintf("Endpoint(remote,%s,%s)", e.token, e.address)
	default:
		return fmt.Sprintf("Endpoint(?%d,%s)", e.locality, e.token)
	}
}
