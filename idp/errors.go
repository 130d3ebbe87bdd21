package idp

import "errors"

var (
	// errShortRequest is returned by decodeEntry for a raw client request
	// under 2 bytes.
	errShortRequest = errors.New("idp: client request too short to decode")
	// errInvalidUTF8 is returned by decodeEntry when either half of a raw
	// client request is not valid UTF-8.
	errInvalidUTF8 = errors.New("idp: client request is not valid utf-8")
)
