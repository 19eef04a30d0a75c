// Package common contains shared constants and sentinel errors used across
// bagqueue components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// CodecName is the gRPC content-subtype under which the queue API
// messages are exchanged.
const CodecName = "json"

// Accepted upload extensions.
var UploadExtensions = []string{".bag", ".mcap"}
